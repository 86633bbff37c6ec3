package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// pair is a seeded chat between two throwaway users.
type pair struct {
	userA  uuid.UUID
	userB  uuid.UUID
	chatID uuid.UUID
}

// seedPairs inserts n user pairs and a chat for each directly into Postgres.
// Seeded users carry a "loadtest-" tag prefix so they are easy to find and
// delete afterwards; deleting them cascades to their chats and messages.
func seedPairs(ctx context.Context, dsn string, n int) ([]pair, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	const insertUser = `
		INSERT INTO users (uuid, tag, name, email, password)
		VALUES ($1, $2, $3, $4, 'loadtest')`
	const insertChat = `
		INSERT INTO chats (id, user1_id, user2_id)
		VALUES ($1, $2, $3)`

	pairs := make([]pair, 0, n)
	for i := 0; i < n; i++ {
		a, b := uuid.New(), uuid.New()
		// Participants are stored in canonical byte order.
		if bytes.Compare(a[:], b[:]) > 0 {
			a, b = b, a
		}

		for _, id := range []uuid.UUID{a, b} {
			tag := fmt.Sprintf("loadtest-%s", id.String()[:8])
			email := fmt.Sprintf("%s@loadtest.invalid", tag)
			if _, err := db.ExecContext(ctx, insertUser, id, tag, tag, email); err != nil {
				return nil, fmt.Errorf("insert user: %w", err)
			}
		}

		chatID := uuid.New()
		if _, err := db.ExecContext(ctx, insertChat, chatID, a, b); err != nil {
			return nil, fmt.Errorf("insert chat: %w", err)
		}

		pairs = append(pairs, pair{userA: a, userB: b, chatID: chatID})
	}
	return pairs, nil
}

// mintToken signs a short-lived access token for the given user carrying the
// same claims the server verifies.
func mintToken(secret string, userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"type": "access",
		"sub":  userID.String(),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
