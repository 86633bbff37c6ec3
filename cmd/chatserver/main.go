// Command chatserver runs the ConnectHub chat backend: the WebSocket chat
// endpoint, the chat REST API, and the friendship-event consumer that creates
// chats when friend requests are accepted.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/connecthub/chat-app/internal/auth"
	"github.com/connecthub/chat-app/internal/chat"
	"github.com/connecthub/chat-app/internal/config"
	"github.com/connecthub/chat-app/internal/httpapi"
	"github.com/connecthub/chat-app/internal/messaging"
	"github.com/connecthub/chat-app/internal/metrics"
	"github.com/connecthub/chat-app/internal/moderation"
	"github.com/connecthub/chat-app/internal/mute"
	"github.com/connecthub/chat-app/internal/presence"
	"github.com/connecthub/chat-app/internal/ratelimit"
	"github.com/connecthub/chat-app/internal/registry"
	"github.com/connecthub/chat-app/internal/report"
	"github.com/connecthub/chat-app/internal/service"
	"github.com/connecthub/chat-app/internal/user"
	"github.com/connecthub/chat-app/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("loading configuration")
	}

	log := newLogger(cfg)

	// --- PostgreSQL ---
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("opening database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("pinging database")
	}
	defer db.Close()

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		log.WithError(err).Fatal("pinging redis")
	}
	defer redisClient.Close()

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsClient, err := messaging.NewClient(natsConfig, log)
	if err != nil {
		log.WithError(err).Fatal("connecting to nats")
	}
	defer natsClient.Close()

	serverName := cfg.ServerName
	if serverName == "" {
		serverName, _ = os.Hostname()
	}

	chatStore := chat.NewStore(db)
	userStore := user.NewStore(db)
	presenceStore := presence.NewStore(redisClient, serverName)
	limiter := ratelimit.NewLimiter(redisClient, log)
	muteStore := mute.NewStore(redisClient)
	tokens := auth.NewManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	chatService := service.New(chatStore, userStore, presenceStore, log)
	chatService.EnableAbuseReports(report.NewStore(db), muteStore)
	if cfg.ModerationEnabled {
		chatService.EnableModeration(moderation.NewFilter())
	}

	wsServer := ws.NewServer(ws.Options{
		Config: ws.Config{
			MaxConnections: cfg.MaxConnections,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
		},
		Registry: registry.New(),
		Chats:    chatService,
		Tokens:   tokens,
		Users:    userStore,
		Presence: presenceStore,
		Limiter:  limiter,
		Mutes:    muteStore,
		Log:      log,
	})

	// Chats come into existence when a friend request is accepted, announced
	// by the profile service over NATS.
	err = natsClient.SubscribeFriendshipAccepted(func(ev messaging.FriendshipAcceptedEvent) {
		userID, err := uuid.Parse(ev.UserID)
		if err != nil {
			log.WithField("user_id", ev.UserID).Warn("dropping friendship event with malformed user id")
			return
		}
		friendID, err := uuid.Parse(ev.FriendID)
		if err != nil {
			log.WithField("friend_id", ev.FriendID).Warn("dropping friendship event with malformed friend id")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		c, err := chatService.CreateChatForFriendship(ctx, userID, friendID)
		if err != nil {
			log.WithError(err).Error("creating chat for accepted friendship")
			return
		}

		if err := natsClient.PublishChatCreated(messaging.ChatCreatedEvent{
			ChatID:  c.ID.String(),
			User1ID: c.User1ID.String(),
			User2ID: c.User2ID.String(),
		}); err != nil {
			log.WithError(err).Warn("publishing chat.created")
		}
	})
	if err != nil {
		log.WithError(err).Fatal("subscribing to friendship events")
	}

	mux := http.NewServeMux()
	wsServer.Register(mux)
	httpapi.NewHandler(chatService, tokens, wsServer, log).Register(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
	}()

	log.WithFields(logrus.Fields{
		"listen_addr": cfg.ListenAddr,
		"server_name": serverName,
	}).Info("chat server starting")

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server error")
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
