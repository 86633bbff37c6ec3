// Package main is the entry point for the ConnectHub chat load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - saturate: Connection saturation test
//   - chat:     Message exchange load test
//
// Both subcommands seed throwaway users and chats directly in Postgres and
// mint their own access tokens, so they need the server's database DSN and
// JWT secret in addition to the WebSocket URL.
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test: opens N idle subscribed connections")
	fmt.Println("  chat        Message exchange load test: user pairs trade messages over their chat")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
