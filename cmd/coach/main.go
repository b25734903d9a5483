// Command coach is an interactive terminal client for the Amora relay. It
// drives the full conversation pipeline: websocket transport with
// reconnection, an optimistic session timeline, the in-memory cache, and the
// persistent store.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/amora-labs/amora/client/internal/cache"
	"github.com/amora-labs/amora/client/internal/config"
	"github.com/amora-labs/amora/client/internal/model/chat"
	"github.com/amora-labs/amora/client/internal/session"
	"github.com/amora-labs/amora/client/internal/store"
	"github.com/amora-labs/amora/client/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	userID := envOrDefault(os.Getenv("AMORA_USER_ID"), "local-user")
	assistantID := envOrDefault(os.Getenv("AMORA_COACH_ID"), "coach-amora")
	channelID := envOrDefault(os.Getenv("AMORA_CHANNEL_ID"), uuid.NewString())

	messageCache := cache.New(cache.Options{
		DefaultTTL:    cfg.Cache.DefaultTTL,
		MaxEntries:    cfg.Cache.MaxEntries,
		SweepInterval: cfg.Cache.SweepInterval,
	})
	defer messageCache.Close()

	persistent, err := store.Open(store.Config{
		Driver:        store.Driver(cfg.Store.Driver),
		SQLitePath:    cfg.Store.SQLitePath,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		PoolSize:      cfg.Store.PoolSize,
	})
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer persistent.Close()

	manager := transport.NewManager(transport.Options{
		URL:               cfg.Transport.URL,
		DialTimeout:       cfg.Transport.DialTimeout,
		PingInterval:      cfg.Transport.PingInterval,
		ReadTimeout:       cfg.Transport.ReadTimeout,
		WriteTimeout:      cfg.Transport.WriteTimeout,
		MaxRetries:        cfg.Transport.MaxRetries,
		ReconnectDelay:    cfg.Transport.ReconnectDelay,
		MaxReconnectDelay: cfg.Transport.MaxReconnect,
	})
	defer manager.Close()

	controller := session.NewController(manager, messageCache, persistent,
		func(notice string) { fmt.Printf("\n! %s\n> ", notice) },
		session.Options{
			ResponseTimeout: cfg.Session.ResponseTimeout,
			HistoryLimit:    cfg.Session.HistoryLimit,
			CacheTTL:        cfg.Session.CacheTTL,
		})

	if err := controller.Connect(ctx, userID, assistantID, channelID); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer controller.Disconnect()

	for _, msg := range controller.Messages() {
		printMessage(msg)
	}
	fmt.Printf("connected to %s as %s (channel %s)\n", cfg.Transport.URL, userID, channelID)
	fmt.Println("type a message and press enter; /quit exits")

	lines := make(chan string)
	go readLines(lines)

	seen := len(controller.Messages())
	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return
			}
			if line == "" {
				continue
			}
			if err := controller.SendMessage(line); err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			seen = waitForReply(ctx, controller, seen)
		}
	}
}

// waitForReply blocks until the pending response resolves, then prints any
// new messages. Resolution also covers timeouts and errors, which clear the
// awaiting flag without appending a message.
func waitForReply(ctx context.Context, controller *session.Controller, seen int) int {
	for controller.AwaitingResponse() {
		select {
		case <-ctx.Done():
			return seen
		case <-time.After(50 * time.Millisecond):
		}
	}
	msgs := controller.Messages()
	for _, msg := range msgs[min(seen, len(msgs)):] {
		printMessage(msg)
	}
	return len(msgs)
}

func printMessage(msg chat.Message) {
	prefix := "you"
	if msg.Sender == chat.SenderAI {
		prefix = "coach"
	}
	fmt.Printf("[%s] %s\n", prefix, msg.Content)
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
}

func envOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
