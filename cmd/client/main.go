package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/vmelnikau/echolink/internal/client"
	"github.com/vmelnikau/echolink/internal/client/store"
)

// Config holds all environment-based configuration for the headless client.
type Config struct {
	// WebSocket endpoint of the server, e.g. ws://localhost:8080/ws.
	ServerURL string `env:"SERVER_URL,required"`

	// Either a token from a previous session, or username+password.
	Token    string `env:"TOKEN"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`

	// Register instead of logging in when no token is present.
	SignUp bool `env:"SIGN_UP" envDefault:"false"`

	StorePath string `env:"STORE_PATH" envDefault:"echolink.db"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Token == "" && (cfg.Username == "" || cfg.Password == "") {
		return errors.New("either TOKEN or USERNAME and PASSWORD must be set")
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer st.Close()

	conn, err := client.Dial(ctx, cfg.ServerURL, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	c := client.New(conn, st, logger)

	switch {
	case cfg.Token != "":
		err = c.Authenticate(ctx, cfg.Token)
	case cfg.SignUp:
		err = c.SignUp(ctx, cfg.Username, cfg.Password)
	default:
		err = c.LogIn(ctx, cfg.Username, cfg.Password)
	}
	if err != nil {
		return err
	}

	if err := c.SyncAll(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	// Keep a scrolling window over the most recent chat; live messages
	// land in it as they arrive.
	if chats, err := st.ListChats(); err == nil && len(chats) > 0 {
		hist, err := c.OpenHistory(chats[0].ChatID)
		if err != nil {
			return fmt.Errorf("opening chat history: %w", err)
		}
		logger.Info("opened most recent chat",
			slog.Uint64("chat_id", uint64(chats[0].ChatID)),
			slog.Int("visible", len(hist.Visible())))
	}
	logger.Info("replica up to date, listening")

	if err := c.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
