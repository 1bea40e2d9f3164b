package main

import (
	"fmt"
	"os"

	cardlink "github.com/cardlink/cardlink-go"
	"go.uber.org/zap"
)

// newAPIClient builds an authenticated REST client from the saved config.
func newAPIClient() (*cardlink.Client, *Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Auth.Token == "" {
		return nil, nil, fmt.Errorf("no token configured; run: cardlink config set auth.token <token>")
	}
	opts := []cardlink.ClientOption{}
	if cfg.API.BaseURL != "" {
		opts = append(opts, cardlink.WithBaseURL(cfg.API.BaseURL))
	}
	return cardlink.NewClient(cfg.Auth.Token, opts...), cfg, nil
}

// newLogger builds a development logger when CARDLINK_DEBUG is set, a no-op
// logger otherwise.
func newLogger() *zap.Logger {
	if os.Getenv("CARDLINK_DEBUG") == "" {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// fatal prints the error and exits non-zero.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
