package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nimasrn/cod-ledger/internal/auth"
	"github.com/nimasrn/cod-ledger/internal/config"
	"github.com/nimasrn/cod-ledger/pkg/logger"
	"github.com/nimasrn/cod-ledger/pkg/pg"
)

// main.go --dir=./migrations
// main.go --issue-token --agent=42 --caps=cod:collect --ttl=12h
func main() {
	fs := flag.NewFlagSet("cli", flag.ContinueOnError)
	fs.String("env", "", "path to a .env file")
	dir := fs.String("dir", "./migrations", "migrations directory")
	issue := fs.Bool("issue-token", false, "print an access token instead of migrating")
	agent := fs.Int64("agent", 0, "agent id the token is issued for")
	caps := fs.String("caps", "cod:collect", "comma separated capabilities")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	envPath := config.EnvPathFromArgs(os.Args)
	if envPath == "" {
		if _, err := os.Stat(".env"); err == nil {
			envPath = ".env"
		}
	}
	cfg, err := config.Load(envPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if *issue {
		a, err := auth.NewAuthenticator(cfg.JwtSecret, cfg.JwtIssuer)
		if err != nil {
			logger.Error("failed to create authenticator", "error", err)
			os.Exit(1)
		}
		token, err := a.Issue(*agent, splitCaps(*caps), *ttl)
		if err != nil {
			logger.Error("failed to issue token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if _, err := os.Stat(*dir); err != nil {
		logger.Error("migration: directory not readable", "dir", *dir, "error", err)
		os.Exit(1)
	}
	if err := pg.Migrate(cfg.PostgresWrite(), *dir); err != nil {
		logger.Error("migration: error running migrations", "error", err)
		os.Exit(1)
	}
}

func splitCaps(raw string) []string {
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
