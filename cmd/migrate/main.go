package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/caarlos0/env/v9"
	"github.com/jackc/pgx/v5/pgxpool"

	"carewatch-backend/internal/config"
	"carewatch-backend/pkg/log"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding *.sql migrations")
	flag.Parse()

	var pg config.PostgresConfig
	if err := env.Parse(&pg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := log.Init(log.Config{Level: log.LevelInfo, Mode: log.ModeProduction, Encoding: log.EncodingJSON, Service: "carewatch-migrate"})
	defer func() { _ = logger.Sync() }()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, pg.DSN)
	if err != nil {
		logger.Fatalf(ctx, "migrate: connect: %v", err)
	}
	defer pool.Close()

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		logger.Fatalf(ctx, "migrate: list %s: %v", *dir, err)
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Fatalf(ctx, "migrate: read %s: %v", file, err)
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			logger.Fatalf(ctx, "migrate: apply %s: %v", file, err)
		}
		logger.Infof(ctx, "migrate: applied %s", file)
	}
}
