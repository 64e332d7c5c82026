package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studychat/internal/app"
)

func main() {
	addr := flag.String("addr", getEnv("STUDYCHAT_ADDR", ":8080"), "server listen address")
	wsPath := flag.String("ws-path", getEnv("STUDYCHAT_WS_PATH", "/ws"), "websocket path")
	db := flag.String("db", getEnv("STUDYCHAT_DB_PATH", ""), "sqlite database path")
	uploadDir := flag.String("upload-dir", getEnv("STUDYCHAT_UPLOAD_DIR", ""), "avatar upload directory")
	grace := flag.Duration("grace", 30*time.Second, "disconnect grace period before a user goes offline")
	flush := flag.Duration("flush", 5*time.Minute, "activity flush interval")
	flag.Parse()

	cfg := app.ServerConfig{
		Addr:          *addr,
		WSPath:        app.NormalizeWSPath(*wsPath),
		DBPath:        *db,
		UploadDir:     *uploadDir,
		GracePeriod:   *grace,
		FlushInterval: *flush,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = app.DefaultDBPath()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("StudyChat server listening on %s (ws path %s, db %s)", handle.Addr(), cfg.WSPath, cfg.DBPath)
	if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
