package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	intrnl "studychat/internal"
	"studychat/internal/storage"
)

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr      string
	server    *http.Server
	app       *intrnl.Server
	store     *storage.Store
	aggCancel context.CancelFunc
	done      chan struct{}
	err       error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer wires handlers, opens the SQLite store, runs migrations, starts
// the activity flusher, and serves in the background. Call Stop/Wait to
// manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	cfg.WSPath = NormalizeWSPath(cfg.WSPath)
	if cfg.UploadDir == "" {
		cfg.UploadDir = DefaultUploadDir()
	}

	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	server := intrnl.NewServer(store, cfg.UploadDir, cfg.MaxFileSize)
	if cfg.GracePeriod > 0 {
		server.SetGracePeriod(cfg.GracePeriod)
	}
	if cfg.FlushInterval > 0 {
		server.SetFlushInterval(cfg.FlushInterval)
	}

	mux := http.NewServeMux()
	registerHandlers(mux, cfg.WSPath, server)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	aggCtx, aggCancel := context.WithCancel(context.Background())
	go server.RunAggregator(aggCtx)

	handle := &ServerHandle{
		addr:      listener.Addr().String(),
		server:    httpServer,
		app:       server,
		store:     store,
		aggCancel: aggCancel,
		done:      make(chan struct{}),
	}

	go func() {
		if ctx == nil {
			return
		}
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	go handle.serve(listener)

	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	// flush accumulated activity and mark everyone offline before the
	// store goes away
	h.aggCancel()
	h.app.Shutdown()
	if err := h.store.Close(); err != nil {
		log.Printf("store close error: %v", err)
	}
	h.err = err
}

func registerHandlers(mux *http.ServeMux, wsPath string, server *intrnl.Server) {
	mux.HandleFunc(wsPath, server.ServeWS)
	mux.HandleFunc("/signup", server.HandleSignup)
	mux.HandleFunc("/login", server.HandleLogin)
	mux.HandleFunc("/logout", server.HandleLogout)
	mux.HandleFunc("/password/change", server.HandlePasswordChange)
	mux.HandleFunc("/me", server.HandleMe)
	mux.HandleFunc("/activity", server.HandleActivity)
	mux.HandleFunc("/friends", server.HandleFriends)
	mux.HandleFunc("/friend-requests", server.HandleFriendRequests)
	mux.HandleFunc("/friend-requests/", server.HandleFriendRequestAction)
	mux.HandleFunc("/conversations", server.HandleConversations)
	mux.HandleFunc("/conversations/", server.HandleConversation)
	mux.HandleFunc("/notes", server.HandleNotes)
	mux.HandleFunc("/notes/", server.HandleNote)
	mux.HandleFunc("/avatar", server.HandleAvatarUpload)
	mux.HandleFunc("/avatars/", server.HandleAvatarDownload)
	mux.Handle("/metrics", server.MetricsHandler())
}
