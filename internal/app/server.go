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

	intrnl "roomchat/internal"
	"roomchat/internal/storage"
)

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr        string
	server      *http.Server
	store       *storage.Store
	sweepCancel context.CancelFunc
	done        chan struct{}
	err         error
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
	h.sweepCancel()
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

// RunServer wires the engine together: opens the SQLite store, runs the
// migrations (which seed the general room), starts the idle sweeper, and
// serves in the background. Call Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	cfg.WSPath = NormalizeWSPath(cfg.WSPath)
	if cfg.UploadDir == "" {
		cfg.UploadDir = DefaultUploadDir()
	}
	defaults := DefaultServerConfig()
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = defaults.MaxFileSize
	}
	if cfg.AuthLimit == 0 {
		cfg.AuthLimit = defaults.AuthLimit
	}
	if cfg.AuthWindow == 0 {
		cfg.AuthWindow = defaults.AuthWindow
	}
	if cfg.TextLimit == 0 {
		cfg.TextLimit = defaults.TextLimit
	}
	if cfg.TextWindow == 0 {
		cfg.TextWindow = defaults.TextWindow
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.IdleThreshold == 0 {
		cfg.IdleThreshold = defaults.IdleThreshold
	}
	if cfg.UploadTTL == 0 {
		cfg.UploadTTL = defaults.UploadTTL
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

	blobs, err := intrnl.NewBlobStore(cfg.UploadDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	server := intrnl.NewServer(store, blobs, intrnl.Options{
		AuthLimit:   cfg.AuthLimit,
		AuthWindow:  cfg.AuthWindow,
		TextLimit:   cfg.TextLimit,
		TextWindow:  cfg.TextWindow,
		MaxFileSize: cfg.MaxFileSize,
		MaxChunks:   1024,
	})

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WSPath, server.ServeWS)
	mux.HandleFunc("/files/", blobs.HandleDownload)
	mux.Handle("/metrics", server.MetricsHandler())
	mux.HandleFunc("/healthz", intrnl.HandleHealthz)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go server.RunSweeper(sweepCtx, cfg.SweepInterval, cfg.IdleThreshold, cfg.UploadTTL)

	handle := &ServerHandle{
		addr:        listener.Addr().String(),
		server:      httpServer,
		store:       store,
		sweepCancel: sweepCancel,
		done:        make(chan struct{}),
	}

	go func() {
		if ctx == nil {
			return
		}
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sweepCancel()
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
	if closeErr := h.store.Close(); closeErr != nil {
		log.Printf("store close error: %v", closeErr)
	}
	h.err = err
}
