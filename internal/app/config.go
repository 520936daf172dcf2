package app

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ServerConfig defines how the chat backend should run. Everything here comes
// from flags or the environment; the engine itself has no configuration logic.
type ServerConfig struct {
	Addr        string
	WSPath      string
	DBPath      string
	UploadDir   string
	MaxFileSize int64

	AuthLimit  int
	AuthWindow time.Duration
	TextLimit  int
	TextWindow time.Duration

	SweepInterval time.Duration
	IdleThreshold time.Duration
	UploadTTL     time.Duration
}

// DefaultServerConfig carries the reference policy values.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:          ":8080",
		WSPath:        "/ws",
		MaxFileSize:   10 * 1024 * 1024,
		AuthLimit:     5,
		AuthWindow:    time.Minute,
		TextLimit:     10,
		TextWindow:    time.Minute,
		SweepInterval: time.Minute,
		IdleThreshold: 5 * time.Minute,
		UploadTTL:     5 * time.Minute,
	}
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("ROOMCHAT_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("ROOMCHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "roomchat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "roomchat", "roomchat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Roomchat", "roomchat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Roomchat", "roomchat.db")
		}
		return filepath.Join(home, ".local", "share", "roomchat", "roomchat.db")
	}
	return filepath.Join(".", ".roomchat", "roomchat.db")
}

// DefaultUploadDir returns the directory reassembled uploads are written to.
func DefaultUploadDir() string {
	if env := os.Getenv("ROOMCHAT_UPLOAD_DIR"); env != "" {
		return env
	}
	return filepath.Join(filepath.Dir(DefaultDBPath()), "uploads")
}

// NormalizeWSPath guarantees the websocket path starts with '/' and falls back
// to /ws when empty.
func NormalizeWSPath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
