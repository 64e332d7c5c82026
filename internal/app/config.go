package app

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr          string
	WSPath        string
	DBPath        string
	UploadDir     string
	MaxFileSize   int64
	GracePeriod   time.Duration
	FlushInterval time.Duration
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string
	Email     string
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("STUDYCHAT_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("STUDYCHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "studychat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "studychat", "studychat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Studychat", "studychat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Studychat", "studychat.db")
		}
		return filepath.Join(home, ".local", "share", "studychat", "studychat.db")
	}
	return filepath.Join(".", ".studychat", "studychat.db")
}

// DefaultUploadDir returns where avatar uploads are stored.
func DefaultUploadDir() string {
	if env := os.Getenv("STUDYCHAT_UPLOAD_DIR"); env != "" {
		return env
	}
	return filepath.Join(filepath.Dir(DefaultDBPath()), "uploads")
}

// NormalizeWSPath guarantees the websocket path starts with '/' and falls
// back to /ws when empty.
func NormalizeWSPath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
