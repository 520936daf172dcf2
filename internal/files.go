package internal

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const downloadPrefix = "/files/"

// BlobStore writes reassembled uploads to disk and serves them back over HTTP.
// Stored names are upload-id-prefixed so concurrent uploads of the same file
// name cannot collide.
type BlobStore struct {
	dir string
}

func NewBlobStore(dir string) (*BlobStore, error) {
	if dir == "" {
		return nil, errors.New("blob directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	// absolute so the traversal check in HandleDownload compares like with like
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve blob directory: %w", err)
	}
	return &BlobStore{dir: abs}, nil
}

// Save writes data under an upload-id-prefixed name and returns the URL path
// the file is served from.
func (b *BlobStore) Save(uploadID, fileName string, data []byte) (string, error) {
	name := sanitizePathComponent(uploadID) + "-" + sanitizePathComponent(filepath.Base(fileName))
	path := filepath.Join(b.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return downloadPrefix + name, nil
}

// HandleDownload serves stored blobs at /files/{name} as attachments.
func (b *BlobStore) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, downloadPrefix)
	if name == "" {
		http.Error(w, "file name required", http.StatusBadRequest)
		return
	}
	path := filepath.Join(b.dir, filepath.Base(name))
	absPath, err := filepath.Abs(path)
	if err != nil || !strings.HasPrefix(absPath, filepath.Clean(b.dir)) {
		http.Error(w, "invalid file path", http.StatusForbidden)
		return
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
		} else {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, name, stat.ModTime(), file)
}

// sanitizePathComponent removes path separators and null bytes from a single
// path component.
func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
