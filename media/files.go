package media

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const fileScheme = "file://"

// FileStore keeps decrypted media on local disk, one file per message.
type FileStore struct {
	dir string
}

// NewFileStore creates the media directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("media directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func extensionFor(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

// Save writes media bytes and returns the message data reference for them.
func (f *FileStore) Save(messageID int64, mimeType string, data []byte) (string, error) {
	name := strconv.FormatInt(messageID, 10) + extensionFor(mimeType)
	path := filepath.Join(f.dir, name)

	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write media %d: %w", messageID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize media %d: %w", messageID, err)
	}
	return fileScheme + filepath.ToSlash(path), nil
}

// Load reads media referenced by a message data value.
func (f *FileStore) Load(ref string) ([]byte, error) {
	if !IsLocalRef(ref) {
		return nil, fmt.Errorf("not a local media reference: %q", ref)
	}
	data, err := os.ReadFile(filepath.FromSlash(strings.TrimPrefix(ref, fileScheme)))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	return data, nil
}

// IsLocalRef reports whether ref points at a downloaded media file.
func IsLocalRef(ref string) bool {
	return strings.HasPrefix(ref, fileScheme)
}
