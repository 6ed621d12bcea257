package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmorgan81/liblibstudio/internal/log"
)

type UploadParams struct {
	Name        string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type Uploader interface {
	Upload(context.Context, UploadParams) error
}

// FileUploader writes uploads below Root. Names are cleaned so they cannot
// escape it.
type FileUploader struct {
	Root string
}

func (u *FileUploader) Upload(ctx context.Context, params UploadParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := sanitizeKey(params.Name)
	if err != nil {
		return err
	}

	path := filepath.Join(u.Root, filepath.FromSlash(name))
	log.FromContextOrDiscard(ctx).WithGroup("file").Info("writing", "file", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: ensure directory: %w", err)
	}
	if err := os.WriteFile(path, params.Data, 0o644); err != nil {
		return fmt.Errorf("store: write file: %w", err)
	}
	return nil
}

func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("store: invalid key")
	}
	return cleaned, nil
}
