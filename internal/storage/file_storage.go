package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	errpkg "github.com/veranemoloko/segment-uploader/internal/errors"
)

// FileStorage is an ObjectStore that places objects under a local directory.
// It serves development setups where the directory is exposed by a static
// file server at baseURL.
type FileStorage struct {
	dir     string
	baseURL string
}

// NewFileStorage creates a new FileStorage with the given root directory. An
// empty baseURL makes Upload return file:// URLs.
func NewFileStorage(dir, baseURL string) *FileStorage {
	return &FileStorage{
		dir:     filepath.Clean(dir),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Upload copies localPath to remotePath. The object becomes visible only once
// fully written, so a retried upload overwrites the previous object cleanly.
func (s *FileStorage) Upload(ctx context.Context, remotePath, localPath, contentType string, progress ProgressFunc) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", classifyLocalError(err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", classifyLocalError(err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", errpkg.ErrInvalidInput, localPath)
	}

	target, err := s.objectPath(remotePath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	// Each attempt writes its own temp file, so an aborted attempt cleaning up
	// never touches the file of one that replaced it.
	dst, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.part")
	if err != nil {
		return "", fmt.Errorf("create object file: %w", err)
	}
	tempFile := dst.Name()
	if err := dst.Chmod(0o644); err != nil {
		dst.Close()
		os.Remove(tempFile)
		return "", fmt.Errorf("create object file: %w", err)
	}

	reader := NewProgressReader(ctx, src, info.Size(), progress)
	if _, err := io.Copy(dst, reader); err != nil {
		dst.Close()
		os.Remove(tempFile)
		return "", fmt.Errorf("copy object data: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("close object file: %w", err)
	}
	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("publish object file: %w", err)
	}

	return s.publicURL(remotePath, target), nil
}

// FileExists checks whether an object exists at remotePath.
func (s *FileStorage) FileExists(remotePath string) bool {
	target, err := s.objectPath(remotePath)
	if err != nil {
		return false
	}
	_, err = os.Stat(target)
	return err == nil
}

func (s *FileStorage) objectPath(remotePath string) (string, error) {
	clean := path.Clean("/" + remotePath)
	if clean == "/" {
		return "", fmt.Errorf("%w: empty remote path", errpkg.ErrInvalidInput)
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}

func (s *FileStorage) publicURL(remotePath, target string) string {
	if s.baseURL == "" {
		abs, err := filepath.Abs(target)
		if err != nil {
			abs = target
		}
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}
	return s.baseURL + "/" + strings.TrimLeft(remotePath, "/")
}

func classifyLocalError(err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %w", errpkg.ErrInvalidInput, err)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %w", errpkg.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("open local payload: %w", err)
	}
}
