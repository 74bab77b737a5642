package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	errpkg "github.com/veranemoloko/segment-uploader/internal/errors"
)

func makeTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "filestorage_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

func writeSource(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	return p
}

func TestFileStorage_UploadAndProgress(t *testing.T) {
	src := makeTempDir(t)
	root := makeTempDir(t)
	fs := NewFileStorage(root, "https://cdn.example.com/")

	data := bytes.Repeat([]byte("x"), 100*1024)
	local := writeSource(t, src, "seg.mp4", data)

	var last, total int64
	calls := 0
	url, err := fs.Upload(context.Background(), "users/u/groups/g/segments/s/video.mp4", local, "video/mp4",
		func(done, size int64) {
			if done < last {
				t.Errorf("progress went backwards: %d after %d", done, last)
			}
			last, total = done, size
			calls++
		})
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}

	if url != "https://cdn.example.com/users/u/groups/g/segments/s/video.mp4" {
		t.Errorf("unexpected url %q", url)
	}
	if calls == 0 {
		t.Errorf("expected progress callbacks")
	}
	if last != int64(len(data)) || total != int64(len(data)) {
		t.Errorf("expected final progress %d/%d, got %d/%d", len(data), len(data), last, total)
	}
	if !fs.FileExists("users/u/groups/g/segments/s/video.mp4") {
		t.Errorf("expected object to exist")
	}

	got, err := os.ReadFile(filepath.Join(root, "users/u/groups/g/segments/s/video.mp4"))
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("object content mismatch")
	}
}

func TestFileStorage_OverwriteOnRetry(t *testing.T) {
	src := makeTempDir(t)
	root := makeTempDir(t)
	fs := NewFileStorage(root, "")

	first := writeSource(t, src, "a.mp4", []byte("first attempt"))
	second := writeSource(t, src, "b.mp4", []byte("second"))

	if _, err := fs.Upload(context.Background(), "k/video.mp4", first, "video/mp4", nil); err != nil {
		t.Fatalf("first Upload error: %v", err)
	}
	url, err := fs.Upload(context.Background(), "k/video.mp4", second, "video/mp4", nil)
	if err != nil {
		t.Fatalf("second Upload error: %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("expected file url, got %q", url)
	}

	got, _ := os.ReadFile(filepath.Join(root, "k", "video.mp4"))
	if string(got) != "second" {
		t.Errorf("expected overwritten content, got %q", got)
	}
	assertNoPartialFiles(t, filepath.Join(root, "k"))
}

func TestFileStorage_MissingSourceIsInvalidInput(t *testing.T) {
	fs := NewFileStorage(makeTempDir(t), "")

	_, err := fs.Upload(context.Background(), "k/video.mp4", "/no/such/file.mp4", "video/mp4", nil)
	if err == nil {
		t.Fatalf("expected error for missing source")
	}
	if !errors.Is(err, errpkg.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFileStorage_CancelledContext(t *testing.T) {
	src := makeTempDir(t)
	root := makeTempDir(t)
	fs := NewFileStorage(root, "")
	local := writeSource(t, src, "seg.mp4", []byte("payload"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := fs.Upload(ctx, "k/video.mp4", local, "video/mp4", nil); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	if fs.FileExists("k/video.mp4") {
		t.Errorf("expected no object after cancelled upload")
	}
}

func assertNoPartialFiles(t *testing.T, dir string) {
	t.Helper()
	parts, err := filepath.Glob(filepath.Join(dir, "*.part"))
	if err != nil {
		t.Fatalf("Glob error: %v", err)
	}
	if len(parts) != 0 {
		t.Errorf("expected no partial objects left behind, got %v", parts)
	}
}

func TestFileStorage_AbortedAttemptDoesNotBreakReplacement(t *testing.T) {
	src := makeTempDir(t)
	root := makeTempDir(t)
	fs := NewFileStorage(root, "")

	aborted := writeSource(t, src, "a.mp4", bytes.Repeat([]byte("a"), 512*1024))
	replacement := writeSource(t, src, "b.mp4", bytes.Repeat([]byte("b"), 256*1024))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secondStarted := make(chan struct{})
	releaseSecond := make(chan struct{})
	secondDone := make(chan error, 1)

	var once sync.Once
	_, err := fs.Upload(ctx, "p/video.mp4", aborted, "video/mp4", func(done, total int64) {
		once.Do(func() {
			// Start the replacement and park it mid-copy, then abort this one.
			go func() {
				var parked sync.Once
				_, err := fs.Upload(context.Background(), "p/video.mp4", replacement, "video/mp4", func(int64, int64) {
					parked.Do(func() {
						close(secondStarted)
						<-releaseSecond
					})
				})
				secondDone <- err
			}()
			<-secondStarted
			cancel()
		})
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected aborted upload to fail with context.Canceled, got %v", err)
	}

	close(releaseSecond)
	if err := <-secondDone; err != nil {
		t.Fatalf("replacement Upload error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "p", "video.mp4"))
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte("b"), 256*1024)) {
		t.Errorf("expected the replacement content to be published")
	}
	assertNoPartialFiles(t, filepath.Join(root, "p"))
}
