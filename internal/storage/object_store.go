package storage

import (
	"context"
	"errors"
	"io"
)

// ProgressFunc receives cumulative bytes transferred and the payload size.
type ProgressFunc func(bytesTransferred, totalBytes int64)

// ObjectStore uploads local files under a hierarchical remote path. Upload
// blocks until the transfer finishes; cancelling ctx aborts it. On success it
// returns a publicly resolvable URL for the object.
type ObjectStore interface {
	Upload(ctx context.Context, remotePath, localPath, contentType string, progress ProgressFunc) (string, error)
}

// ProgressReader reports cumulative reads and fails as soon as ctx is done.
// Seeking is passed through when the source supports it, which lets SDKs
// rewind the body for checksums or retries.
type ProgressReader struct {
	ctx      context.Context
	r        io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func NewProgressReader(ctx context.Context, r io.Reader, total int64, progress ProgressFunc) *ProgressReader {
	return &ProgressReader{ctx: ctx, r: r, total: total, progress: progress}
}

func (p *ProgressReader) Read(buf []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		if p.progress != nil {
			p.progress(p.read, p.total)
		}
	}
	return n, err
}

func (p *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	seeker, ok := p.r.(io.Seeker)
	if !ok {
		return 0, errors.New("progress reader: source is not seekable")
	}
	pos, err := seeker.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	p.read = pos
	return pos, nil
}
