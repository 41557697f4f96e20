package progress

import (
	"io"
	"sync/atomic"
)

// Reader wraps an io.Reader and keeps a running total of bytes read that can
// be polled from other goroutines.
type Reader struct {
	Reader     io.Reader
	Total      int64 // expected size, -1 when unknown
	OnProgress func(read int64, total int64)

	read atomic.Int64
}

func NewReader(r io.Reader, total int64, cb func(read int64, total int64)) *Reader {
	return &Reader{
		Reader:     r,
		Total:      total,
		OnProgress: cb,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		read := pr.read.Add(int64(n))
		if pr.OnProgress != nil {
			pr.OnProgress(read, pr.Total)
		}
	}

	return n, err
}

// BytesRead returns the cumulative number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read.Load()
}
