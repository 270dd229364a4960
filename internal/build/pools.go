package build

import (
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// gzipPool reuses gzip writers across report sizing.
type gzipPool struct {
	pool sync.Pool
}

func newGzipPool(level int) *gzipPool {
	return &gzipPool{
		pool: sync.Pool{
			New: func() interface{} {
				zw, err := gzip.NewWriterLevel(io.Discard, level)
				if err != nil {
					return nil
				}
				return zw
			},
		},
	}
}

// Get returns a writer reset to write to w.
func (p *gzipPool) Get(w io.Writer) *gzip.Writer {
	zw, _ := p.pool.Get().(*gzip.Writer)
	if zw == nil {
		zw = gzip.NewWriter(w)
		return zw
	}
	zw.Reset(w)
	return zw
}

// Put returns zw to the pool. The writer must have been closed.
func (p *gzipPool) Put(zw *gzip.Writer) {
	if zw == nil {
		return
	}
	zw.Reset(io.Discard)
	p.pool.Put(zw)
}
