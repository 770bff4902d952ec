package render

import (
	"image"
	"sync"
)

// Pool reuses layer scratch buffers. Buffers are grouped by size and are
// always handed out cleared.
type Pool struct {
	mu           sync.Mutex
	buckets      map[image.Point][]*image.RGBA
	maxPerBucket int
}

// NewPool keeps at most maxPerBucket idle buffers of each size; zero means
// no limit.
func NewPool(maxPerBucket int) *Pool {
	return &Pool{
		buckets:      make(map[image.Point][]*image.RGBA),
		maxPerBucket: maxPerBucket,
	}
}

// Get returns a transparent buffer of the given size.
func (p *Pool) Get(width, height int) *image.RGBA {
	key := image.Point{X: width, Y: height}

	p.mu.Lock()
	bucket := p.buckets[key]
	if n := len(bucket); n > 0 {
		buf := bucket[n-1]
		p.buckets[key] = bucket[:n-1]
		p.mu.Unlock()
		clear(buf.Pix)
		return buf
	}
	p.mu.Unlock()

	return image.NewRGBA(image.Rect(0, 0, width, height))
}

// Put hands buf back. Buffers beyond the bucket limit are dropped.
func (p *Pool) Put(buf *image.RGBA) {
	if buf == nil {
		return
	}
	clear(buf.Pix)
	key := buf.Rect.Size()

	p.mu.Lock()
	defer p.mu.Unlock()
	bucket := p.buckets[key]
	if p.maxPerBucket > 0 && len(bucket) >= p.maxPerBucket {
		return
	}
	p.buckets[key] = append(bucket, buf)
}

// Idle reports how many buffers are waiting in the pool.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, bucket := range p.buckets {
		n += len(bucket)
	}
	return n
}
