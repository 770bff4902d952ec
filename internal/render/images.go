package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/golang/glog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var ErrBadDataURL = errors.New("malformed data url")

type imageEntry struct {
	img    image.Image
	failed bool
}

// ImageCache decodes image payloads once per object id. Decoding runs in
// the background; when it finishes the ready callback fires exactly once
// for that id. Results for ids evicted in the meantime are discarded.
type ImageCache struct {
	mu      sync.Mutex
	entries map[string]*imageEntry
	onReady func(id string)
	decode  func(src string) (image.Image, error)
	wg      sync.WaitGroup
}

func NewImageCache(onReady func(id string)) *ImageCache {
	return &ImageCache{
		entries: make(map[string]*imageEntry),
		onReady: onReady,
		decode:  DecodeSource,
	}
}

// Lookup returns the decoded image for id. On the first reference it
// starts decoding src and returns false; pending and failed decodes also
// return false.
func (c *ImageCache) Lookup(id, src string) (image.Image, bool) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok {
		c.mu.Unlock()
		return e.img, e.img != nil
	}
	e = &imageEntry{}
	c.entries[id] = e
	c.wg.Add(1)
	c.mu.Unlock()

	go c.load(id, src, e)
	return nil, false
}

func (c *ImageCache) load(id, src string, e *imageEntry) {
	defer c.wg.Done()
	img, err := c.decode(src)

	c.mu.Lock()
	current := c.entries[id] == e
	if current {
		if err != nil {
			e.failed = true
		} else {
			e.img = img
		}
	}
	onReady := c.onReady
	c.mu.Unlock()

	if err != nil {
		glog.Infof("[render] image %s will not be drawn: %s\n", id, err)
		return
	}
	if current && onReady != nil {
		onReady(id)
	}
}

// Evict forgets id. A decode still running for it is discarded.
func (c *ImageCache) Evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Retain evicts every entry whose id is not in live.
func (c *ImageCache) Retain(live map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		if !live[id] {
			delete(c.entries, id)
		}
	}
}

func (c *ImageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Wait blocks until every decode started so far has finished.
func (c *ImageCache) Wait() {
	c.wg.Wait()
}

// DecodeSource decodes an image payload: a data URL, or a local file path
// for documents produced outside the board.
func DecodeSource(src string) (image.Image, error) {
	var data []byte
	if strings.HasPrefix(src, "data:") {
		var err error
		if data, err = parseDataURL(src); err != nil {
			return nil, err
		}
	} else {
		var err error
		if data, err = os.ReadFile(src); err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func parseDataURL(src string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return nil, ErrBadDataURL
	}
	if strings.HasSuffix(header, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadDataURL, err)
		}
		return data, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDataURL, err)
	}
	return []byte(text), nil
}

// DataURL embeds an encoded image as a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
