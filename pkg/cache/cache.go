// Package cache defines the Cache collaborator consulted by the cache
// interceptor, plus a bounded in-memory default implementation.
package cache

import (
	"container/list"
	"sync"

	"github.com/go-httpcore/httpcore/pkg/buffer"
	"github.com/go-httpcore/httpcore/pkg/message"
)

// BodyEditor receives a response body as it is written back to the caller
// and is committed to the cache once the body is fully read, or aborted on
// any read error or early close.
type BodyEditor interface {
	Write(p []byte) (int, error)
	Commit() error
	Abort() error
}

// Cache is the storage collaborator for cached responses. Implementations
// own eviction policy; spec.md leaves storage format out of scope, only the
// contract is specified.
type Cache interface {
	// Get returns a stored Response for req, or nil on a cache miss.
	Get(req *message.Request) *message.Response
	// Put begins storing resp's body as it streams past the cache
	// interceptor, returning an editor the interceptor writes through.
	Put(resp *message.Response) BodyEditor
	// Remove evicts any cached entry for req (used on POST/PUT/DELETE
	// invalidation and on explicit eviction).
	Remove(req *message.Request)
}

func cacheKey(req *message.Request) string {
	return req.Method() + " " + req.URL().String()
}

type entry struct {
	key      string
	response *message.Response
	body     *buffer.Buffer
	size     int64
}

// MemoryCache is a bounded, LRU-by-byte-size Cache backed by
// pkg/buffer.Buffer, spilling large bodies to disk past its per-entry
// memory limit the same way buffer.Buffer does for response bodies
// elsewhere in the transport.
type MemoryCache struct {
	mu          sync.Mutex
	maxBytes    int64
	curBytes    int64
	entryMemCap int64
	ll          *list.List
	items       map[string]*list.Element
}

// NewMemoryCache constructs a cache bounded to maxBytes total, spilling
// any individual entry past entryMemCap to disk.
func NewMemoryCache(maxBytes, entryMemCap int64) *MemoryCache {
	return &MemoryCache{
		maxBytes:    maxBytes,
		entryMemCap: entryMemCap,
		ll:          list.New(),
		items:       make(map[string]*list.Element),
	}
}

func (c *MemoryCache) Get(req *message.Request) *message.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[cacheKey(req)]
	if !ok {
		return nil
	}
	c.ll.MoveToFront(el)
	e := el.Value.(*entry)
	r, err := e.body.Reader()
	if err != nil {
		return nil
	}
	body := message.NewResponseBody(r, e.response.Header("Content-Type"), e.body.Size())
	return message.FromResponse(e.response).
		CacheResponse(e.response).
		Body(body).
		Build()
}

func (c *MemoryCache) Put(resp *message.Response) BodyEditor {
	return &memoryEditor{cache: c, key: cacheKey(resp.Request()), response: resp, buf: buffer.New(c.entryMemCap)}
}

func (c *MemoryCache) Remove(req *message.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(cacheKey(req))
}

func (c *MemoryCache) removeLocked(key string) {
	el, ok := c.items[key]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	c.curBytes -= e.size
	e.body.Close()
	c.ll.Remove(el)
	delete(c.items, key)
}

func (c *MemoryCache) commit(key string, response *message.Response, buf *buffer.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(key)
	size := buf.Size()
	el := c.ll.PushFront(&entry{key: key, response: response, body: buf, size: size})
	c.items[key] = el
	c.curBytes += size

	for c.curBytes > c.maxBytes && c.ll.Len() > 0 {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.removeLocked(back.Value.(*entry).key)
	}
}

type memoryEditor struct {
	cache    *MemoryCache
	key      string
	response *message.Response
	buf      *buffer.Buffer
}

func (e *memoryEditor) Write(p []byte) (int, error) { return e.buf.Write(p) }

func (e *memoryEditor) Commit() error {
	e.cache.commit(e.key, e.response, e.buf)
	return nil
}

func (e *memoryEditor) Abort() error {
	return e.buf.Close()
}
