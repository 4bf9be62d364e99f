package bufferpool

import (
	"errors"
	"sync"

	"github.com/Blackdeer1524/StorageCore/src/pkg/assert"
	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
)

var ErrNoVictimAvailable = errors.New("no victim available")

const noFrame = -1

type frameInfo struct {
	pIdent common.PageIdentity
	page   common.Page

	// recency list links; prev points towards the most recently used frame
	prev int
	next int
}

// PageCache is a bounded map from page identity to page that tracks
// recency. Only clean pages are ever evicted (NO-STEAL). Frames live in a
// preallocated arena and are linked by index.
type PageCache struct {
	mu sync.Mutex

	capacity    int
	pageTable   map[common.PageIdentity]int
	frames      []frameInfo
	emptyFrames []int

	// head is the most recently used frame, tail the least recently used
	head int
	tail int
}

func NewPageCache(capacity int) *PageCache {
	assert.Assert(capacity > 0, "page cache capacity must be positive, got %d", capacity)

	emptyFrames := make([]int, capacity)
	for i := range capacity {
		emptyFrames[i] = capacity - 1 - i
	}

	return &PageCache{
		capacity:    capacity,
		pageTable:   make(map[common.PageIdentity]int, capacity),
		frames:      make([]frameInfo, capacity),
		emptyFrames: emptyFrames,
		head:        noFrame,
		tail:        noFrame,
	}
}

func (c *PageCache) Capacity() int {
	return c.capacity
}

func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pageTable)
}

func (c *PageCache) Contains(pIdent common.PageIdentity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.pageTable[pIdent]
	return ok
}

// Get returns the cached page and marks it most recently used.
func (c *PageCache) Get(pIdent common.PageIdentity) (common.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frameID, ok := c.pageTable[pIdent]
	if !ok {
		return nil, false
	}
	c.moveToFront(frameID)
	return c.frames[frameID].page, true
}

// Peek is Get without touching recency.
func (c *PageCache) Peek(pIdent common.PageIdentity) (common.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frameID, ok := c.pageTable[pIdent]
	if !ok {
		return nil, false
	}
	return c.frames[frameID].page, true
}

// Put stores pg under its identity. An already resident entry is replaced
// in place. When the cache is full the least recently used clean page is
// evicted first; if there is none the cache is left untouched and
// ErrNoVictimAvailable is returned.
func (c *PageCache) Put(pg common.Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pIdent := pg.ID()
	if frameID, ok := c.pageTable[pIdent]; ok {
		c.frames[frameID].page = pg
		c.moveToFront(frameID)
		return nil
	}

	if len(c.emptyFrames) == 0 {
		if _, err := c.evictAssumeLocked(nil); err != nil {
			return err
		}
	}
	c.insertAssumeLocked(pg)
	return nil
}

// PutAll stores every page or none of them. Pages already resident are
// refreshed and never chosen as victims for the others.
func (c *PageCache) PutAll(pages []common.Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	incoming := make(map[common.PageIdentity]struct{}, len(pages))
	newPages := 0
	for _, pg := range pages {
		pIdent := pg.ID()
		if _, ok := incoming[pIdent]; ok {
			continue
		}
		incoming[pIdent] = struct{}{}
		if _, ok := c.pageTable[pIdent]; !ok {
			newPages++
		}
	}

	toEvict := newPages - len(c.emptyFrames)
	if toEvict > 0 && c.countVictimsAssumeLocked(incoming) < toEvict {
		return ErrNoVictimAvailable
	}

	for range max(toEvict, 0) {
		_, err := c.evictAssumeLocked(incoming)
		assert.Assert(err == nil, "victim disappeared while holding the cache lock")
	}

	for _, pg := range pages {
		if frameID, ok := c.pageTable[pg.ID()]; ok {
			c.frames[frameID].page = pg
			c.moveToFront(frameID)
			continue
		}
		c.insertAssumeLocked(pg)
	}
	return nil
}

// Remove drops the page without writing it anywhere.
func (c *PageCache) Remove(pIdent common.PageIdentity) (common.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frameID, ok := c.pageTable[pIdent]
	if !ok {
		return nil, false
	}
	pg := c.frames[frameID].page
	c.removeFrame(frameID)
	return pg, true
}

// EvictPage removes and returns the least recently used clean page.
func (c *PageCache) EvictPage() (common.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.evictAssumeLocked(nil)
}

// Keys lists resident pages from the most to the least recently used.
func (c *PageCache) Keys() []common.PageIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]common.PageIdentity, 0, len(c.pageTable))
	for frameID := c.head; frameID != noFrame; frameID = c.frames[frameID].next {
		keys = append(keys, c.frames[frameID].pIdent)
	}
	return keys
}

func isClean(pg common.Page) bool {
	_, dirty := pg.IsDirty()
	return !dirty
}

func (c *PageCache) countVictimsAssumeLocked(skip map[common.PageIdentity]struct{}) int {
	count := 0
	for frameID := c.tail; frameID != noFrame; frameID = c.frames[frameID].prev {
		frame := &c.frames[frameID]
		if _, ok := skip[frame.pIdent]; ok {
			continue
		}
		if isClean(frame.page) {
			count++
		}
	}
	return count
}

func (c *PageCache) evictAssumeLocked(skip map[common.PageIdentity]struct{}) (common.Page, error) {
	for frameID := c.tail; frameID != noFrame; frameID = c.frames[frameID].prev {
		frame := &c.frames[frameID]
		if _, ok := skip[frame.pIdent]; ok {
			continue
		}
		if !isClean(frame.page) {
			continue
		}

		pg := frame.page
		c.removeFrame(frameID)
		return pg, nil
	}
	return nil, ErrNoVictimAvailable
}

func (c *PageCache) insertAssumeLocked(pg common.Page) {
	assert.Assert(len(c.emptyFrames) > 0, "no empty frame to insert %v into", pg.ID())

	frameID := c.emptyFrames[len(c.emptyFrames)-1]
	c.emptyFrames = c.emptyFrames[:len(c.emptyFrames)-1]

	c.frames[frameID] = frameInfo{
		pIdent: pg.ID(),
		page:   pg,
		prev:   noFrame,
		next:   noFrame,
	}
	c.pageTable[pg.ID()] = frameID
	c.pushFront(frameID)
}

func (c *PageCache) removeFrame(frameID int) {
	c.unlink(frameID)
	delete(c.pageTable, c.frames[frameID].pIdent)
	c.frames[frameID] = frameInfo{prev: noFrame, next: noFrame}
	c.emptyFrames = append(c.emptyFrames, frameID)
}

func (c *PageCache) moveToFront(frameID int) {
	if c.head == frameID {
		return
	}
	c.unlink(frameID)
	c.pushFront(frameID)
}

func (c *PageCache) pushFront(frameID int) {
	frame := &c.frames[frameID]
	frame.prev = noFrame
	frame.next = c.head
	if c.head != noFrame {
		c.frames[c.head].prev = frameID
	}
	c.head = frameID
	if c.tail == noFrame {
		c.tail = frameID
	}
}

func (c *PageCache) unlink(frameID int) {
	frame := &c.frames[frameID]
	if frame.prev != noFrame {
		c.frames[frame.prev].next = frame.next
	} else {
		c.head = frame.next
	}
	if frame.next != noFrame {
		c.frames[frame.next].prev = frame.prev
	} else {
		c.tail = frame.prev
	}
	frame.prev = noFrame
	frame.next = noFrame
}
