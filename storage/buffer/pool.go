// Package buffer implements the Buffer Pool: a frame table over the disk
// manager with pin counts, dirty tracking, and an LRU eviction policy. The
// pool can be partitioned into S shards (S a power of two) hashed by
// page_id mod S, each independently LRU-managed behind its own mutex, to
// reduce lock contention; pass shardCount 1 for the simple single-lock
// variant. Behavior is identical to the caller either way.
package buffer

import (
	"sync"

	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

// diskIO is the subset of *disk.Manager the buffer pool depends on.
type diskIO interface {
	ReadPage(id page.ID, buf []byte) error
	WritePage(id page.ID, buf []byte) error
	AllocatePage() (page.ID, error)
	DeallocatePage(id page.ID)
}

// Handle is a pinned borrow of a frame, the scoped-acquisition pattern
// design note §9 calls for: callers obtain one from NewPage/FetchPage and
// must release it via UnpinPage when done.
type Handle struct {
	PageIDv page.ID
	Data    []byte
}

type shard struct {
	mu       sync.Mutex
	cap      int
	frames   map[page.ID]*frame
	lru      lruList
	loading  map[page.ID]chan struct{}
}

// Pool is the buffer pool.
type Pool struct {
	disk       diskIO
	pageSize   int
	shardCount int
	shards     []*shard
}

// New builds a Pool of poolSize total frames, partitioned into shardCount
// shards (must be a power of two; 1 disables sharding).
func New(disk diskIO, pageSize, poolSize, shardCount int) *Pool {
	if shardCount < 1 {
		shardCount = 1
	}
	p := &Pool{disk: disk, pageSize: pageSize, shardCount: shardCount}
	base := poolSize / shardCount
	rem := poolSize % shardCount
	p.shards = make([]*shard, shardCount)
	for i := range p.shards {
		c := base
		if i < rem {
			c++
		}
		if c < 1 {
			c = 1
		}
		p.shards[i] = &shard{
			cap:     c,
			frames:  make(map[page.ID]*frame),
			loading: make(map[page.ID]chan struct{}),
		}
	}
	return p
}

func (p *Pool) shardFor(id page.ID) *shard {
	return p.shards[uint32(id)%uint32(p.shardCount)]
}

// NewPage allocates a fresh page via the disk manager, pins it, and
// returns a Handle to a zeroed buffer. Fails with BufferFull if the owning
// shard cannot free a frame.
func (p *Pool) NewPage() (*Handle, error) {
	const op = "buffer.NewPage"
	id, err := p.disk.AllocatePage()
	if err != nil {
		return nil, err
	}
	s := p.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := p.evictLocked(s, id)
	if err != nil {
		return nil, err
	}
	f.id = id
	f.data = page.New(p.pageSize, page.TypeInvalid, id)
	f.pinCount = 1
	f.dirty = true
	s.frames[id] = f
	return &Handle{PageIDv: id, Data: f.data}, nil
}

// FetchPage returns the frame for id, incrementing its pin count, loading
// it from disk if not resident. Concurrent fetches of the same missing
// page block on the single in-flight load rather than issuing duplicate
// reads.
func (p *Pool) FetchPage(id page.ID) (*Handle, error) {
	const op = "buffer.FetchPage"
	s := p.shardFor(id)

	for {
		s.mu.Lock()
		if f, ok := s.frames[id]; ok {
			if f.pinCount == 0 {
				s.lru.unlink(f)
			}
			f.pinCount++
			s.mu.Unlock()
			return &Handle{PageIDv: id, Data: f.data}, nil
		}
		if ch, ok := s.loading[id]; ok {
			s.mu.Unlock()
			<-ch
			continue
		}
		ch := make(chan struct{})
		s.loading[id] = ch
		s.mu.Unlock()

		buf := make([]byte, p.pageSize)
		readErr := p.disk.ReadPage(id, buf)

		s.mu.Lock()
		delete(s.loading, id)
		close(ch)
		if readErr != nil {
			s.mu.Unlock()
			return nil, errs.Wrap(errs.PageNotFound, op, readErr)
		}
		f, err := p.evictLocked(s, id)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		f.id = id
		f.data = buf
		f.pinCount = 1
		f.dirty = false
		s.frames[id] = f
		s.mu.Unlock()
		return &Handle{PageIDv: id, Data: f.data}, nil
	}
}

// flushFrame writes f through the disk manager if dirty and clears the
// dirty flag. Caller holds the owning shard's mu.
func flushFrame(disk diskIO, f *frame) error {
	if !f.dirty {
		return nil
	}
	if err := disk.WritePage(f.id, f.data); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// evictLocked returns a frame to host id: a fresh one if the shard has
// spare capacity, otherwise the shard's LRU victim, flushed first if
// dirty. Caller holds s.mu.
func (p *Pool) evictLocked(s *shard, id page.ID) (*frame, error) {
	if len(s.frames) < s.cap {
		return &frame{}, nil
	}
	v := s.lru.victim()
	if v == nil {
		return nil, errs.New(errs.BufferFull, "buffer.evict", "no evictable frame")
	}
	if err := flushFrame(p.disk, v); err != nil {
		return nil, err
	}
	delete(s.frames, v.id)
	return v, nil
}

// UnpinPage decrements id's pin count and OR-s its dirty flag with
// isDirty. Returns an error if the page is not resident or already
// unpinned.
func (p *Pool) UnpinPage(id page.ID, isDirty bool) error {
	const op = "buffer.UnpinPage"
	s := p.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.frames[id]
	if !ok {
		return errs.New(errs.PageNotFound, op, "page not resident")
	}
	if f.pinCount == 0 {
		return errs.New(errs.InvalidArgument, op, "page already unpinned")
	}
	f.pinCount--
	f.dirty = f.dirty || isDirty
	if f.pinCount == 0 {
		s.lru.pushFront(f)
	}
	return nil
}

// FlushPage writes id's frame to disk if dirty. Pin count is untouched.
func (p *Pool) FlushPage(id page.ID) error {
	const op = "buffer.FlushPage"
	s := p.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.frames[id]
	if !ok {
		return errs.New(errs.PageNotFound, op, "page not resident")
	}
	return flushFrame(p.disk, f)
}

// DeletePage evicts id without flushing and returns it to the disk
// manager's freelist. Fails with PagePinned if the page is currently
// pinned.
func (p *Pool) DeletePage(id page.ID) error {
	const op = "buffer.DeletePage"
	s := p.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.frames[id]; ok {
		if f.pinCount > 0 {
			return errs.New(errs.PagePinned, op, "page is pinned")
		}
		s.lru.unlink(f)
		delete(s.frames, id)
	}
	p.disk.DeallocatePage(id)
	return nil
}

// FlushAllPages flushes every dirty frame across every shard.
func (p *Pool) FlushAllPages() error {
	const op = "buffer.FlushAllPages"
	for _, s := range p.shards {
		s.mu.Lock()
		for _, f := range s.frames {
			if err := flushFrame(p.disk, f); err != nil {
				s.mu.Unlock()
				return errs.Wrap(errs.IoFailure, op, err)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// BatchFetchPages fetches each id in ids, in order, returning their
// handles. On any failure, already-fetched handles are unpinned before the
// error is returned.
func (p *Pool) BatchFetchPages(ids []page.ID) ([]*Handle, error) {
	out := make([]*Handle, 0, len(ids))
	for _, id := range ids {
		h, err := p.FetchPage(id)
		if err != nil {
			for _, done := range out {
				_ = p.UnpinPage(done.PageIDv, false)
			}
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// PrefetchPage asynchronously warms the cache for id without returning a
// handle to the caller; the page is immediately unpinned once loaded.
func (p *Pool) PrefetchPage(id page.ID) {
	go func() {
		h, err := p.FetchPage(id)
		if err != nil {
			return
		}
		_ = p.UnpinPage(h.PageIDv, false)
	}()
}
