package buffer

import "github.com/yinglichina8848/sqlcc-sub002/storage/page"

// frame is an in-memory slot holding at most one page, plus the
// doubly-linked LRU pointers used by its owning shard. The hand-rolled
// linked list (rather than container/list) mirrors the teacher pager's
// PageFrame bookkeeping.
type frame struct {
	id       page.ID
	data     []byte
	pinCount int
	dirty    bool

	prev, next *frame
}

// lruList is a small intrusive doubly-linked list, most-recently-used at
// the head. Only unpinned frames live in the list; a frame is unlinked
// while pinned.
type lruList struct {
	head, tail *frame
}

func (l *lruList) pushFront(f *frame) {
	f.prev, f.next = nil, l.head
	if l.head != nil {
		l.head.prev = f
	}
	l.head = f
	if l.tail == nil {
		l.tail = f
	}
}

func (l *lruList) unlink(f *frame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else if l.head == f {
		l.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else if l.tail == f {
		l.tail = f.prev
	}
	f.prev, f.next = nil, nil
}

func (l *lruList) moveToFront(f *frame) {
	if l.head == f {
		return
	}
	l.unlink(f)
	l.pushFront(f)
}

// victim returns and unlinks the least-recently-used frame (the tail), or
// nil if the list is empty.
func (l *lruList) victim() *frame {
	if l.tail == nil {
		return nil
	}
	f := l.tail
	l.unlink(f)
	return f
}
