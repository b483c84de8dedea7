package boundary

import (
	"sync"

	"github.com/pkg/errors"
)

var ErrUnknownHandle = errors.New("unknown buffer handle")

// Handle 交给外部调用方的缓冲区句柄, 0 表示 null
type Handle uintptr

// Buffer is memory owned by the registry until released.
type Buffer interface {
	Handle() Handle
	Free()
}

// Allocator copies data into memory the foreign caller can read.
type Allocator func(data []byte) (Buffer, error)

// Registry 记录所有已发出的缓冲区; 只有登记过的句柄才会被释放
type Registry struct {
	mu    sync.Mutex
	alloc Allocator
	live  map[Handle]Buffer
}

func NewRegistry(alloc Allocator) *Registry {
	return &Registry{alloc: alloc, live: make(map[Handle]Buffer)}
}

// Issue 分配缓冲区并登记
func (r *Registry) Issue(data []byte) (Handle, error) {
	buf, err := r.alloc(data)
	if err != nil {
		return 0, errors.Wrap(err, "allocate buffer")
	}
	h := buf.Handle()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.live[h]; dup {
		// 分配器返回了仍在使用的地址, 说明分配器有问题
		buf.Free()
		return 0, errors.Errorf("allocator reused live handle %#x", uintptr(h))
	}
	r.live[h] = buf
	return h, nil
}

// Release 释放句柄. null 为空操作; 重复释放或未知句柄返回 ErrUnknownHandle 且不释放任何内存
func (r *Registry) Release(h Handle) error {
	if h == 0 {
		return nil
	}
	r.mu.Lock()
	buf, ok := r.live[h]
	delete(r.live, h)
	r.mu.Unlock()

	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "%#x", uintptr(h))
	}
	buf.Free()
	return nil
}

// Lookup returns the contents of a live buffer.
func (r *Registry) Lookup(h Handle) (Buffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.live[h]
	return buf, ok
}

// Outstanding 未释放的缓冲区数量
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// ReleaseAll frees every outstanding buffer.
func (r *Registry) ReleaseAll() int {
	r.mu.Lock()
	live := r.live
	r.live = make(map[Handle]Buffer)
	r.mu.Unlock()

	for _, buf := range live {
		buf.Free()
	}
	return len(live)
}

// HeapBuffer is a Go heap buffer used for in-process callers.
type HeapBuffer struct {
	handle Handle
	Data   []byte
	freed  bool
}

func (b *HeapBuffer) Handle() Handle { return b.handle }
func (b *HeapBuffer) Free()          { b.freed = true; b.Data = nil }
func (b *HeapBuffer) Freed() bool    { return b.freed }

// HeapAllocator 在 Go 堆上分配, 句柄是单调递增的编号
func HeapAllocator() Allocator {
	var (
		mu   sync.Mutex
		next Handle
	)
	return func(data []byte) (Buffer, error) {
		mu.Lock()
		next++
		h := next
		mu.Unlock()
		return &HeapBuffer{handle: h, Data: append([]byte(nil), data...)}, nil
	}
}
