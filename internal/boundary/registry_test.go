package boundary

import (
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
)

func TestRegistryRelease(t *testing.T) {
	reg := NewRegistry(HeapAllocator())

	h, err := reg.Issue([]byte(`[]`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h, test.ShouldNotEqual, Handle(0))
	test.That(t, reg.Outstanding(), test.ShouldEqual, 1)

	buf, ok := reg.Lookup(h)
	test.That(t, ok, test.ShouldBeTrue)
	heap := buf.(*HeapBuffer)
	test.That(t, string(heap.Data), test.ShouldEqual, "[]")

	test.That(t, reg.Release(h), test.ShouldBeNil)
	test.That(t, heap.Freed(), test.ShouldBeTrue)
	test.That(t, reg.Outstanding(), test.ShouldEqual, 0)

	// 重复释放
	test.That(t, errors.Is(reg.Release(h), ErrUnknownHandle), test.ShouldBeTrue)
	// 未登记的句柄
	test.That(t, errors.Is(reg.Release(Handle(0xdead)), ErrUnknownHandle), test.ShouldBeTrue)
	// null
	test.That(t, reg.Release(0), test.ShouldBeNil)
}

func TestRegistryReleaseAll(t *testing.T) {
	reg := NewRegistry(HeapAllocator())
	for i := 0; i < 3; i++ {
		_, err := reg.Issue([]byte("{}"))
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, reg.ReleaseAll(), test.ShouldEqual, 3)
	test.That(t, reg.Outstanding(), test.ShouldEqual, 0)
}

type fixedBuffer Handle

func (b fixedBuffer) Handle() Handle { return Handle(b) }
func (b fixedBuffer) Free()          {}

func TestRegistryRejectsReusedHandle(t *testing.T) {
	reg := NewRegistry(func([]byte) (Buffer, error) { return fixedBuffer(7), nil })
	_, err := reg.Issue(nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = reg.Issue(nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, reg.Outstanding(), test.ShouldEqual, 1)
}

func TestRegistryAllocFailure(t *testing.T) {
	reg := NewRegistry(func([]byte) (Buffer, error) { return nil, errors.New("out of memory") })
	h, err := reg.Issue([]byte("[]"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, h, test.ShouldEqual, Handle(0))
}

func TestEncodeFallback(t *testing.T) {
	logger := zaptest.NewLogger(t)
	test.That(t, string(Encode(map[string]int{"a": 1}, logger)), test.ShouldEqual, `{"a":1}`)
	test.That(t, string(Encode(make(chan int), logger)), test.ShouldEqual, "[]")
}
