package session

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/Hara602/usbCapture/internal/model"
)

var fixedTime = time.UnixMilli(1700000000123)

func newTestSession() *Session {
	return New(WithClock(func() time.Time { return fixedTime }))
}

func TestPollCadence(t *testing.T) {
	s := newTestSession()
	test.That(t, s.Start(0x1234, 0xABCD), test.ShouldBeNil)

	const n = 31
	var receives, sends uint64
	for k := 1; k <= n; k++ {
		packets, ok := s.Poll()
		test.That(t, ok, test.ShouldBeTrue)

		wantRx := (k-1)%3 == 0
		wantTx := (k-1)%5 == 0
		var gotRx, gotTx bool
		for _, p := range packets {
			switch p.PacketType {
			case model.PacketReceive:
				gotRx = true
				test.That(t, p.DataLength, test.ShouldEqual, 16)
			case model.PacketSend:
				gotTx = true
				test.That(t, p.DataLength, test.ShouldEqual, 8)
			}
			test.That(t, p.Timestamp, test.ShouldEqual, uint64(fixedTime.UnixMilli()))
		}
		test.That(t, gotRx, test.ShouldEqual, wantRx)
		test.That(t, gotTx, test.ShouldEqual, wantTx)
		if wantRx {
			receives++
		}
		if wantTx {
			sends++
		}
	}

	st := s.Stats()
	test.That(t, st.PacketCounter, test.ShouldEqual, uint64(n))
	test.That(t, st.BytesReceived, test.ShouldEqual, 16*receives)
	test.That(t, st.BytesSent, test.ShouldEqual, 8*sends)
	test.That(t, st.IsCapturing, test.ShouldBeTrue)
}

func TestPollFirstCallProducesBoth(t *testing.T) {
	s := newTestSession()
	test.That(t, s.Start(1, 2), test.ShouldBeNil)

	packets, ok := s.Poll()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, packets, test.ShouldHaveLength, 2)
	test.That(t, packets[0].PacketType, test.ShouldEqual, model.PacketReceive)
	test.That(t, packets[1].PacketType, test.ShouldEqual, model.PacketSend)
	test.That(t, packets[0].Content, test.ShouldStartWith, "HEX: 80 69 12 34 1C")
	test.That(t, packets[1].Content, test.ShouldEqual, "HEX: 80 E1 AB CD 2C 37 9A BC (8 bytes)")

	// counter=1: neither fires, still a non-nil empty batch
	packets, ok = s.Poll()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, packets, test.ShouldNotBeNil)
	test.That(t, packets, test.ShouldHaveLength, 0)
}

func TestStartWhileCapturing(t *testing.T) {
	s := newTestSession()
	test.That(t, s.Start(0x1111, 0x2222), test.ShouldBeNil)
	s.Poll()
	before := s.Stats()

	err := s.Start(0x3333, 0x4444)
	test.That(t, errors.Is(err, ErrAlreadyCapturing), test.ShouldBeTrue)
	test.That(t, s.Stats(), test.ShouldResemble, before)

	vid, pid, ok := s.Selected()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, vid, test.ShouldEqual, uint16(0x1111))
	test.That(t, pid, test.ShouldEqual, uint16(0x2222))
}

func TestStopKeepsCounters(t *testing.T) {
	s := newTestSession()
	test.That(t, errors.Is(s.Stop(), ErrNotCapturing), test.ShouldBeTrue)

	test.That(t, s.Start(1, 2), test.ShouldBeNil)
	s.Poll()
	s.Poll()
	test.That(t, s.Stop(), test.ShouldBeNil)

	packets, ok := s.Poll()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, packets, test.ShouldBeNil)

	st := s.Stats()
	test.That(t, st.PacketCounter, test.ShouldEqual, uint64(2))
	test.That(t, st.BytesReceived, test.ShouldEqual, uint64(16))
	test.That(t, st.BytesSent, test.ShouldEqual, uint64(8))
	test.That(t, st.IsCapturing, test.ShouldBeFalse)

	// 重新开始后计数继续累加, 节奏按累计计数器计算
	test.That(t, s.Start(1, 2), test.ShouldBeNil)
	packets, ok = s.Poll() // counter 2
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, packets, test.ShouldBeEmpty)
	test.That(t, s.Stats().PacketCounter, test.ShouldEqual, uint64(3))
	test.That(t, s.Stats().BytesReceived, test.ShouldEqual, uint64(16))

	packets, _ = s.Poll() // counter 3
	test.That(t, packets, test.ShouldHaveLength, 1)
	test.That(t, packets[0].PacketType, test.ShouldEqual, model.PacketReceive)
	test.That(t, s.Stats().PacketCounter, test.ShouldEqual, uint64(4))
	test.That(t, s.Stats().BytesReceived, test.ShouldEqual, uint64(32))
	test.That(t, s.Stats().BytesSent, test.ShouldEqual, uint64(8))
}

func TestForceIdle(t *testing.T) {
	s := newTestSession()
	test.That(t, s.ForceIdle(), test.ShouldBeFalse)
	test.That(t, s.Start(1, 2), test.ShouldBeNil)
	test.That(t, s.ForceIdle(), test.ShouldBeTrue)
	test.That(t, errors.Is(s.Stop(), ErrNotCapturing), test.ShouldBeTrue)
}

func TestConcurrentStart(t *testing.T) {
	s := newTestSession()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Start(uint16(i), uint16(i))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, ErrAlreadyCapturing) {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	test.That(t, succeeded, test.ShouldEqual, 1)
	test.That(t, rejected, test.ShouldEqual, workers-1)
}

func TestNotice(t *testing.T) {
	s := newTestSession()
	test.That(t, s.Notice(1, 2, "device 0001:0002 removed"), test.ShouldBeFalse)

	test.That(t, s.Start(1, 2), test.ShouldBeNil)
	test.That(t, s.Notice(9, 9, "other device"), test.ShouldBeFalse)
	test.That(t, s.Notice(1, 2, "device 0001:0002 removed"), test.ShouldBeTrue)

	packets, _ := s.Poll()
	test.That(t, packets, test.ShouldHaveLength, 3)
	last := packets[2]
	test.That(t, last.PacketType, test.ShouldEqual, model.PacketSystem)
	test.That(t, last.DataLength, test.ShouldEqual, 0)
	test.That(t, last.Content, test.ShouldEqual, "device 0001:0002 removed")

	st := s.Stats()
	test.That(t, st.BytesReceived+st.BytesSent, test.ShouldEqual, uint64(24))

	packets, _ = s.Poll()
	test.That(t, packets, test.ShouldHaveLength, 0)
}
