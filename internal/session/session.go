// Package session holds the capture state machine and its running counters.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Hara602/usbCapture/internal/framer"
	"github.com/Hara602/usbCapture/internal/model"
)

var (
	ErrAlreadyCapturing = errors.New("already capturing")
	ErrNotCapturing     = errors.New("not capturing")
)

// 模拟数据包的节奏和长度
const (
	ReceiveEvery  = 3
	SendEvery     = 5
	ReceiveLength = 16
	SendLength    = 8
)

// Session 捕获会话状态机: Idle <-> Capturing
// 所有操作在同一把锁内完成, 锁内不做任何 I/O
type Session struct {
	mu  sync.Mutex
	now func() time.Time

	capturing         bool
	selectedVendorID  uint16
	selectedProductID uint16
	packetCounter     uint64
	bytesReceived     uint64
	bytesSent         uint64

	notices []string
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock used for packet timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func New(opts ...Option) *Session {
	s := &Session{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start Idle -> Capturing, 计数器不清零
func (s *Session) Start(vendorID, productID uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capturing {
		return ErrAlreadyCapturing
	}
	s.capturing = true
	s.selectedVendorID = vendorID
	s.selectedProductID = productID
	return nil
}

// Stop Capturing -> Idle. Counters are cumulative across runs.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.capturing {
		return ErrNotCapturing
	}
	s.idle()
	return nil
}

// ForceIdle drops any active capture without reporting an error.
// It reports whether a capture was active.
func (s *Session) ForceIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.capturing
	s.idle()
	return was
}

func (s *Session) idle() {
	s.capturing = false
	s.selectedVendorID = 0
	s.selectedProductID = 0
	s.notices = nil
}

// Selected returns the selected device ids while capturing.
func (s *Session) Selected() (vendorID, productID uint16, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedVendorID, s.selectedProductID, s.capturing
}

// Poll 推进一次模拟数据流. 空闲时返回 ok=false 且不修改任何状态
func (s *Session) Poll() ([]model.CapturePacket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.capturing {
		return nil, false
	}

	// 本次 poll 的所有数据包共用一个时间戳
	ts := uint64(s.now().UnixMilli())
	packets := make([]model.CapturePacket, 0, 2+len(s.notices))

	// 判断条件使用自增前的计数器
	if s.packetCounter%ReceiveEvery == 0 {
		p := newPacket(ts, model.PacketReceive, framer.Frame(ReceiveLength, framer.DeviceToHost))
		s.bytesReceived += uint64(p.DataLength)
		packets = append(packets, p)
	}
	if s.packetCounter%SendEvery == 0 {
		p := newPacket(ts, model.PacketSend, framer.Frame(SendLength, framer.HostToDevice))
		s.bytesSent += uint64(p.DataLength)
		packets = append(packets, p)
	}
	s.packetCounter++

	for _, text := range s.notices {
		packets = append(packets, model.CapturePacket{
			Timestamp:  ts,
			PacketType: model.PacketSystem,
			Content:    text,
		})
	}
	s.notices = nil

	return packets, true
}

func newPacket(ts uint64, typ model.PacketType, frame []byte) model.CapturePacket {
	return model.CapturePacket{
		Timestamp:  ts,
		PacketType: typ,
		Content:    framer.Render(frame),
		DataLength: len(frame),
		Frame:      frame,
	}
}

// Notice 为正在捕获的设备排队一条系统消息, 下一次 Poll 时输出
func (s *Session) Notice(vendorID, productID uint16, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.capturing || s.selectedVendorID != vendorID || s.selectedProductID != productID {
		return false
	}
	s.notices = append(s.notices, text)
	return true
}

// Stats 只读快照
func (s *Session) Stats() model.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return model.Stats{
		PacketCounter: s.packetCounter,
		BytesReceived: s.bytesReceived,
		BytesSent:     s.bytesSent,
		IsCapturing:   s.capturing,
	}
}

func (s *Session) String() string {
	st := s.Stats()
	return fmt.Sprintf("session{capturing=%t packets=%d rx=%d tx=%d}",
		st.IsCapturing, st.PacketCounter, st.BytesReceived, st.BytesSent)
}
