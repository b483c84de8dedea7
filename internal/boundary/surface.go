// Package boundary is the foreign-call surface: status codes, encoded
// buffers and the handle registry that owns them until released.
package boundary

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Hara602/usbCapture/internal/model"
)

// 状态码
const (
	StatusOK    = 0
	StatusError = -1
)

// ErrInternal marks a panic recovered at the boundary.
var ErrInternal = errors.New("internal error")

// Operations 边界层依赖的核心能力
type Operations interface {
	Init() error
	Cleanup() error
	ScanDevices(ctx context.Context) ([]model.DeviceDescriptor, error)
	StartCapture(vendorID, productID uint16) error
	StopCapture() error
	Poll() ([]model.CapturePacket, bool)
	Stats() model.Stats
}

// Surface 所有操作都是全函数: 不抛出 panic, 失败时返回 -1 或 null
type Surface struct {
	ops         Operations
	reg         *Registry
	log         *zap.Logger
	scanTimeout time.Duration
}

func NewSurface(ops Operations, reg *Registry, logger *zap.Logger, scanTimeout time.Duration) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surface{ops: ops, reg: reg, log: logger, scanTimeout: scanTimeout}
}

func (s *Surface) Registry() *Registry { return s.reg }

func (s *Surface) recoverInto(op string, fallback func()) {
	if r := recover(); r != nil {
		s.log.Error("recovered at boundary",
			zap.String("op", op),
			zap.Any("panic", r),
			zap.Error(ErrInternal))
		fallback()
	}
}

func (s *Surface) Init() (status int) {
	defer s.recoverInto("init", func() { status = StatusError })

	if err := s.ops.Init(); err != nil {
		s.log.Error("init failed", zap.Error(err))
		return StatusError
	}
	return StatusOK
}

func (s *Surface) Cleanup() {
	defer s.recoverInto("cleanup", func() {})

	if err := s.ops.Cleanup(); err != nil {
		s.log.Warn("cleanup finished with errors", zap.Error(err))
	}
}

// ScanDevices 返回设备列表缓冲区; 上下文未初始化或枚举失败时返回 null
func (s *Surface) ScanDevices() (h Handle) {
	defer s.recoverInto("scan_devices", func() { h = 0 })

	ctx := context.Background()
	if s.scanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.scanTimeout)
		defer cancel()
	}
	devices, err := s.ops.ScanDevices(ctx)
	if err != nil {
		s.log.Error("scan devices failed", zap.Error(err))
		return 0
	}
	return s.issue("scan_devices", devices)
}

func (s *Surface) StartCapture(vendorID, productID uint16) (status int) {
	defer s.recoverInto("start_capture", func() { status = StatusError })

	if err := s.ops.StartCapture(vendorID, productID); err != nil {
		s.log.Info("start capture rejected", zap.Error(err))
		return StatusError
	}
	return StatusOK
}

func (s *Surface) StopCapture() (status int) {
	defer s.recoverInto("stop_capture", func() { status = StatusError })

	if err := s.ops.StopCapture(); err != nil {
		s.log.Info("stop capture rejected", zap.Error(err))
		return StatusError
	}
	return StatusOK
}

// GetPackets 执行一次 poll; 空闲时返回 null, 捕获中可能返回空列表
func (s *Surface) GetPackets() (h Handle) {
	defer s.recoverInto("get_packets", func() { h = 0 })

	packets, ok := s.ops.Poll()
	if !ok {
		return 0
	}
	if packets == nil {
		packets = []model.CapturePacket{}
	}
	return s.issue("get_packets", packets)
}

func (s *Surface) GetStats() (h Handle) {
	defer s.recoverInto("get_stats", func() { h = 0 })
	return s.issue("get_stats", s.ops.Stats())
}

// FreeBuffer 只释放本系统发出的句柄
func (s *Surface) FreeBuffer(h Handle) {
	defer s.recoverInto("free_buffer", func() {})

	if err := s.reg.Release(h); err != nil {
		s.log.Warn("free_buffer ignored", zap.Error(err))
	}
}

func (s *Surface) issue(op string, v any) Handle {
	h, err := s.reg.Issue(Encode(v, s.log))
	if err != nil {
		s.log.Error("issue buffer failed", zap.String("op", op), zap.Error(err))
		return 0
	}
	return h
}
