// Package usbstack wraps the process-wide USB stack context and the device
// enumeration query built on it.
package usbstack

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Hara602/usbCapture/internal/model"
)

var (
	ErrInit           = errors.New("usb context init failed")
	ErrNotInitialized = errors.New("usb context not initialized")
	ErrEnumeration    = errors.New("usb device enumeration failed")
	ErrUnknownBackend = errors.New("unknown usb backend")
)

// Candidate 后端返回的单个设备. Err 不为空表示该设备描述符读取失败
type Candidate struct {
	Source    string
	VendorID  uint16
	ProductID uint16
	Err       error
}

// Backend 底层 USB 库的抽象
type Backend interface {
	// Devices lists every device on the bus. A returned error is a bus level
	// failure; per-device failures are reported through Candidate.Err.
	Devices(ctx context.Context) ([]Candidate, error)
	Close() error
}

// Opener creates a Backend.
type Opener func() (Backend, error)

// OpenerFor 根据配置名称选择后端
func OpenerFor(name string) (Opener, error) {
	switch name {
	case "libusb", "":
		return OpenLibusb, nil
	case "udev":
		return OpenUdev, nil
	}
	return nil, errors.Wrapf(ErrUnknownBackend, "%q", name)
}

// Stack 持有 USB 上下文, 有自己的锁, 不接触会话状态
type Stack struct {
	mu      sync.Mutex
	open    Opener
	backend Backend
	log     *zap.Logger
}

func New(open Opener, logger *zap.Logger) *Stack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stack{open: open, log: logger}
}

// Init 创建上下文; 已存在的上下文会被关闭并替换
func (s *Stack) Init() error {
	backend, err := s.open()
	if err != nil {
		return errors.Wrap(ErrInit, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.log.Warn("close previous usb context", zap.Error(err))
		}
	}
	s.backend = backend
	return nil
}

// Cleanup 销毁上下文, 未初始化时为空操作
func (s *Stack) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}

func (s *Stack) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend != nil
}

// ListDevices 枚举设备. 单个设备失败只记录日志并跳过
func (s *Stack) ListDevices(ctx context.Context) ([]model.DeviceDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return nil, ErrNotInitialized
	}
	candidates, err := s.backend.Devices(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrEnumeration, err.Error())
	}
	s.log.Debug("device list fetched", zap.Int("count", len(candidates)))

	devices := make([]model.DeviceDescriptor, 0, len(candidates))
	for i, c := range candidates {
		if c.Err != nil {
			s.log.Warn("skip device: descriptor unavailable",
				zap.Int("index", i),
				zap.String("source", c.Source),
				zap.Error(c.Err))
			continue
		}
		d := Describe(c.VendorID, c.ProductID)
		s.log.Debug("device added", zap.String("device_id", d.DeviceID))
		devices = append(devices, d)
	}
	return devices, nil
}

// Describe 生成占位名称和 device_id, 不做真实的厂商名查询
func Describe(vendorID, productID uint16) model.DeviceDescriptor {
	return model.DeviceDescriptor{
		VendorID:    vendorID,
		ProductID:   productID,
		VendorName:  fmt.Sprintf("Vendor 0x%04X", vendorID),
		ProductName: fmt.Sprintf("Product 0x%04X", productID),
		DeviceID:    DeviceID(vendorID, productID),
	}
}

// DeviceID returns "VVVV:PPPP" in upper case hex.
func DeviceID(vendorID, productID uint16) string {
	return fmt.Sprintf("%04X:%04X", vendorID, productID)
}

// ParseProduct 解析 uevent 的 PRODUCT 字段, 例如 "46d/c52b/1201"
func ParseProduct(product string) (vendorID, productID uint16, err error) {
	parts := strings.Split(product, "/")
	if len(parts) < 2 {
		return 0, 0, errors.Errorf("malformed PRODUCT %q", product)
	}
	if vendorID, err = ParseHexID(parts[0]); err != nil {
		return 0, 0, err
	}
	if productID, err = ParseHexID(parts[1]); err != nil {
		return 0, 0, err
	}
	return vendorID, productID, nil
}

// ParseHexID parses a 16 bit hex id with an optional 0x prefix.
func ParseHexID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "parse usb id %q", s)
	}
	return uint16(v), nil
}
