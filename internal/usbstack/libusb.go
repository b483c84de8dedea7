//go:build cgo

package usbstack

import (
	"context"
	"fmt"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

type libusbBackend struct {
	ctx *gousb.Context
}

// OpenLibusb 创建 libusb 上下文. gousb 初始化失败时会 panic, 这里转换为错误
func OpenLibusb() (b Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("libusb: %v", r)
		}
	}()
	return &libusbBackend{ctx: gousb.NewContext()}, nil
}

func (b *libusbBackend) Devices(ctx context.Context) ([]Candidate, error) {
	var out []Candidate
	// 回调返回 false: 只读取描述符, 不打开设备
	_, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		out = append(out, Candidate{
			Source:    fmt.Sprintf("bus %d addr %d", desc.Bus, desc.Address),
			VendorID:  uint16(desc.Vendor),
			ProductID: uint16(desc.Product),
		})
		return false
	})
	if err != nil {
		if len(out) == 0 {
			return nil, err
		}
		// 部分设备描述符读取失败
		out = append(out, Candidate{Source: "libusb", Err: err})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *libusbBackend) Close() error {
	return b.ctx.Close()
}
