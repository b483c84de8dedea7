// Command libusbcap is built with -buildmode=c-shared and exposes the
// capture surface to a host process through a C ABI.
//
//	go build -buildmode=c-shared -o libusbcap.so ./cmd/libusbcap
package main

/*
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/Hara602/usbCapture/internal/boundary"
	"github.com/Hara602/usbCapture/internal/capture"
	"github.com/Hara602/usbCapture/internal/config"
	"github.com/Hara602/usbCapture/internal/sysutil"
)

// C ABI 没有上下文参数, 只能在这里保存唯一的 Surface
var (
	surfaceOnce sync.Once
	surface     *boundary.Surface
)

func getSurface() *boundary.Surface {
	surfaceOnce.Do(func() {
		cfg, err := config.Load("")
		sysutil.InitLogger(cfg.Log)
		if err != nil {
			sysutil.Log.Warn("config rejected, using defaults", zap.Error(err))
			cfg = config.Default()
		}
		surface = newSurface(cfg, sysutil.Log)
	})
	return surface
}

// newSurface 配置无法构造服务时退回默认配置
func newSurface(cfg config.Config, logger *zap.Logger) *boundary.Surface {
	svc, err := capture.New(cfg, logger.Named("capture"))
	if err != nil {
		logger.Error("service init failed, falling back to defaults", zap.Error(err))
		cfg = config.Default()
		svc, err = capture.New(cfg, logger.Named("capture"))
		if err != nil {
			// 默认配置只选 libusb, 不会走到这里; 否则每个操作在 Surface 里被 recover 成错误值
			logger.Error("default service init failed", zap.Error(err))
		}
	}
	reg := boundary.NewRegistry(cAllocator)
	return boundary.NewSurface(svc, reg, logger.Named("boundary"), cfg.USB.ScanTimeout)
}

// cBuffer NUL 结尾的 C 字符串, 由 C.malloc 分配
type cBuffer struct {
	p unsafe.Pointer
}

func (b cBuffer) Handle() boundary.Handle { return boundary.Handle(uintptr(b.p)) }
func (b cBuffer) Free()                   { C.free(b.p) }

func cAllocator(data []byte) (boundary.Buffer, error) {
	p := C.malloc(C.size_t(len(data) + 1))
	if p == nil {
		return nil, errOutOfMemory
	}
	if len(data) > 0 {
		C.memcpy(p, unsafe.Pointer(&data[0]), C.size_t(len(data)))
	}
	*(*byte)(unsafe.Add(p, len(data))) = 0
	return cBuffer{p: p}, nil
}

func toC(h boundary.Handle, s *boundary.Surface) *C.char {
	if h == 0 {
		return nil
	}
	buf, ok := s.Registry().Lookup(h)
	if !ok {
		return nil
	}
	return (*C.char)(buf.(cBuffer).p)
}

//export usb_capture_init
func usb_capture_init() C.int {
	return C.int(getSurface().Init())
}

//export usb_capture_cleanup
func usb_capture_cleanup() {
	getSurface().Cleanup()
}

//export usb_scan_devices
func usb_scan_devices() *C.char {
	s := getSurface()
	return toC(s.ScanDevices(), s)
}

//export usb_start_capture
func usb_start_capture(vendorID, productID C.uint16_t) C.int {
	return C.int(getSurface().StartCapture(uint16(vendorID), uint16(productID)))
}

//export usb_stop_capture
func usb_stop_capture() C.int {
	return C.int(getSurface().StopCapture())
}

//export usb_get_packets
func usb_get_packets() *C.char {
	s := getSurface()
	return toC(s.GetPackets(), s)
}

//export usb_get_stats
func usb_get_stats() *C.char {
	s := getSurface()
	return toC(s.GetStats(), s)
}

// usb_free_string 只释放本库返回过的指针, 重复释放或外部指针会被忽略
//
//export usb_free_string
func usb_free_string(s *C.char) {
	getSurface().FreeBuffer(boundary.Handle(uintptr(unsafe.Pointer(s))))
}

func main() {}
