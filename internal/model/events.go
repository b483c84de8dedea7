package model

import (
	"encoding/json"
	"time"
)

// DeviceEvent USB 热插拔事件
type DeviceEvent struct {
	Action    string // "add", "remove"
	VendorID  uint16
	ProductID uint16
	DeviceID  string // e.g. "1234:ABCD"
	KObj      string // e.g. /devices/pci0000:00/0000:00:14.0/usb1/1-2
	TimeStamp time.Time
}

// WSMessage WebSocket 通信的统一信封
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartCaptureRequest start_capture 命令的参数
type StartCaptureRequest struct {
	VendorID  uint16 `json:"vendor_id"`
	ProductID uint16 `json:"product_id"`
}

// ErrorPayload 发送给客户端的错误描述
type ErrorPayload struct {
	Message string `json:"message"`
}
