package watcher

import (
	"time"

	"github.com/Hara602/usbCapture/internal/model"
	"github.com/Hara602/usbCapture/internal/usbstack"
)

// DeviceWatcher 定义接口
type DeviceWatcher interface {
	Start() (<-chan model.DeviceEvent, error)
	Stop()
}

func New() DeviceWatcher {
	return newWatcher()
}

// eventFromEnv 只处理 usb_device 的 add/remove, 接口节点和其他子系统忽略
func eventFromEnv(action, kobj string, env map[string]string, now time.Time) (model.DeviceEvent, bool) {
	if action != "add" && action != "remove" {
		return model.DeviceEvent{}, false
	}
	if env["SUBSYSTEM"] != "usb" || env["DEVTYPE"] != "usb_device" {
		return model.DeviceEvent{}, false
	}
	vid, pid, err := usbstack.ParseProduct(env["PRODUCT"])
	if err != nil {
		return model.DeviceEvent{}, false
	}
	return model.DeviceEvent{
		Action:    action,
		VendorID:  vid,
		ProductID: pid,
		DeviceID:  usbstack.DeviceID(vid, pid),
		KObj:      kobj,
		TimeStamp: now,
	}, true
}
