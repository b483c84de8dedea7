package watcher

import (
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"github.com/Hara602/usbCapture/internal/model"
)

type linuxWatcher struct {
	events   chan model.DeviceEvent
	stop     chan struct{}
	stopOnce sync.Once
}

func newWatcher() DeviceWatcher {
	return &linuxWatcher{
		events: make(chan model.DeviceEvent, 10),
		stop:   make(chan struct{}),
	}
}

func (w *linuxWatcher) Start() (<-chan model.DeviceEvent, error) {
	// 监听 UDEV 事件,连接 NETLINK_KOBJECT_UEVENT
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, err
	}
	queue := make(chan netlink.UEvent)
	errChan := make(chan error)

	quit := conn.Monitor(queue, errChan, nil)

	go func() {
		// 确保退出时关闭连接
		defer conn.Close()

		for {
			select {
			case <-w.stop:
				close(quit)
				return

			case <-errChan:
				// 忽略底层网络错误，继续尝试
				continue

			case uevent := <-queue:
				ev, ok := eventFromEnv(string(uevent.Action), uevent.KObj, uevent.Env, time.Now())
				if !ok {
					continue
				}
				select {
				case w.events <- ev:
				case <-w.stop:
					close(quit)
					return
				}
			}
		}
	}()
	return w.events, nil
}

func (w *linuxWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}
