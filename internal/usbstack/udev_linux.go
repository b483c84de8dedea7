package usbstack

import (
	"context"

	"github.com/pilebones/go-udev/crawler"
)

// udevBackend 遍历 /sys/devices 下的 uevent 文件, 不依赖 libusb
type udevBackend struct{}

func OpenUdev() (Backend, error) {
	return udevBackend{}, nil
}

func (udevBackend) Devices(ctx context.Context) ([]Candidate, error) {
	queue := make(chan crawler.Device)
	// crawler 在路径不存在时会同步写入 errs, 必须带缓冲
	errs := make(chan error, 1)
	quit := crawler.ExistingDevices(queue, errs, nil)
	defer close(quit)

	var out []Candidate
	for {
		select {
		case <-ctx.Done():
			// crawler 可能阻塞在发送上, 放掉剩余设备让它退出
			go func() {
				for range queue {
				}
			}()
			return nil, ctx.Err()
		case err := <-errs:
			return nil, err
		case dev, ok := <-queue:
			if !ok {
				return out, nil
			}
			if c, ok := candidateFromEnv(dev.KObj, dev.Env); ok {
				out = append(out, c)
			}
		}
	}
}

func (udevBackend) Close() error { return nil }
