//go:build !linux

package watcher

import "github.com/Hara602/usbCapture/internal/model"

type nopWatcher struct{}

func newWatcher() DeviceWatcher                                { return &nopWatcher{} }
func (w *nopWatcher) Start() (<-chan model.DeviceEvent, error) { return nil, nil }
func (w *nopWatcher) Stop()                                    {}
