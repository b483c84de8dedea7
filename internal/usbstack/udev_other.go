//go:build !linux

package usbstack

import "github.com/pkg/errors"

// OpenUdev is only available on linux.
func OpenUdev() (Backend, error) {
	return nil, errors.New("udev backend is only supported on linux")
}
