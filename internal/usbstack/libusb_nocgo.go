//go:build !cgo

package usbstack

import "github.com/pkg/errors"

// OpenLibusb is unavailable without cgo.
func OpenLibusb() (Backend, error) {
	return nil, errors.New("libusb backend requires cgo")
}
