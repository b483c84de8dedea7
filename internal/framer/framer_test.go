package framer

import (
	"testing"

	"go.viam.com/test"
)

func TestFrameDeviceToHost(t *testing.T) {
	got := Frame(16, DeviceToHost)
	want := []byte{0x80, 0x69, 0x12, 0x34, 0x1C, 0x23, 0x2A, 0x31, 0x38, 0x3F, 0x46, 0x4D, 0x54, 0x5B, 0x56, 0x78}
	test.That(t, got, test.ShouldResemble, want)
	test.That(t, len(got), test.ShouldEqual, 16)
}

func TestFrameHostToDevice(t *testing.T) {
	got := Frame(8, HostToDevice)
	test.That(t, got, test.ShouldResemble, []byte{0x80, 0xE1, 0xAB, 0xCD, 0x2C, 0x37, 0x9A, 0xBC})
}

func TestFrameShortTarget(t *testing.T) {
	for _, target := range []int{-3, 0, 1, 5, 6} {
		got := Frame(target, HostToDevice)
		test.That(t, got, test.ShouldResemble, []byte{0x80, 0xE1, 0xAB, 0xCD, 0x9A, 0xBC})
	}
	test.That(t, PayloadLength(7), test.ShouldEqual, 1)
}

func TestFramePayloadWraps(t *testing.T) {
	// (40+4)*7 = 308 -> 0x34
	got := Frame(Overhead+41, DeviceToHost)
	test.That(t, got[4+40], test.ShouldEqual, byte(0x34))
	test.That(t, got[len(got)-2:], test.ShouldResemble, []byte{0x56, 0x78})
}

func TestFrameDeterministic(t *testing.T) {
	test.That(t, Frame(32, DeviceToHost), test.ShouldResemble, Frame(32, DeviceToHost))
}

func TestRender(t *testing.T) {
	test.That(t, Render(Frame(8, HostToDevice)), test.ShouldEqual, "HEX: 80 E1 AB CD 2C 37 9A BC (8 bytes)")
	test.That(t, DeviceToHost.String(), test.ShouldEqual, "device_to_host")
	test.That(t, HostToDevice.String(), test.ShouldEqual, "host_to_device")
}
