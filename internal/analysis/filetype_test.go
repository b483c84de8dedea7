package analysis

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"go.viam.com/test"

	"github.com/Hara602/usbCapture/internal/framer"
	"github.com/Hara602/usbCapture/internal/model"
	"github.com/Hara602/usbCapture/internal/recorder"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	test.That(t, os.WriteFile(path, data, 0o644), test.ShouldBeNil)
	return path
}

func TestInspectRecordedCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.pcap")
	rec, err := recorder.Create(path)
	test.That(t, err, test.ShouldBeNil)
	frame := framer.Frame(16, framer.DeviceToHost)
	test.That(t, rec.Write([]model.CapturePacket{{Timestamp: 1, Frame: frame}}), test.ShouldBeNil)
	test.That(t, rec.Close(), test.ShouldBeNil)

	res, err := NewTypeInspector().Inspect(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.IsCapture, test.ShouldBeTrue)
	test.That(t, res.RealExt, test.ShouldEqual, "pcap")
	test.That(t, res.Mismatch, test.ShouldBeFalse)
}

func TestInspectMismatchAndOthers(t *testing.T) {
	inspector := NewTypeInspector()

	res, err := inspector.Inspect(writeFile(t, "capture.bin", []byte{0xa1, 0xb2, 0xc3, 0xd4, 0, 2, 0, 4}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.IsCapture, test.ShouldBeTrue)
	test.That(t, res.Mismatch, test.ShouldBeTrue)

	res, err = inspector.Inspect(writeFile(t, "trace.pcapng", []byte{0x0a, 0x0d, 0x0d, 0x0a, 0x1c, 0, 0, 0}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.IsCapture, test.ShouldBeFalse)
	test.That(t, res.RealExt, test.ShouldEqual, "pcapng")

	png := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d}
	res, err = inspector.Inspect(writeFile(t, "capture.pcap", png))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.IsCapture, test.ShouldBeFalse)
	test.That(t, res.RealExt, test.ShouldEqual, "png")
	test.That(t, res.Mismatch, test.ShouldBeTrue)

	res, err = inspector.Inspect(writeFile(t, "notes.txt", []byte("hello")))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.RealExt, test.ShouldEqual, "unknown")

	res, err = inspector.Inspect(writeFile(t, "empty.pcap", nil))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Message, test.ShouldEqual, "Empty file")

	_, err = inspector.Inspect(filepath.Join(t.TempDir(), "missing.pcap"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestInspectReadError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directories cannot be opened for reading on windows")
	}
	dir := filepath.Join(t.TempDir(), "capture.pcap")
	test.That(t, os.Mkdir(dir, 0o755), test.ShouldBeNil)

	res, err := NewTypeInspector().Inspect(dir)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "read file header failed")
	test.That(t, res, test.ShouldBeNil)
}
