// Package recorder writes synthetic frames to pcap files and reads them back.
package recorder

import (
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"github.com/Hara602/usbCapture/internal/framer"
	"github.com/Hara602/usbCapture/internal/model"
)

// LinkType DLT_USB_LINUX_MMAPPED: 每帧前面是 64 字节的 usbmon 头
const LinkType = layers.LinkTypeLinuxUSB

const (
	snapLen      = 65535
	usbmonHeader = 64

	// usbmon 头里的固定字段
	busNumber     = 1
	deviceAddress = 1
	endpoint      = 1
	flagAbsent    = '-'
)

// Recorder 追加写入 pcap 文件, 同一文件同时只允许一个进程写
type Recorder struct {
	mu   sync.Mutex
	f    *os.File
	w    *pcapgo.Writer
	path string
	seq  uint64
}

// Create 新建 (截断) pcap 文件并写入文件头
func Create(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open capture file")
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "capture file %s is in use", path)
	}
	// 拿到锁之后再截断, 避免破坏别的进程正在写的文件
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "truncate capture file")
	}

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snapLen, LinkType); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "write pcap header")
	}
	return &Recorder{f: f, w: w, path: path}, nil
}

func (r *Recorder) Path() string { return r.path }

// Write 写入带原始帧的数据包, 系统通知没有帧, 直接跳过
func (r *Recorder) Write(packets []model.CapturePacket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return os.ErrClosed
	}
	for _, p := range packets {
		if len(p.Frame) == 0 {
			continue
		}
		ts := time.UnixMilli(int64(p.Timestamp))
		r.seq++
		data := append(usbmon(r.seq, p.PacketType == model.PacketReceive, ts, len(p.Frame)), p.Frame...)
		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := r.w.WritePacket(ci, data); err != nil {
			return errors.Wrap(err, "write packet")
		}
	}
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// usbmon 构造 usbmon_packet 头. 接收帧记为 IN 完成事件, 发送帧记为 OUT 提交事件
func usbmon(id uint64, in bool, ts time.Time, n int) []byte {
	h := make([]byte, usbmonHeader, usbmonHeader+n)
	binary.LittleEndian.PutUint64(h[0:8], id)
	h[8] = byte(layers.USBEventTypeSubmit)
	h[10] = endpoint
	if in {
		h[8] = byte(layers.USBEventTypeComplete)
		h[10] |= byte(layers.USBTransportTypeTransferIn)
	}
	h[9] = byte(layers.USBTransportTypeBulk)
	h[11] = deviceAddress
	binary.LittleEndian.PutUint16(h[12:14], busNumber)
	h[14] = flagAbsent // 没有 setup 包
	h[15] = 0          // 带数据
	binary.LittleEndian.PutUint64(h[16:24], uint64(ts.Unix()))
	binary.LittleEndian.PutUint32(h[24:28], uint32(ts.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(h[32:36], uint32(n))
	binary.LittleEndian.PutUint32(h[36:40], uint32(n))
	return h
}

// Frame 从文件读回的一帧
type Frame struct {
	ID        uint64
	Timestamp time.Time
	Direction framer.Direction
	Data      []byte
}

// ReadFile 读取 pcap 文件中的所有帧
func ReadFile(path string) ([]Frame, layers.LinkType, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrap(err, "open capture file")
	}
	defer f.Close()
	return Read(f)
}

// Read 用 gopacket 的 usbmon 解码器去掉头部, 只接受 LinkType
func Read(src io.Reader) ([]Frame, layers.LinkType, error) {
	r, err := pcapgo.NewReader(src)
	if err != nil {
		return nil, 0, errors.Wrap(err, "read pcap header")
	}
	if r.LinkType() != LinkType {
		return nil, r.LinkType(), errors.Errorf("unsupported link type %s", r.LinkType())
	}
	var frames []Frame
	for {
		data, ci, err := r.ReadPacketData()
		if err == io.EOF {
			return frames, r.LinkType(), nil
		}
		if err != nil {
			return frames, r.LinkType(), errors.Wrap(err, "read packet")
		}
		// 解码器按 len_cap 从尾部切片, 先校验长度
		if len(data) < usbmonHeader || int(binary.LittleEndian.Uint32(data[36:40])) != len(data)-usbmonHeader {
			return frames, r.LinkType(), errors.Errorf("frame %d: malformed usbmon header", len(frames)+1)
		}
		var usb layers.USB
		if err := usb.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return frames, r.LinkType(), errors.Wrapf(err, "decode frame %d", len(frames)+1)
		}
		dir := framer.HostToDevice
		if usb.Direction == layers.USBDirectionTypeIn {
			dir = framer.DeviceToHost
		}
		frames = append(frames, Frame{
			ID:        usb.ID,
			Timestamp: ci.Timestamp,
			Direction: dir,
			Data:      data[usbmonHeader:],
		})
	}
}
