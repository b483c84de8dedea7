// Package framer builds synthetic USB link-layer frames.
//
// A frame is a 4 byte header (SYNC, PID, ADDR, ENDP), a payload and a
// 2 byte pseudo CRC trailer. The trailer is fixed per direction and is not
// a checksum of the payload.
package framer

import "fmt"

// Overhead 头部 4 字节 + CRC 2 字节
const Overhead = 6

// SyncByte 同步字段
const SyncByte = 0x80

// Direction 传输方向
type Direction int

const (
	DeviceToHost Direction = iota
	HostToDevice
)

func (d Direction) String() string {
	if d == DeviceToHost {
		return "device_to_host"
	}
	return "host_to_device"
}

type profile struct {
	pid, addr, endp byte
	multiplier      int
	crc             [2]byte
}

var (
	// DATA0
	deviceToHost = profile{pid: 0x69, addr: 0x12, endp: 0x34, multiplier: 7, crc: [2]byte{0x56, 0x78}}
	// DATA1
	hostToDevice = profile{pid: 0xE1, addr: 0xAB, endp: 0xCD, multiplier: 11, crc: [2]byte{0x9A, 0xBC}}
)

func profileFor(d Direction) profile {
	if d == DeviceToHost {
		return deviceToHost
	}
	return hostToDevice
}

// PayloadLength returns max(target-Overhead, 0).
func PayloadLength(target int) int {
	if target <= Overhead {
		return 0
	}
	return target - Overhead
}

// Frame returns the frame for a target length. The result is never shorter
// than Overhead bytes.
func Frame(target int, d Direction) []byte {
	p := profileFor(d)
	n := PayloadLength(target)

	data := make([]byte, 0, n+Overhead)
	data = append(data, SyncByte, p.pid, p.addr, p.endp)
	for i := 0; i < n; i++ {
		data = append(data, byte((i+4)*p.multiplier))
	}
	return append(data, p.crc[0], p.crc[1])
}

// Render 生成 content 字段: 大写十六进制, 空格分隔, 附带总字节数
func Render(frame []byte) string {
	return fmt.Sprintf("HEX: % X (%d bytes)", frame, len(frame))
}
