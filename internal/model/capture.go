package model

// PacketType 数据包类型, 序列化为序号
type PacketType int

const (
	PacketReceive PacketType = iota // 设备 -> 主机
	PacketSend                      // 主机 -> 设备
	PacketSystem                    // 系统通知
)

func (t PacketType) String() string {
	switch t {
	case PacketReceive:
		return "receive"
	case PacketSend:
		return "send"
	case PacketSystem:
		return "system"
	}
	return "unknown"
}

// DeviceDescriptor 枚举得到的 USB 设备信息, 每次扫描重新生成
type DeviceDescriptor struct {
	VendorID    uint16 `json:"vendor_id"`
	ProductID   uint16 `json:"product_id"`
	VendorName  string `json:"vendor_name"`
	ProductName string `json:"product_name"`
	DeviceID    string `json:"device_id"`
}

// CapturePacket 一次 poll 产生的数据包
type CapturePacket struct {
	Timestamp  uint64     `json:"timestamp"` // 毫秒
	PacketType PacketType `json:"packet_type"`
	Content    string     `json:"content"`
	DataLength int        `json:"data_length"`

	// Frame 原始帧字节, 只在进程内流转 (recorder 使用), 不参与序列化
	Frame []byte `json:"-"`
}

// Stats 计数器快照
type Stats struct {
	PacketCounter uint64 `json:"packet_counter"`
	BytesReceived uint64 `json:"bytes_received"`
	BytesSent     uint64 `json:"bytes_sent"`
	IsCapturing   bool   `json:"is_capturing"`
}
