package analysis

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

// Result 检测结果
type Result struct {
	IsCapture   bool   // 是否是可读取的抓包文件
	RealExt     string // 真实的类型后缀 (根据文件头)
	DeclaredExt string // 声明的后缀 (文件名)
	Mismatch    bool   // 后缀与文件头不一致
	Message     string // 详细描述
}

var (
	pcapType   = filetype.NewType("pcap", "application/vnd.tcpdump.pcap")
	pcapngType = filetype.NewType("pcapng", "application/x-pcapng")

	registerOnce sync.Once
)

// pcap 魔数, 微秒/纳秒两种精度, 大小端各一种
var pcapMagics = [][]byte{
	{0xd4, 0xc3, 0xb2, 0xa1},
	{0xa1, 0xb2, 0xc3, 0xd4},
	{0x4d, 0x3c, 0xb2, 0xa1},
	{0xa1, 0xb2, 0x3c, 0x4d},
}

func pcapMatcher(buf []byte) bool {
	for _, magic := range pcapMagics {
		if bytes.HasPrefix(buf, magic) {
			return true
		}
	}
	return false
}

// pcapng Section Header Block
func pcapngMatcher(buf []byte) bool {
	return bytes.HasPrefix(buf, []byte{0x0a, 0x0d, 0x0d, 0x0a})
}

// TypeInspector 抓包文件类型检查器
type TypeInspector struct {
	// 可以被 recorder.ReadFile 读取的类型
	readable map[string]bool
}

// NewTypeInspector 初始化检查器
func NewTypeInspector() *TypeInspector {
	registerOnce.Do(func() {
		filetype.AddMatcher(pcapType, pcapMatcher)
		filetype.AddMatcher(pcapngType, pcapngMatcher)
	})
	return &TypeInspector{
		readable: map[string]bool{pcapType.Extension: true},
	}
}

// Inspect 执行检测
func (t *TypeInspector) Inspect(filePath string) (*Result, error) {
	declaredExt := strings.ToLower(strings.TrimPrefix(filepath.Ext(filePath), "."))

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file failed: %w", err)
	}
	defer file.Close()

	// 读取文件头 (262 bytes 是 filetype 库建议的最佳长度)
	head := make([]byte, 262)
	n, err := file.Read(head)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read file header failed: %w", err)
	}
	if n == 0 {
		return &Result{DeclaredExt: declaredExt, Message: "Empty file"}, nil
	}

	kind, _ := filetype.Match(head[:n])
	if kind == filetype.Unknown {
		return &Result{
			RealExt:     "unknown",
			DeclaredExt: declaredExt,
			Message:     "Unknown binary signature",
		}, nil
	}

	return t.result(kind, declaredExt), nil
}

func (t *TypeInspector) result(kind types.Type, declaredExt string) *Result {
	r := &Result{
		IsCapture:   t.readable[kind.Extension],
		RealExt:     kind.Extension,
		DeclaredExt: declaredExt,
		Mismatch:    declaredExt != "" && declaredExt != kind.Extension,
	}
	switch {
	case r.IsCapture:
		r.Message = fmt.Sprintf("%s capture file", kind.Extension)
	case kind == pcapngType:
		r.Message = "pcapng is not supported, convert with: editcap -F pcap"
	default:
		r.Message = fmt.Sprintf("not a capture file: %s (%s)", kind.Extension, kind.MIME.Value)
	}
	if r.Mismatch {
		r.Message += fmt.Sprintf("; extension .%s does not match header", declaredExt)
	}
	return r
}
