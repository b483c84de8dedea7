// Package config loads the YAML configuration shared by the binaries.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPath 未指定 --config 时读取的环境变量
const EnvPath = "USBCAP_CONFIG"

type Config struct {
	Log      LogConfig      `yaml:"log"`
	USB      USBConfig      `yaml:"usb"`
	Journal  JournalConfig  `yaml:"journal"`
	Recorder RecorderConfig `yaml:"recorder"`
	Hotplug  HotplugConfig  `yaml:"hotplug"`
	Server   ServerConfig   `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Output string `yaml:"output"` // stdout, stderr
}

type USBConfig struct {
	Backend     string        `yaml:"backend"` // libusb, udev
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// JournalConfig 为空路径时不记录
type JournalConfig struct {
	Path string `yaml:"path"`
}

// RecorderConfig 为空路径时不录制 pcap
type RecorderConfig struct {
	Path string `yaml:"path"`
}

type HotplugConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func Default() Config {
	return Config{
		Log:    LogConfig{Level: "info", Output: "stderr"},
		USB:    USBConfig{Backend: "libusb", ScanTimeout: 5 * time.Second},
		Server: ServerConfig{Listen: ":8080", PollInterval: 200 * time.Millisecond},
	}
}

// Load 读取配置文件, 未出现的字段保留默认值. path 为空时依次尝试环境变量和默认值
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.USB.Backend {
	case "libusb", "udev":
	default:
		return errors.Errorf("usb.backend: unknown backend %q", c.USB.Backend)
	}
	switch c.Log.Output {
	case "stdout", "stderr":
	default:
		return errors.Errorf("log.output: must be stdout or stderr, got %q", c.Log.Output)
	}
	if c.Server.PollInterval <= 0 {
		return errors.Errorf("server.poll_interval: must be positive, got %s", c.Server.PollInterval)
	}
	if c.USB.ScanTimeout < 0 {
		return errors.Errorf("usb.scan_timeout: must not be negative, got %s", c.USB.ScanTimeout)
	}
	return nil
}
