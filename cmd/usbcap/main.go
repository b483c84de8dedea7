package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Hara602/usbCapture/internal/capture"
	"github.com/Hara602/usbCapture/internal/config"
	"github.com/Hara602/usbCapture/internal/sysutil"
)

func main() {
	app := &cli.App{
		Name:  "usbcap",
		Usage: "enumerate USB devices and drive the synthetic capture stream",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config",
				EnvVars: []string{config.EnvPath},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "override usb.backend (libusb, udev)",
			},
		},
		Before: setup,
		After: func(*cli.Context) error {
			if sysutil.Log != nil {
				sysutil.Log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			scanCommand,
			captureCommand,
			serveCommand,
			inspectCommand,
			historyCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "usbcap:", err)
		os.Exit(1)
	}
}

// setup 加载配置并初始化日志, 结果放在 App.Metadata 里给子命令使用
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if backend := c.String("backend"); backend != "" {
		cfg.USB.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sysutil.InitLogger(cfg.Log)
	c.App.Metadata = map[string]interface{}{"config": cfg}
	return nil
}

func configFrom(c *cli.Context) config.Config {
	return c.App.Metadata["config"].(config.Config)
}

// newService 创建并初始化服务, 调用方负责 Cleanup
func newService(c *cli.Context) (*capture.Service, error) {
	svc, err := capture.New(configFrom(c), sysutil.Log)
	if err != nil {
		return nil, err
	}
	if err := svc.Init(); err != nil {
		return nil, err
	}
	return svc, nil
}

func cleanup(svc *capture.Service) {
	if err := svc.Cleanup(); err != nil {
		sysutil.Log.Warn("cleanup", zap.Error(err))
	}
}
