package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Hara602/usbCapture/internal/analysis"
	"github.com/Hara602/usbCapture/internal/journal"
	"github.com/Hara602/usbCapture/internal/model"
	"github.com/Hara602/usbCapture/internal/recorder"
	"github.com/Hara602/usbCapture/internal/server"
	"github.com/Hara602/usbCapture/internal/sysutil"
	"github.com/Hara602/usbCapture/internal/usbstack"
)

var scanCommand = &cli.Command{
	Name:  "scan",
	Usage: "list USB devices",
	Action: func(c *cli.Context) error {
		svc, err := newService(c)
		if err != nil {
			return err
		}
		defer cleanup(svc)

		ctx, cancel := scanContext(c.Context, configFrom(c).USB.ScanTimeout)
		defer cancel()
		devices, err := svc.ScanDevices(ctx)
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Device ID", "Vendor", "Product"})
		t.AppendRows(lo.Map(devices, func(d model.DeviceDescriptor, _ int) table.Row {
			return table.Row{d.DeviceID, d.VendorName, d.ProductName}
		}))
		t.AppendFooter(table.Row{fmt.Sprintf("%d devices", len(devices))})
		t.Render()
		return nil
	},
}

var captureCommand = &cli.Command{
	Name:  "capture",
	Usage: "run the synthetic capture stream for a device",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "vid", Usage: "vendor id (hex)", Required: true},
		&cli.StringFlag{Name: "pid", Usage: "product id (hex)", Required: true},
		&cli.IntFlag{Name: "polls", Usage: "number of polls, 0 runs until interrupted", Value: 20},
		&cli.DurationFlag{Name: "interval", Usage: "delay between polls", Value: 100 * time.Millisecond},
	},
	Action: func(c *cli.Context) error {
		vid, err := usbstack.ParseHexID(c.String("vid"))
		if err != nil {
			return err
		}
		pid, err := usbstack.ParseHexID(c.String("pid"))
		if err != nil {
			return err
		}

		svc, err := newService(c)
		if err != nil {
			return err
		}
		defer cleanup(svc)

		if err := svc.StartCapture(vid, pid); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ticker := time.NewTicker(c.Duration("interval"))
		defer ticker.Stop()
	loop:
		for n := 0; c.Int("polls") == 0 || n < c.Int("polls"); n++ {
			packets, _ := svc.Poll()
			for _, p := range packets {
				fmt.Printf("%s  %-7s %s\n", time.UnixMilli(int64(p.Timestamp)).Format("15:04:05.000"), p.PacketType, p.Content)
			}
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
			}
		}

		if err := svc.StopCapture(); err != nil {
			return err
		}
		st := svc.Stats()
		fmt.Printf("polls=%d received=%s sent=%s\n", st.PacketCounter,
			humanize.Bytes(st.BytesReceived), humanize.Bytes(st.BytesSent))
		return nil
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "serve the capture stream over WebSocket",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "listen", Usage: "override server.listen"},
	},
	Action: func(c *cli.Context) error {
		cfg := configFrom(c)
		if l := c.String("listen"); l != "" {
			cfg.Server.Listen = l
		}
		svc, err := newService(c)
		if err != nil {
			return err
		}
		defer cleanup(svc)

		srv := server.New(svc, sysutil.Log.Named("server"), cfg.Server.PollInterval)
		httpServer := &http.Server{Addr: cfg.Server.Listen, Handler: srv.Handler()}

		// 捕获操作系统信号，优雅关闭服务器
		ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go srv.Run(ctx)

		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.ListenAndServe() }()
		sysutil.Log.Info("🛡️ usbcap server listening", zap.String("addr", cfg.Server.Listen))

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			sysutil.Log.Info("Shutting down...")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	},
}

var inspectCommand = &cli.Command{
	Name:      "inspect",
	Usage:     "print the frames of a recorded capture file",
	ArgsUsage: "FILE",
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return errors.New("missing capture file")
		}
		res, err := analysis.NewTypeInspector().Inspect(path)
		if err != nil {
			return err
		}
		if !res.IsCapture {
			return errors.Errorf("%s: %s", path, res.Message)
		}
		if res.Mismatch {
			sysutil.Log.Warn(res.Message, zap.String("file", path))
		}

		frames, linkType, err := recorder.ReadFile(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s: link type %s, %d frames\n", path, linkType, len(frames))
		for _, f := range frames {
			fmt.Printf("%4d  %s  %-14s % X\n", f.ID, f.Timestamp.Format("15:04:05.000"), f.Direction, f.Data)
		}
		return nil
	},
}

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "show capture sessions recorded in the journal",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Value: 20},
		&cli.BoolFlag{Name: "devices", Usage: "list seen devices instead of sessions"},
	},
	Action: func(c *cli.Context) error {
		path := configFrom(c).Journal.Path
		if path == "" {
			return errors.New("journal.path is not configured")
		}
		j, err := journal.Open(path)
		if err != nil {
			return err
		}
		defer j.Close()

		t := newTable()
		if c.Bool("devices") {
			devices, err := j.Devices(c.Context)
			if err != nil {
				return err
			}
			t.AppendHeader(table.Row{"Device ID", "First seen", "Last seen", "Scans"})
			for _, d := range devices {
				t.AppendRow(table.Row{d.DeviceID, humanize.Time(d.FirstSeen), humanize.Time(d.LastSeen), d.SeenCount})
			}
			t.Render()
			return nil
		}

		sessions, err := j.Sessions(c.Context, c.Int("limit"))
		if err != nil {
			return err
		}
		t.AppendHeader(table.Row{"Session", "Device", "Started", "Duration", "Polls", "Received", "Sent"})
		for _, s := range sessions {
			row := table.Row{s.ID[:8], usbstack.DeviceID(s.VendorID, s.ProductID), s.StartedAt.Format(time.DateTime), "running", "-", "-", "-"}
			if s.End != nil {
				row[3] = s.StoppedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
				row[4] = s.Packets()
				row[5] = humanize.Bytes(s.End.BytesReceived - s.Start.BytesReceived)
				row[6] = humanize.Bytes(s.End.BytesSent - s.Start.BytesSent)
			}
			t.AppendRow(row)
		}
		t.Render()
		return nil
	},
}

// scanContext 与 boundary 一致: 超时 <= 0 表示不限时
func scanContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}
