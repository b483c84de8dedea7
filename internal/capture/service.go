// Package capture wires the USB stack, the capture session and the optional
// journal, recorder and hotplug watcher into the operations exposed to hosts.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Hara602/usbCapture/internal/config"
	"github.com/Hara602/usbCapture/internal/journal"
	"github.com/Hara602/usbCapture/internal/model"
	"github.com/Hara602/usbCapture/internal/recorder"
	"github.com/Hara602/usbCapture/internal/session"
	"github.com/Hara602/usbCapture/internal/usbstack"
	"github.com/Hara602/usbCapture/internal/watcher"
)

// Service 显式构造, 替代进程级全局状态
type Service struct {
	cfg     config.Config
	log     *zap.Logger
	now     func() time.Time
	stack   *usbstack.Stack
	session *session.Session

	newWatcher func() watcher.DeviceWatcher

	// mu 保护下面的附属资源, 并串行化 start/stop 与对应的 journal 记录.
	// 加锁顺序只能是 mu -> session, session 内部不会回调 Service
	mu       sync.Mutex
	journal  *journal.Journal
	recorder *recorder.Recorder
	watcher  watcher.DeviceWatcher
	done     chan struct{}
}

type Option func(*Service)

// WithOpener replaces the backend selected by cfg.USB.Backend.
func WithOpener(open usbstack.Opener) Option {
	return func(s *Service) { s.stack = usbstack.New(open, s.log) }
}

// WithClock is used for packet timestamps and journal times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.session = session.New(session.WithClock(now))
	}
}

// WithWatcher replaces the udev hotplug watcher.
func WithWatcher(newWatcher func() watcher.DeviceWatcher) Option {
	return func(s *Service) { s.newWatcher = newWatcher }
}

func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:        cfg,
		log:        logger,
		now:        time.Now,
		session:    session.New(),
		newWatcher: watcher.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stack == nil {
		open, err := usbstack.OpenerFor(cfg.USB.Backend)
		if err != nil {
			return nil, err
		}
		s.stack = usbstack.New(open, logger)
	}
	return s, nil
}

// Init 创建 USB 上下文, 并按配置打开 journal / recorder / watcher.
// 附属资源失败只记录日志, 不影响 Init 结果
func (s *Service) Init() error {
	if err := s.stack.Init(); err != nil {
		return err
	}
	s.log.Info("🔌 USB context ready", zap.String("backend", s.cfg.USB.Backend))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Journal.Path != "" && s.journal == nil {
		j, err := journal.Open(s.cfg.Journal.Path)
		if err != nil {
			s.log.Error("journal disabled", zap.String("path", s.cfg.Journal.Path), zap.Error(err))
		} else {
			s.journal = j
		}
	}
	if s.cfg.Recorder.Path != "" && s.recorder == nil {
		r, err := recorder.Create(s.cfg.Recorder.Path)
		if err != nil {
			s.log.Error("recorder disabled", zap.String("path", s.cfg.Recorder.Path), zap.Error(err))
		} else {
			s.recorder = r
		}
	}
	if s.cfg.Hotplug.Enabled && s.watcher == nil {
		s.startWatcher()
	}
	return nil
}

// Cleanup 销毁上下文并强制回到 Idle, 防止上下文销毁后仍处于 "捕获中"
func (s *Service) Cleanup() error {
	err := s.stack.Cleanup()

	s.mu.Lock()
	defer s.mu.Unlock()

	wasCapturing := s.session.ForceIdle()
	if wasCapturing {
		s.log.Info("capture forced idle by cleanup")
	}
	stats := s.session.Stats()

	if s.watcher != nil {
		s.watcher.Stop()
		close(s.done)
		s.watcher = nil
	}
	if s.journal != nil {
		if wasCapturing {
			s.closeJournalSession(stats)
		}
		err = multierr.Append(err, s.journal.Close())
		s.journal = nil
	}
	if s.recorder != nil {
		err = multierr.Append(err, s.recorder.Close())
		s.recorder = nil
	}
	return err
}

// ScanDevices 与会话状态无关, 只使用 stack 自己的锁
func (s *Service) ScanDevices(ctx context.Context) ([]model.DeviceDescriptor, error) {
	s.log.Info("scanning USB devices")
	devices, err := s.stack.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	s.log.Info("scan finished", zap.Int("devices", len(devices)))

	if j := s.currentJournal(); j != nil {
		if err := j.RecordDevices(ctx, devices, s.now()); err != nil {
			s.log.Warn("journal: record devices", zap.Error(err))
		}
	}
	return devices, nil
}

// StartCapture 状态切换和 journal 记录在 s.mu 内完成, 不会与并发的 Stop 交错
func (s *Service) StartCapture(vendorID, productID uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.session.Start(vendorID, productID); err != nil {
		return err
	}
	s.log.Info("✅ capture started", zap.String("device", usbstack.DeviceID(vendorID, productID)))

	if s.journal != nil {
		if _, err := s.journal.SessionStarted(context.Background(), vendorID, productID, s.session.Stats(), s.now()); err != nil {
			s.log.Warn("journal: session started", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) StopCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.session.Stop(); err != nil {
		return err
	}
	stats := s.session.Stats()
	s.log.Info("capture stopped",
		zap.Uint64("packets", stats.PacketCounter),
		zap.Uint64("bytes_received", stats.BytesReceived),
		zap.Uint64("bytes_sent", stats.BytesSent))

	if s.journal != nil {
		s.closeJournalSession(stats)
	}
	return nil
}

// Poll 推进一次模拟流; 录制在会话锁释放之后进行
func (s *Service) Poll() ([]model.CapturePacket, bool) {
	packets, ok := s.session.Poll()
	if !ok || len(packets) == 0 {
		return packets, ok
	}

	s.mu.Lock()
	rec := s.recorder
	s.mu.Unlock()
	if rec != nil {
		if err := rec.Write(packets); err != nil {
			s.log.Warn("recorder: write", zap.Error(err))
		}
	}
	return packets, true
}

func (s *Service) Stats() model.Stats {
	return s.session.Stats()
}

func (s *Service) currentJournal() *journal.Journal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journal
}

// closeJournalSession 调用方持有 s.mu
func (s *Service) closeJournalSession(stats model.Stats) {
	if _, err := s.journal.SessionStopped(context.Background(), stats, s.now()); err != nil {
		s.log.Warn("journal: session stopped", zap.Error(err))
	}
}

// startWatcher 调用方持有 s.mu
func (s *Service) startWatcher() {
	w := s.newWatcher()
	events, err := w.Start()
	if err != nil {
		s.log.Error("hotplug watcher disabled", zap.Error(err))
		return
	}
	s.watcher = w
	s.done = make(chan struct{})
	go s.consumeEvents(events, s.done)
}

func (s *Service) consumeEvents(events <-chan model.DeviceEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleDeviceEvent(ev)
		}
	}
}

func (s *Service) handleDeviceEvent(ev model.DeviceEvent) {
	switch ev.Action {
	case "add":
		s.log.Info("✅ USB Connected", zap.String("device", ev.DeviceID), zap.String("kobj", ev.KObj))
	case "remove":
		s.log.Info("❌ USB Removed", zap.String("device", ev.DeviceID), zap.String("kobj", ev.KObj))
	}
	text := fmt.Sprintf("device %s %s", ev.DeviceID, actionText(ev.Action))
	if s.session.Notice(ev.VendorID, ev.ProductID, text) {
		s.log.Warn("selected device changed during capture", zap.String("device", ev.DeviceID), zap.String("action", ev.Action))
	}
}

func actionText(action string) string {
	if action == "add" {
		return "connected"
	}
	return "removed"
}
