// Package server exposes the capture service over HTTP and WebSocket and
// drives the synthetic stream by polling on a fixed cadence.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Hara602/usbCapture/internal/model"
)

// Service 服务端依赖的捕获操作
type Service interface {
	ScanDevices(ctx context.Context) ([]model.DeviceDescriptor, error)
	StartCapture(vendorID, productID uint16) error
	StopCapture() error
	Poll() ([]model.CapturePacket, bool)
	Stats() model.Stats
}

type Server struct {
	svc      Service
	log      *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func New(svc Service, logger *zap.Logger, interval time.Duration) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:      svc,
		log:      logger,
		interval: interval,
		clients:  make(map[*wsClient]struct{}),
	}
}

// Handler 注册所有路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/devices", s.handleDevices)
	return mux
}

// Run 按固定节奏 poll, 直到 ctx 结束
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PollOnce()
		}
	}
}

// PollOnce 执行一次 poll, 非空批次广播给所有客户端
func (s *Server) PollOnce() {
	packets, ok := s.svc.Poll()
	if !ok || len(packets) == 0 {
		return
	}
	s.broadcast(message("packets", packets))
}

func (s *Server) register(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) unregister(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

func (s *Server) broadcast(msg model.WSMessage) {
	s.mu.Lock()
	clients := lo.Keys(s.clients)
	s.mu.Unlock()

	for _, c := range clients {
		c.send(msg)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.svc.Stats())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	devices, err := s.svc.ScanDevices(r.Context())
	if err != nil {
		s.log.Warn("scan devices failed", zap.Error(err))
		http.Error(w, "scan failed: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, devices)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func message(typ string, v any) model.WSMessage {
	var payload json.RawMessage
	if v != nil {
		payload, _ = json.Marshal(v)
	}
	return model.WSMessage{Type: typ, Payload: payload}
}
