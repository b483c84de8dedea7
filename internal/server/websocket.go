package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Hara602/usbCapture/internal/model"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 256 // 缓冲满时丢弃 packets 消息

	scanTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	// 宿主 UI 一般从本地文件或其他端口加载
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	srv    *Server
	conn   *websocket.Conn
	sendCh chan model.WSMessage
	done   chan struct{}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{
		srv:    s,
		conn:   conn,
		sendCh: make(chan model.WSMessage, sendBuffer),
		done:   make(chan struct{}),
	}
	s.register(c)
	s.log.Info("client connected", zap.String("remote", r.RemoteAddr))
	go c.writeLoop()
	c.readLoop()
	s.log.Info("client disconnected", zap.String("remote", r.RemoteAddr))
}

// send 不阻塞. 缓冲满时丢弃数据包, 控制消息挤掉一条旧消息后入队
func (c *wsClient) send(msg model.WSMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.sendCh <- msg:
		return
	default:
	}
	if msg.Type == "packets" {
		return
	}
	select {
	case <-c.sendCh:
	default:
	}
	select {
	case c.sendCh <- msg:
	default:
	}
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) readLoop() {
	defer func() {
		c.srv.unregister(c)
		close(c.done)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg model.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message format")
			continue
		}
		c.handleCommand(msg)
	}
}

func (c *wsClient) handleCommand(msg model.WSMessage) {
	svc := c.srv.svc
	switch msg.Type {
	case "scan_devices":
		ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
		devices, err := svc.ScanDevices(ctx)
		cancel()
		if err != nil {
			c.sendError("scan failed: " + err.Error())
			return
		}
		c.send(message("devices", devices))

	case "start_capture":
		var req model.StartCaptureRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("invalid start_capture payload")
			return
		}
		if err := svc.StartCapture(req.VendorID, req.ProductID); err != nil {
			c.sendError("start capture: " + err.Error())
			return
		}
		c.srv.broadcast(message("capture_started", req))

	case "stop_capture":
		if err := svc.StopCapture(); err != nil {
			c.sendError("stop capture: " + err.Error())
			return
		}
		c.srv.broadcast(message("capture_stopped", svc.Stats()))

	case "get_stats":
		c.send(message("stats", svc.Stats()))

	default:
		c.sendError("unknown command: " + msg.Type)
	}
}

func (c *wsClient) sendError(text string) {
	c.send(message("error", model.ErrorPayload{Message: text}))
}
