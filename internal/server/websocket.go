package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/allbin/busscan"
)

const (
	msgProgress = "progress"
	msgResult   = "result"
	msgError    = "error"

	writeWait = 10 * time.Second
)

// WSMessage is one frame of the scan stream
type WSMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// ScanProgress is the wire form of busscan.ScanEvent
type ScanProgress struct {
	Index    int              `json:"index"`
	BaudRate int              `json:"baud_rate"`
	Mode     busscan.ScanMode `json:"mode"`
	Found    []busscan.Device `json:"found,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func progressOf(ev busscan.ScanEvent) ScanProgress {
	p := ScanProgress{
		Index:    ev.Index,
		BaudRate: ev.BaudRate,
		Mode:     ev.Mode,
		Found:    ev.Found,
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	return p
}

type scanOutcome struct {
	devices []busscan.Device
	err     error
}

// scanStream runs one scan per connection and streams a progress frame
// per probe, then a result or error frame. Closing the socket cancels
// the scan.
func (s *Server) scanStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	requestID := getRequestID(c)
	logger := s.logger.With(zap.String("request_id", requestID))
	logger.Info("Scan stream connected", zap.String("remote_addr", c.Request.RemoteAddr))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("Scan stream read error", zap.Error(err))
				}
				return
			}
		}
	}()

	events := make(chan busscan.ScanEvent, 16)
	done := make(chan scanOutcome, 1)
	go func() {
		devices, err := s.svc.Scan(ctx, func(ev busscan.ScanEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
		done <- scanOutcome{devices: devices, err: err}
	}()

	send := func(msgType string, data any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteJSON(WSMessage{
			Type:      msgType,
			Data:      data,
			Timestamp: time.Now(),
			RequestID: requestID,
		})
		if err != nil {
			logger.Warn("Scan stream write failed", zap.Error(err))
			cancel()
			return false
		}
		return true
	}

	for {
		select {
		case ev := <-events:
			send(msgProgress, progressOf(ev))

		case res := <-done:
			// Progress is handed over before Scan returns
			for len(events) > 0 {
				send(msgProgress, progressOf(<-events))
			}
			if res.err != nil {
				logger.Error("Scan failed", zap.Error(res.err))
				send(msgError, gin.H{
					"message": res.err.Error(),
					"devices": res.devices,
				})
			} else {
				send(msgResult, gin.H{
					"devices_found": len(res.devices),
					"devices":       res.devices,
				})
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
