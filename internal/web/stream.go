package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 << 10,
	// the API is open to any origin, like the CORS policy
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleMJPEGStream streams annotated frames as multipart/x-mixed-replace
func (s *Server) handleMJPEGStream(c *gin.Context) {
	if !s.deps.Pipeline.Active() {
		s.respondError(c, pipeline.ErrNotActive)
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no") // disable nginx buffering if behind proxy
	c.Status(http.StatusOK)
	c.Writer.Flush()

	rc := http.NewResponseController(c.Writer)
	session := s.deps.Pipeline.NewSession()

	err := session.Run(c.Request.Context(), pipeline.FrameWriterFunc(func(jpeg []byte) error {
		// not every writer supports deadlines
		_ = rc.SetWriteDeadline(time.Now().Add(s.cfg.StreamWriteTimeout))

		if _, err := fmt.Fprintf(c.Writer, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg)); err != nil {
			return err
		}
		if _, err := c.Writer.Write(jpeg); err != nil {
			return err
		}
		if _, err := io.WriteString(c.Writer, "\r\n"); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}))
	if err != nil {
		s.LogDebug("MJPEG viewer gone", "session_id", session.ID, "error", err)
	}
}

// handleWebSocketStream sends each new frame as one binary message
func (s *Server) handleWebSocketStream(c *gin.Context) {
	if !s.deps.Pipeline.Active() {
		s.respondError(c, pipeline.ErrNotActive)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already answered
		s.LogDebug("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// a hijacked request is not cancelled on disconnect; reading is the
	// only way to notice the client left
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	session := s.deps.Pipeline.NewSession()
	err = session.Run(ctx, pipeline.FrameWriterFunc(func(jpeg []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.StreamWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.BinaryMessage, jpeg)
	}))
	if err != nil {
		s.LogDebug("WebSocket viewer gone", "session_id", session.ID, "error", err)
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
