package api

import (
	"context"
	"log"
	"time"

	"acexpander/job"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	eventBuffer       = 64
	eventWriteTimeout = 5 * time.Second
)

// handleEvents streams engine events to a websocket client as JSON. A
// client that stops reading for longer than the write timeout, or falls
// a full buffer behind, is dropped.
func (h *Handler) handleEvents(c *gin.Context) {
	// Subscribe before the handshake so the client sees every event after
	// its dial returns.
	obs := job.NewChannelObserver(eventBuffer)
	unsubscribe := h.engine.Subscribe(obs)
	defer unsubscribe()
	defer obs.Close()

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Event stream handshake failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "event stream closed")

	ctx := conn.CloseRead(c.Request.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-obs.Done():
			if len(obs.Events()) == 0 {
				conn.Close(websocket.StatusTryAgainLater, "event stream fell behind")
				return
			}
		case ev := <-obs.Events():
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				log.Printf("Event stream closed: %v", err)
				return
			}
		}
	}
}
