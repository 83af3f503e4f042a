package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// eventWriteTimeout bounds a single websocket write.
const eventWriteTimeout = 5 * time.Second

// handleEvents upgrades to a websocket and streams hub events as JSON text
// messages until the client disconnects or the hub closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		s.writeError(w, r, fmt.Errorf("%w: event stream is not configured", errDisabled))
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		s.logger(r).Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	sub := s.deps.Events.Subscribe()
	defer func() {
		sub.Close()
		if n := sub.Dropped(); n > 0 {
			s.logger(r).Warn("event stream client lagged", "dropped", n)
		}
	}()

	// The client never sends; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	s.logger(r).Debug("event stream opened")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				s.logger(r).Debug("event stream closed", "err", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
