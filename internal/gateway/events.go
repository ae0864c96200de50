package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const eventWriteTimeout = 5 * time.Second

// handleEvents streams processing events as JSON text frames. An optional
// ?group= narrows the stream to one group. The stream is one-way: client
// frames are discarded.
func (g *Gateway) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.hub == nil {
			writeError(w, http.StatusServiceUnavailable, "event stream not available")
			return
		}
		group := r.URL.Query().Get("group")

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("gateway: websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		events, cancel := g.hub.Subscribe(g.config.EventBuffer)
		defer cancel()

		// CloseRead returns a context cancelled when the peer goes away.
		ctx := conn.CloseRead(r.Context())
		g.logger.Debug("gateway: event subscriber connected", "remote_addr", r.RemoteAddr, "group", group)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				if group != "" && ev.Group != group {
					continue
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
				err = conn.Write(wctx, websocket.MessageText, data)
				wcancel()
				if err != nil {
					return
				}
			}
		}
	}
}
