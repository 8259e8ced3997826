package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

func (h *Hub) upgrader() websocket.Upgrader {
	allowed := h.opts.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
					return true
				}
			}
			return false
		},
	}
}

// ServeWS upgrades r to a websocket and attaches it to the hub. identity is
// the authenticated user, or "" when the request carried no credentials;
// a non-empty identity restricts which user the connection may register as.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, identity string) error {
	up := h.upgrader()
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		return fmt.Errorf("gateway: upgrade: %w", err)
	}

	c := newClient(h, ws, identity)
	if !h.Submit(c, connectEvent{}) {
		_ = ws.Close()
		return fmt.Errorf("gateway: hub not running")
	}
	h.log.WithFields(logrus.Fields{
		"conn":   c.ID,
		"remote": r.RemoteAddr,
	}).Debug("gateway: connection accepted")

	go c.writePump()
	go c.readPump()
	return nil
}
