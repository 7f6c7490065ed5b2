package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/storfleet/gatelink/internal/gatewayproto"
	"github.com/storfleet/gatelink/internal/obs"
	"github.com/storfleet/gatelink/internal/store/sqlite"
)

// HandleConnection owns one gateway transport from accept to close: it runs
// the read loop, enforces the authenticate-first ordering, and dispatches
// recognized frames. It returns when the transport closes.
func (s *Service) HandleConnection(ctx context.Context, sock *websocket.Conn, remoteAddr string) {
	c := newConn(uuid.NewString(), sock, remoteAddr, s.writeTimeout)

	defer func() {
		c.close(websocket.CloseNormalClosure, "")
		if s.removeIfCurrent(c) {
			obs.ConnectedGateways.Dec()
			s.recordEvent(c.facilityID, c.id, sqlite.EventDisconnected, c.remoteAddr, "")
			s.log.Info("gateway disconnected", "facility_id", c.facilityID, "conn_id", c.id)
		}
	}()

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			return
		}

		in, err := gatewayproto.DecodeInbound(data)
		if err != nil {
			// Malformed input does not count as liveness.
			s.log.Debug("dropping malformed frame", "conn_id", c.id, "err", err)
			continue
		}
		c.touch(time.Now())
		obs.FramesTotal.WithLabelValues(frameLabel(in)).Inc()

		if !c.authenticated {
			if in.Kind != gatewayproto.KindAuth {
				// Tolerated: the frame is refused but the transport stays
				// open so the gateway can still send a proper AUTH.
				s.sendError(c, gatewayproto.CodeNotAuthenticated, "not authenticated")
				continue
			}
			if !s.handleAuth(c, in.Auth) {
				return
			}
			continue
		}

		switch in.Kind {
		case gatewayproto.KindPong:
			s.touchLastSeen(c.facilityID, c.id, time.Now())
		case gatewayproto.KindProxyRequest:
			// In-flight bridge calls are not cancelled by connection
			// close; they run to completion under the client timeout and
			// their response send fails quietly against a dead transport.
			go s.serveProxy(context.WithoutCancel(ctx), c, in.Proxy)
		default:
			// Includes a repeated AUTH on an already-bound connection:
			// always answered, never silently dropped.
			s.sendError(c, gatewayproto.CodeUnknownType, "unrecognized frame type "+in.RawType)
		}
	}
}

// sendError writes an ERROR frame, swallowing transport failures.
func (s *Service) sendError(c *Conn, code, message string) {
	if err := c.sendJSON(gatewayproto.NewError(code, message)); err != nil {
		s.log.Debug("error frame send failed", "conn_id", c.id, "code", code, "err", err)
	}
}

// frameLabel bounds the metrics label cardinality to known frame types.
func frameLabel(in gatewayproto.Inbound) string {
	switch in.Kind {
	case gatewayproto.KindAuth:
		return "auth"
	case gatewayproto.KindPong:
		return "pong"
	case gatewayproto.KindProxyRequest:
		return "proxy_request"
	default:
		return "unknown"
	}
}
