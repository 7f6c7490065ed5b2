package hub

import (
	"context"
	"time"

	"github.com/storfleet/gatelink/internal/gatewayproto"
	"github.com/storfleet/gatelink/internal/obs"
	"github.com/storfleet/gatelink/internal/store/sqlite"
)

// RunHeartbeat walks the registry on a single shared ticker, probing silent
// connections and evicting those past the inactivity timeout. It returns
// when ctx is canceled.
func (s *Service) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep runs one heartbeat tick over a registry snapshot. Sends are
// best-effort: a peer that cannot receive a PING will fail the timeout
// check on a later tick.
func (s *Service) sweep(now time.Time) {
	for _, c := range s.snapshot() {
		if !c.open() {
			if s.removeIfCurrent(c) {
				obs.ConnectedGateways.Dec()
				s.log.Info("removed closed gateway connection", "facility_id", c.facilityID, "conn_id", c.id)
			}
			continue
		}

		inactive := now.Sub(c.lastActivity())
		if inactive > s.inactivityTimeout {
			s.evict(c, inactive)
			continue
		}
		if inactive >= s.pingInterval {
			if err := c.sendJSON(gatewayproto.NewPing()); err != nil {
				s.log.Debug("ping send failed", "facility_id", c.facilityID, "conn_id", c.id, "err", err)
			}
		}
	}
}

// evict force-closes a connection that exceeded the silence threshold and
// removes it from the registry.
func (s *Service) evict(c *Conn, inactive time.Duration) {
	c.close(gatewayproto.CloseHeartbeatTimeout, "heartbeat timeout")
	if s.removeIfCurrent(c) {
		obs.ConnectedGateways.Dec()
		obs.EvictionsTotal.WithLabelValues("heartbeat_timeout").Inc()
		s.recordEvent(c.facilityID, c.id, sqlite.EventEvicted, c.remoteAddr, "inactive "+inactive.Truncate(time.Millisecond).String())
		s.log.Warn("gateway heartbeat timeout", "facility_id", c.facilityID, "conn_id", c.id, "inactive", inactive)
	}
}
