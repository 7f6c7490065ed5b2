package hub

import (
	"encoding/json"
	"fmt"

	"github.com/storfleet/gatelink/internal/domain"
	"github.com/storfleet/gatelink/internal/obs"
)

// Unicast sends an opaque payload to the connection bound to facilityID.
// Delivery is at-most-once and fire-and-forget: an offline facility or a
// failed send is logged and reported to the caller, never queued or
// retried, and never panics.
func (s *Service) Unicast(facilityID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return &domain.GatewayError{FacilityID: facilityID, Op: "unicast", Err: fmt.Errorf("marshal payload: %w", err)}
	}

	c, ok := s.lookup(facilityID)
	if !ok || !c.open() {
		obs.DispatchDroppedTotal.WithLabelValues("unicast").Inc()
		s.log.Info("unicast dropped: gateway offline", "facility_id", facilityID)
		return &domain.GatewayError{FacilityID: facilityID, Op: "unicast", Err: domain.ErrNotConnected}
	}
	if err := c.sendRaw(data); err != nil {
		obs.DispatchDroppedTotal.WithLabelValues("unicast").Inc()
		s.log.Warn("unicast send failed", "facility_id", facilityID, "conn_id", c.id, "err", err)
		return &domain.GatewayError{FacilityID: facilityID, Op: "unicast", Err: err}
	}
	return nil
}

// Broadcast serializes payload once and sends it to every open connection.
// Closed or failing connections are skipped; it returns the number of
// connections the payload was written to.
func (s *Service) Broadcast(payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, &domain.GatewayError{Op: "broadcast", Err: fmt.Errorf("marshal payload: %w", err)}
	}

	sent := 0
	for _, c := range s.snapshot() {
		if !c.open() {
			continue
		}
		if err := c.sendRaw(data); err != nil {
			obs.DispatchDroppedTotal.WithLabelValues("broadcast").Inc()
			s.log.Warn("broadcast send failed", "facility_id", c.facilityID, "conn_id", c.id, "err", err)
			continue
		}
		sent++
	}
	return sent, nil
}
