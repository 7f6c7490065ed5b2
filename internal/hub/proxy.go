package hub

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/storfleet/gatelink/internal/gatewayproto"
	"github.com/storfleet/gatelink/internal/netutil"
	"github.com/storfleet/gatelink/internal/obs"
)

// Downstream responses larger than this are truncated before framing.
const maxProxyResponseBytes = 4 << 20

const facilityIDHeader = "X-Facility-Id"

// serveProxy handles one PROXY_REQUEST: it enforces the facility boundary,
// re-authenticates the call with a passthrough credential, performs the
// downstream HTTP round trip, and always answers with exactly one
// PROXY_RESPONSE carrying the request id. It never lets a failure escape
// the frame handler.
func (s *Service) serveProxy(ctx context.Context, c *Conn, req *gatewayproto.ProxyRequest) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("proxy bridge panic", "facility_id", c.facilityID, "request_id", req.ID, "panic", r)
			s.sendProxyResponse(c, req.ID, http.StatusInternalServerError, nil, []byte(`{"error":"internal proxy failure"}`))
		}
	}()

	start := time.Now()
	status, headers, body := s.bridge(ctx, c, req)
	obs.ProxyRequestsTotal.WithLabelValues(obs.StatusClass(status)).Inc()
	obs.ProxyDurationSeconds.Observe(time.Since(start).Seconds())
	s.sendProxyResponse(c, req.ID, status, headers, body)
}

// bridge performs the scoped downstream call and maps every failure mode to
// a status and body instead of an error.
func (s *Service) bridge(ctx context.Context, c *Conn, req *gatewayproto.ProxyRequest) (int, map[string]string, []byte) {
	if strings.TrimSpace(req.ID) == "" {
		return http.StatusBadRequest, nil, []byte(`{"error":"proxy request requires an id"}`)
	}
	if err := s.guard.EnsureWithinScope(c.identity.Role, c.facilityID, req.Path, req.Body); err != nil {
		s.log.Warn("proxy request out of scope", "facility_id", c.facilityID, "request_id", req.ID, "path", req.Path, "err", err)
		return http.StatusForbidden, nil, []byte(`{"error":"facility out of scope"}`)
	}

	passthrough, err := s.issuer.IssuePassthrough(c.identity, c.facilityID, s.passthroughTTL)
	if err != nil {
		s.log.Error("passthrough token issue failed", "facility_id", c.facilityID, "request_id", req.ID, "err", err)
		return http.StatusInternalServerError, nil, []byte(`{"error":"failed to authorize downstream call"}`)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := s.proxyTarget(req)
	if err != nil {
		return http.StatusBadRequest, nil, []byte(`{"error":"invalid proxy path"}`)
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return http.StatusBadRequest, nil, []byte(`{"error":"invalid proxy request"}`)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	netutil.RemoveHopByHopHeaders(httpReq.Header)
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+passthrough)
	httpReq.Header.Set(facilityIDHeader, c.facilityID)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.log.Warn("proxy downstream call failed", "facility_id", c.facilityID, "request_id", req.ID, "err", err)
		return http.StatusBadGateway, nil, []byte(`{"error":"downstream call failed"}`)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyResponseBytes))
	if err != nil {
		s.log.Warn("proxy downstream read failed", "facility_id", c.facilityID, "request_id", req.ID, "err", err)
		return http.StatusBadGateway, nil, []byte(`{"error":"downstream read failed"}`)
	}

	respHeaders := resp.Header.Clone()
	netutil.RemoveHopByHopHeaders(respHeaders)
	return resp.StatusCode, netutil.FlattenHeaders(respHeaders), respBody
}

// proxyTarget builds the downstream URL from the loopback base, the
// requested path, and the flat query map.
func (s *Service) proxyTarget(req *gatewayproto.ProxyRequest) (string, error) {
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse(s.proxyBaseURL + path)
	if err != nil {
		return "", err
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Service) sendProxyResponse(c *Conn, id string, status int, headers map[string]string, body []byte) {
	frame := gatewayproto.NewProxyResponse(id, status, headers, body)
	if err := c.sendJSON(frame); err != nil {
		// The connection may have closed while the round trip was in
		// flight; the correlation simply dies with it.
		s.log.Debug("proxy response send failed", "facility_id", c.facilityID, "request_id", id, "err", err)
	}
}
