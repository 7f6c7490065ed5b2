package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/storfleet/gatelink/internal/config"
	"github.com/storfleet/gatelink/internal/domain"
	"github.com/storfleet/gatelink/internal/gatewayproto"
	"github.com/storfleet/gatelink/internal/hub"
	"github.com/storfleet/gatelink/internal/scope"
	"github.com/storfleet/gatelink/internal/store/sqlite"
	"github.com/storfleet/gatelink/internal/token"
)

const testSecret = "server-test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *hub.Service, *token.Manager) {
	t.Helper()

	mgr := token.NewManager(testSecret)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(hub.Options{
		Log:               logger,
		Verifier:          mgr,
		Issuer:            mgr,
		Guard:             scope.Guard{},
		PingInterval:      10 * time.Second,
		InactivityTimeout: 20 * time.Second,
	})

	cfg := config.ServerConfig{
		Listen:          ":0",
		JWTSecret:       testSecret,
		MaxMessageBytes: 1 << 20,
	}
	srv := New(cfg, h, nil, mgr, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, h, mgr
}

func issueToken(t *testing.T, mgr *token.Manager, role string, scopes ...string) string {
	t.Helper()
	tok, err := mgr.Issue(domain.Identity{UserID: "u-1", Role: role, FacilityScopes: scopes}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func connectGateway(t *testing.T, ts *httptest.Server, mgr *token.Manager, facilityID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + ConnectPath
	sock, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = sock.Close() })

	tok := issueToken(t, mgr, domain.RoleFacilityAdmin, facilityID)
	auth := map[string]string{"type": gatewayproto.TypeAuth, "token": tok, "facilityId": facilityID}
	if err := sock.WriteJSON(auth); err != nil {
		t.Fatalf("send auth: %v", err)
	}
	_ = sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := sock.ReadMessage()
	if err != nil {
		t.Fatalf("read auth reply: %v", err)
	}
	var reply struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("decode auth reply: %v", err)
	}
	if reply.Type != gatewayproto.TypeAuthOK {
		t.Fatalf("auth reply type = %q, want %q", reply.Type, gatewayproto.TypeAuthOK)
	}
	return sock
}

func doJSON(t *testing.T, method, url, bearer, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp, data
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
	if string(body) != "ok" {
		t.Fatalf("healthz body = %q, want ok", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("metrics output missing runtime collectors")
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/facilities/fac-1/push"},
		{http.MethodPost, "/v1/broadcast"},
		{http.MethodGet, "/v1/gateways"},
		{http.MethodGet, "/v1/gateways/events"},
	} {
		resp, _ := doJSON(t, tc.method, ts.URL+tc.path, "", `{"cmd":"noop"}`)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestAdminRoutesRejectFacilityScopedRole(t *testing.T) {
	ts, _, mgr := newTestServer(t)

	tok := issueToken(t, mgr, domain.RoleFacilityAdmin, "fac-1")
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/gateways", tok, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("facility-scoped token on admin route: status = %d, want 403", resp.StatusCode)
	}
}

func TestGatewaysListsConnected(t *testing.T) {
	ts, h, mgr := newTestServer(t)

	connectGateway(t, ts, mgr, "fac-1")
	waitForCount(t, h, 1)

	tok := issueToken(t, mgr, domain.RoleAdmin)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/gateways", tok, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("gateways status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Gateways []struct {
			FacilityID string `json:"facilityId"`
		} `json:"gateways"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode gateways: %v", err)
	}
	if len(out.Gateways) != 1 || out.Gateways[0].FacilityID != "fac-1" {
		t.Fatalf("gateways = %+v, want one entry for fac-1", out.Gateways)
	}
}

func TestPushDeliversToConnectedGateway(t *testing.T) {
	ts, h, mgr := newTestServer(t)

	sock := connectGateway(t, ts, mgr, "fac-1")
	waitForCount(t, h, 1)

	tok := issueToken(t, mgr, domain.RoleDevAdmin)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/facilities/fac-1/push", tok, `{"cmd":"inventory-sync","shard":3}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("push status = %d, want 200: %s", resp.StatusCode, body)
	}
	var out struct {
		Delivered bool `json:"delivered"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode push reply: %v", err)
	}
	if !out.Delivered {
		t.Fatalf("push reply delivered = false, want true")
	}

	_ = sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := sock.ReadMessage()
	if err != nil {
		t.Fatalf("gateway read: %v", err)
	}
	var payload struct {
		Cmd   string `json:"cmd"`
		Shard int    `json:"shard"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode delivered payload: %v", err)
	}
	if payload.Cmd != "inventory-sync" || payload.Shard != 3 {
		t.Fatalf("delivered payload = %s", raw)
	}
}

func TestPushToOfflineFacilityReportsNotDelivered(t *testing.T) {
	ts, _, mgr := newTestServer(t)

	tok := issueToken(t, mgr, domain.RoleAdmin)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/facilities/fac-missing/push", tok, `{"cmd":"noop"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("push status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Delivered bool `json:"delivered"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode push reply: %v", err)
	}
	if out.Delivered {
		t.Fatalf("push to offline facility reported delivered")
	}
}

func TestPushRejectsNonJSONBody(t *testing.T) {
	ts, _, mgr := newTestServer(t)

	tok := issueToken(t, mgr, domain.RoleAdmin)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/facilities/fac-1/push", tok, "not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("push with invalid body: status = %d, want 400", resp.StatusCode)
	}
}

func TestBroadcastCountsConnected(t *testing.T) {
	ts, h, mgr := newTestServer(t)

	a := connectGateway(t, ts, mgr, "fac-1")
	b := connectGateway(t, ts, mgr, "fac-2")
	waitForCount(t, h, 2)

	tok := issueToken(t, mgr, domain.RoleAdmin)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/broadcast", tok, `{"cmd":"firmware-check"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("broadcast status = %d, want 200: %s", resp.StatusCode, body)
	}
	var out struct {
		Delivered int `json:"delivered"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode broadcast reply: %v", err)
	}
	if out.Delivered != 2 {
		t.Fatalf("broadcast delivered = %d, want 2", out.Delivered)
	}

	for name, sock := range map[string]*websocket.Conn{"fac-1": a, "fac-2": b} {
		_ = sock.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := sock.ReadMessage(); err != nil {
			t.Fatalf("%s did not receive broadcast: %v", name, err)
		}
	}
}

func TestEventsWithoutJournal(t *testing.T) {
	ts, _, mgr := newTestServer(t)

	tok := issueToken(t, mgr, domain.RoleAdmin)
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/gateways/events", tok, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("events without journal: status = %d, want 404", resp.StatusCode)
	}
}

func TestJournalRetentionPurge(t *testing.T) {
	t.Parallel()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	for _, ev := range []string{sqlite.EventConnected, sqlite.EventDisconnected} {
		if err := st.RecordEvent(ctx, "fac-1", "c-1", ev, "127.0.0.1", ""); err != nil {
			t.Fatalf("record event: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(config.ServerConfig{JournalRetentionDays: 30}, nil, st, nil, logger)

	// Events newer than the cutoff survive a pass.
	srv.purgeJournal(ctx, time.Now().Add(-time.Hour))
	events, err := st.RecentEvents(ctx, "fac-1", 10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected both events to survive, have %d", len(events))
	}

	// A cutoff past their timestamps removes them.
	srv.purgeJournal(ctx, time.Now().Add(time.Hour))
	events, err = st.RecentEvents(ctx, "fac-1", 10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected all events purged, have %d", len(events))
	}
}

func waitForCount(t *testing.T, h *hub.Service, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ConnectionCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection count never reached %d", want)
}
