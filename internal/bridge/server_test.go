package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/imsgguard/imsg-guard/internal/contacts"
)

type fakeForwarder struct {
	alive         bool
	sendResp      []byte
	lastSent      []byte
	notifications []json.RawMessage
}

func (f *fakeForwarder) Send(ctx context.Context, raw []byte) ([]byte, error) {
	f.lastSent = raw
	return f.sendResp, nil
}

func (f *fakeForwarder) Notifications() []json.RawMessage {
	out := f.notifications
	f.notifications = nil
	if out == nil {
		out = []json.RawMessage{}
	}
	return out
}

func (f *fakeForwarder) Alive() bool { return f.alive }

func newTestServer(t *testing.T, fwd *fakeForwarder) *httptest.Server {
	t.Helper()
	dir, err := contacts.NewDirectory(map[string]string{
		"noah":  "+15551234567",
		"alice": "alice@icloud.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(NewServer(testLogger(), "sekrit", dir, fwd))
	t.Cleanup(ts.Close)
	return ts
}

func doReq(t *testing.T, method, url, token, body string) (*http.Response, string) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(data)
}

func TestServer_HealthNoAuth(t *testing.T) {
	ts := newTestServer(t, &fakeForwarder{alive: true})

	resp, body := doReq(t, "GET", ts.URL+"/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var health struct {
		Status       string   `json:"status"`
		BackendAlive bool     `json:"backend_alive"`
		Contacts     []string `json:"contacts"`
	}
	if err := json.Unmarshal([]byte(body), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || !health.BackendAlive {
		t.Errorf("unexpected health: %+v", health)
	}
	if len(health.Contacts) != 2 || health.Contacts[0] != "alice" {
		t.Errorf("expected sorted aliases, got %v", health.Contacts)
	}
	if strings.Contains(body, "+15551234567") {
		t.Errorf("handle leaked in health: %s", body)
	}
}

func TestServer_AuthRequired(t *testing.T) {
	ts := newTestServer(t, &fakeForwarder{alive: true})

	for _, tc := range []struct{ method, path, token string }{
		{"POST", "/rpc", ""},
		{"POST", "/rpc", "wrong"},
		{"GET", "/notifications", ""},
		{"GET", "/contacts", "wrong"},
	} {
		resp, body := doReq(t, tc.method, ts.URL+tc.path, tc.token, "{}")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s token=%q: expected 401, got %d", tc.method, tc.path, tc.token, resp.StatusCode)
		}
		if !strings.Contains(body, "Unauthorized") {
			t.Errorf("unexpected 401 body: %s", body)
		}
	}
}

func TestServer_RPCForwarded(t *testing.T) {
	fwd := &fakeForwarder{
		alive:    true,
		sendResp: []byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`),
	}
	ts := newTestServer(t, fwd)

	resp, body := doReq(t, "POST", ts.URL+"/rpc", "sekrit", `{"jsonrpc":"2.0","id":1,"method":"chats.list"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"ok":true`) {
		t.Errorf("unexpected body: %s", body)
	}
	if !strings.Contains(string(fwd.lastSent), "chats.list") {
		t.Errorf("forwarder did not receive request: %s", fwd.lastSent)
	}
}

func TestServer_RPCNotificationEmptyBody(t *testing.T) {
	ts := newTestServer(t, &fakeForwarder{alive: true})

	resp, body := doReq(t, "POST", ts.URL+"/rpc", "sekrit", `{"jsonrpc":"2.0","method":"ping"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if strings.TrimSpace(body) != "{}" {
		t.Errorf("expected empty object body, got %s", body)
	}
}

func TestServer_RPCInvalidJSON(t *testing.T) {
	ts := newTestServer(t, &fakeForwarder{alive: true})

	resp, _ := doReq(t, "POST", ts.URL+"/rpc", "sekrit", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_RPCBatchRejected(t *testing.T) {
	fwd := &fakeForwarder{alive: true}
	ts := newTestServer(t, fwd)

	// A valid-JSON array must not reach the forwarder: only a single
	// object goes through the send policy.
	batch := `[{"jsonrpc":"2.0","id":1,"method":"send","params":{"to":"+19998887777"}}]`
	resp, _ := doReq(t, "POST", ts.URL+"/rpc", "sekrit", batch)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for batch payload, got %d", resp.StatusCode)
	}
	if fwd.lastSent != nil {
		t.Errorf("batch payload was forwarded: %s", fwd.lastSent)
	}
}

func TestServer_RPCBackendDown(t *testing.T) {
	ts := newTestServer(t, &fakeForwarder{alive: false})

	resp, _ := doReq(t, "POST", ts.URL+"/rpc", "sekrit", `{"jsonrpc":"2.0","id":1,"method":"chats.list"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestServer_NotificationsDrain(t *testing.T) {
	fwd := &fakeForwarder{
		alive: true,
		notifications: []json.RawMessage{
			json.RawMessage(`{"jsonrpc":"2.0","method":"message","params":{"sender":"noah","text":"hi"}}`),
		},
	}
	ts := newTestServer(t, fwd)

	resp, body := doReq(t, "GET", ts.URL+"/notifications", "sekrit", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Notifications []json.RawMessage `json:"notifications"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(payload.Notifications))
	}

	// Second drain is empty but still a list.
	_, body = doReq(t, "GET", ts.URL+"/notifications", "sekrit", "")
	if !strings.Contains(body, `"notifications":[]`) {
		t.Errorf("expected empty list, got %s", body)
	}
}

func TestServer_ContactsAliasesOnly(t *testing.T) {
	ts := newTestServer(t, &fakeForwarder{alive: true})

	resp, body := doReq(t, "GET", ts.URL+"/contacts", "sekrit", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Contacts []string `json:"contacts"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Contacts) != 2 {
		t.Fatalf("expected 2 aliases, got %v", payload.Contacts)
	}
	if strings.Contains(body, "icloud.com") || strings.Contains(body, "+1555") {
		t.Errorf("handle leaked in contacts: %s", body)
	}
}
