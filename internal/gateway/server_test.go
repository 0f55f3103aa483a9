package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/hivemind/internal/agent"
	"github.com/nextlevelbuilder/hivemind/internal/archive"
	"github.com/nextlevelbuilder/hivemind/internal/artifacts"
	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/config"
	"github.com/nextlevelbuilder/hivemind/internal/conversation"
	"github.com/nextlevelbuilder/hivemind/internal/org"
	"github.com/nextlevelbuilder/hivemind/internal/workspace"
)

type fixture struct {
	server *Server
	ts     *httptest.Server
	bus    *bus.Bus
	org    *org.Store
	arts   *artifacts.Store
	hub    *bus.EventHub
	arc    *archive.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := org.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateAgent(org.CreateAgentRequest{ID: org.UserID}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateAgent(org.CreateAgentRequest{ID: org.RootID, ParentID: org.UserID}); err != nil {
		t.Fatal(err)
	}

	arc, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { arc.Close() })

	b := bus.New(arc, nil)
	b.RegisterRecipient(bus.UserID)
	b.RegisterRecipient(bus.RootID)

	conv, err := conversation.NewManager(conversation.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ws, err := workspace.NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	arts, err := artifacts.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	hub := bus.NewEventHub()
	mgr := agent.NewManager(store, b, conv, ws, nil, hub, nil)
	srv := NewServer(cfg, b, hub, store, arc, arts, mgr, nil)
	ts := httptest.NewServer(srv.BuildMux())
	t.Cleanup(ts.Close)

	return &fixture{server: srv, ts: ts, bus: b, org: store, arts: arts, hub: hub, arc: arc}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("status = %d, body = %+v", resp.StatusCode, body)
	}
}

func TestSendMessageDefaultsToRoot(t *testing.T) {
	f := newFixture(t)
	resp := postJSON(t, f.ts.URL+"/api/messages", map[string]any{"text": "hello root"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["to"] != org.RootID {
		t.Errorf("to = %v", body["to"])
	}
	msg := f.bus.ReceiveNext(org.RootID)
	if msg == nil || msg.From != bus.UserID || msg.Payload.Text != "hello root" {
		t.Errorf("delivered = %+v", msg)
	}
}

func TestSendMessageUnknownRecipient(t *testing.T) {
	f := newFixture(t)
	resp := postJSON(t, f.ts.URL+"/api/messages", map[string]any{"to": "ghost", "text": "hi"})
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusNotFound || body["error"] != "unknown_recipient" {
		t.Errorf("status = %d, body = %+v", resp.StatusCode, body)
	}
}

func TestSendMessageEmptyBody(t *testing.T) {
	f := newFixture(t)
	resp := postJSON(t, f.ts.URL+"/api/messages", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestSendMessageWithAttachment(t *testing.T) {
	f := newFixture(t)
	resp := postJSON(t, f.ts.URL+"/api/messages", map[string]any{
		"text": "see attached",
		"attachments": []map[string]any{
			{"filename": "notes.txt", "data": base64.StdEncoding.EncodeToString([]byte("field notes"))},
		},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	decodeBody(t, resp)

	msg := f.bus.ReceiveNext(org.RootID)
	if msg == nil || len(msg.Payload.Attachments) != 1 {
		t.Fatalf("delivered = %+v", msg)
	}
	att := msg.Payload.Attachments[0]
	if att.Filename != "notes.txt" {
		t.Errorf("filename = %q", att.Filename)
	}
	a, err := f.arts.Get(att.ArtifactRef)
	if err != nil || a == nil {
		t.Fatalf("Get(%q) = %v, %v", att.ArtifactRef, a, err)
	}
	if got := string(a.Raw) + toString(a.Content); !strings.Contains(got, "field notes") {
		t.Errorf("stored content = %q", got)
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func contextWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 3*time.Second)
}

func TestListAgentsCarriesComputeStatus(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/api/agents")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var views []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Fatalf("agents = %d", len(views))
	}
	for _, v := range views {
		if v["computeStatus"] != agent.StatusIdle {
			t.Errorf("agent %v computeStatus = %v", v["id"], v["computeStatus"])
		}
	}
}

func TestAgentMessagesFromArchive(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		if _, err := f.bus.Send(bus.SendRequest{From: bus.UserID, To: org.RootID, Payload: bus.Payload{Text: "ping"}}); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Get(f.ts.URL + "/api/agents/" + org.RootID + "/messages?limit=2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var msgs []bus.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("messages = %d, want 2", len(msgs))
	}

	resp404, err := http.Get(f.ts.URL + "/api/agents/ghost/messages")
	if err != nil {
		t.Fatal(err)
	}
	resp404.Body.Close()
	if resp404.StatusCode != http.StatusNotFound {
		t.Errorf("ghost status = %d", resp404.StatusCode)
	}
}

func TestAbortIdleAgentConflicts(t *testing.T) {
	f := newFixture(t)
	resp := postJSON(t, f.ts.URL+"/api/agents/"+org.RootID+"/abort", nil)
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusConflict || body["error"] != "already_stopped" {
		t.Errorf("status = %d, body = %+v", resp.StatusCode, body)
	}
}

func TestGetArtifact(t *testing.T) {
	f := newFixture(t)
	ref, err := f.arts.Put("text", "report body", artifacts.PutOptions{})
	if err != nil {
		t.Fatal(err)
	}
	id, _ := artifacts.ParseRef(ref)

	resp, err := http.Get(f.ts.URL + "/api/artifacts/" + id)
	if err != nil {
		t.Fatal(err)
	}
	raw := make([]byte, 64)
	n, _ := resp.Body.Read(raw)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(raw[:n]) != "report body" {
		t.Errorf("status = %d, body = %q", resp.StatusCode, raw[:n])
	}

	missing, err := http.Get(f.ts.URL + "/api/artifacts/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d", missing.StatusCode)
	}
}

func TestCheckOrigin(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no config allows all", nil, "http://evil.example", true},
		{"empty origin allowed", []string{"http://app.example"}, "", true},
		{"listed origin", []string{"http://app.example"}, "http://app.example", true},
		{"wildcard", []string{"*"}, "http://anywhere", true},
		{"unlisted rejected", []string{"http://app.example"}, "http://evil.example", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Gateway.AllowedOrigins = tc.allowed
			s := NewServer(cfg, nil, nil, nil, nil, nil, nil, nil)
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			if got := s.checkOrigin(r); got != tc.want {
				t.Errorf("checkOrigin = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWebSocketReceivesBroadcast(t *testing.T) {
	f := newFixture(t)
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Subscription happens inside the upgrade handler; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.hub.Broadcast(bus.Event{Name: "agent.status", Payload: map[string]string{"agentId": "root"}})
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		var ev bus.Event
		if err := conn.ReadJSON(&ev); err == nil {
			if ev.Name != "agent.status" {
				t.Errorf("event = %+v", ev)
			}
			return
		}
	}
	t.Fatal("no event received over websocket")
}

func TestPumpForwardsUserMessages(t *testing.T) {
	f := newFixture(t)
	var got []bus.Event
	done := make(chan struct{})
	f.hub.Subscribe("test", func(ev bus.Event) {
		got = append(got, ev)
		close(done)
	})
	defer f.hub.Unsubscribe("test")

	if _, err := f.bus.Send(bus.SendRequest{From: org.RootID, To: bus.UserID, Payload: bus.Payload{Text: "done"}}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := contextWithTimeout(t)
	defer cancel()
	go f.server.PumpUserMessages(ctx)

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("pump never forwarded the user message")
	}
	if got[0].Name != "message.sent" {
		t.Errorf("event = %+v", got[0])
	}
	msg, ok := got[0].Payload.(*bus.Message)
	if !ok || msg.Payload.Text != "done" {
		t.Errorf("payload = %+v", got[0].Payload)
	}
}
