package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql"

	"github.com/openctl/ctrlgraph/internal/infrastructure/config"
	"github.com/openctl/ctrlgraph/internal/infrastructure/logging"
	"github.com/openctl/ctrlgraph/internal/session"
)

// fakeValidator accepts a single token and counts validations.
type fakeValidator struct {
	token     string
	storeDown bool
	calls     int
}

func (v *fakeValidator) Validate(_ context.Context, token string) (session.Identity, error) {
	v.calls++
	if v.storeDown {
		return session.Identity{}, fmt.Errorf("%w: dial tcp: refused", session.ErrStoreUnavailable)
	}
	if token != v.token {
		return session.Identity{}, session.ErrUnauthorized
	}
	return session.Identity{UserID: "u-1", SessionID: "s-1"}, nil
}

func testSchema(t *testing.T) graphql.Schema {
	t.Helper()
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"ping": &graphql.Field{
				Type: graphql.String,
				Resolve: func(graphql.ResolveParams) (any, error) {
					return "pong", nil
				},
			},
			"whoami": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					id, _ := session.IdentityFrom(p.Context)
					return id.UserID, nil
				},
			},
		},
	})
	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query})
	if err != nil {
		t.Fatalf("building test schema: %v", err)
	}
	return schema
}

func newTestServer(t *testing.T, validator *fakeValidator) *Server {
	t.Helper()
	s, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  logging.New(config.LoggingConfig{Level: "error"}, "test"),
		Schema:  testSchema(t),
		Guard:   session.NewGuard(validator),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	s.conns.ctx = context.Background()
	return s
}

func TestHealth_NoAuthRequired(t *testing.T) {
	s := newTestServer(t, &fakeValidator{token: "good"})
	router := s.buildRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestGraphQL_RequiresToken(t *testing.T) {
	s := newTestServer(t, &fakeValidator{token: "good"})
	router := s.buildRouter()

	body := strings.NewReader(`{"query": "{ ping }"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/graphql", body))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGraphQL_RejectsBadToken(t *testing.T) {
	s := newTestServer(t, &fakeValidator{token: "good"})
	router := s.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/graphql", strings.NewReader(`{"query": "{ ping }"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGraphQL_StoreDownIs503(t *testing.T) {
	s := newTestServer(t, &fakeValidator{token: "good", storeDown: true})
	router := s.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/graphql", strings.NewReader(`{"query": "{ ping }"}`))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body Error
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Code != ErrCodeAuthUnavailable {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeAuthUnavailable)
	}
}

func TestGraphQL_ExecutesQuery(t *testing.T) {
	s := newTestServer(t, &fakeValidator{token: "good"})
	router := s.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/graphql", strings.NewReader(`{"query": "{ ping whoami }"}`))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result.Data["ping"] != "pong" {
		t.Errorf("ping = %v, want pong", result.Data["ping"])
	}
	if result.Data["whoami"] != "u-1" {
		t.Errorf("whoami = %v, want u-1; identity not propagated", result.Data["whoami"])
	}
}

func TestGraphQL_RejectsEmptyQuery(t *testing.T) {
	s := newTestServer(t, &fakeValidator{token: "good"})
	router := s.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/graphql", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAuth_ValidatesOncePerRequest(t *testing.T) {
	validator := &fakeValidator{token: "good"}
	s := newTestServer(t, validator)
	router := s.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/graphql", strings.NewReader(`{"query": "{ ping }"}`))
	req.Header.Set("Authorization", "Bearer good")
	router.ServeHTTP(httptest.NewRecorder(), req)

	if validator.calls != 1 {
		t.Errorf("validator calls = %d, want 1", validator.calls)
	}
}

func TestBearerToken_QueryFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/ws?token=tok-1", nil)
	if got := bearerToken(r); got != "tok-1" {
		t.Errorf("token = %q, want tok-1", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	r.Header.Set("Authorization", "Bearer tok-2")
	if got := bearerToken(r); got != "tok-2" {
		t.Errorf("token = %q, want tok-2", got)
	}
}

func wsURL(serverURL, token string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/api/v1/ws?token=" + token
}

func readFrame(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline; failures surface as read errors
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return msg
}

func TestWebSocket_RunsOperation(t *testing.T) {
	s := newTestServer(t, &fakeValidator{token: "good"})
	ts := httptest.NewServer(s.buildRouter())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "good"), nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer conn.Close()

	start := map[string]any{
		"type": WSTypeStart,
		"id":   "op-1",
		"payload": map[string]any{
			"query": "{ ping }",
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		t.Fatalf("writing start: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Type != WSTypeData || frame.ID != "op-1" {
		t.Fatalf("frame = %+v, want data for op-1", frame)
	}
	var result struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(frame.Payload, &result); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if result.Data["ping"] != "pong" {
		t.Errorf("ping = %v, want pong", result.Data["ping"])
	}

	frame = readFrame(t, conn)
	if frame.Type != WSTypeComplete || frame.ID != "op-1" {
		t.Fatalf("frame = %+v, want complete for op-1", frame)
	}
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	s := newTestServer(t, &fakeValidator{token: "good"})
	ts := httptest.NewServer(s.buildRouter())
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "wrong"), nil)
	if err == nil {
		t.Fatal("dial succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %v, want 401", resp)
	}
}

func TestWebSocket_UnknownMessageType(t *testing.T) {
	s := newTestServer(t, &fakeValidator{token: "good"})
	ts := httptest.NewServer(s.buildRouter())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "good"), nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "bogus"}); err != nil {
		t.Fatalf("writing: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != WSTypeError {
		t.Fatalf("frame = %+v, want error", frame)
	}
}

func TestServer_RequiresGuard(t *testing.T) {
	_, err := New(Deps{
		Logger: logging.New(config.LoggingConfig{Level: "error"}, "test"),
	})
	if err == nil {
		t.Fatal("New succeeded without a guard")
	}
	if !strings.Contains(err.Error(), "guard") {
		t.Errorf("err = %v, want mention of guard", err)
	}
}
