package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lenswork/studio-sign/internal/api/handlers"
	"github.com/lenswork/studio-sign/internal/auth"
	"github.com/lenswork/studio-sign/internal/envelope"
	"github.com/lenswork/studio-sign/internal/magiclink"
	"github.com/lenswork/studio-sign/internal/mail"
	"github.com/lenswork/studio-sign/internal/store/memory"
	"github.com/lenswork/studio-sign/pkg/config"
)

// captureMailer records outbound messages so tests can pull magic links and
// verification codes out of them, the way a real signer would from their
// inbox.
type captureMailer struct {
	mu       sync.Mutex
	messages []*mail.Message
}

func (m *captureMailer) Send(_ context.Context, msg *mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// lastTo returns the most recent message sent to the given address with the
// given template tag.
func (m *captureMailer) lastTo(to, template string) *mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].To == to && m.messages[i].Template == template {
			return m.messages[i]
		}
	}
	return nil
}

var (
	linkTokenRe = regexp.MustCompile(`/sign/([0-9a-f]{64})`)
	otpCodeRe   = regexp.MustCompile(`code is (\d{6})`)
)

func newTestServer(t *testing.T) (*Server, *captureMailer) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	mailer := &captureMailer{}

	authSvc := auth.NewService(&auth.Config{
		JWTSecret:   []byte("server-test-secret-key-0123456789ab"),
		TokenExpiry: time.Hour,
	}, logger)

	cfg := config.LoadWithDefaults()
	cfg.PublicBaseURL = "https://sign.example.com"

	links := magiclink.NewService(st, nil, mailer, nil, magiclink.Config{
		BaseURL: cfg.PublicBaseURL,
	}, logger)
	envelopes := envelope.NewService(st, links, mailer, nil, logger)

	return NewServer(cfg, st, envelopes, links, authSvc, logger), mailer
}

// doJSON runs one request through the router and decodes the JSON response
// body into a map.
func doJSON(t *testing.T, srv *Server, method, path string, headers map[string]string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = strings.NewReader("{}")
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, decoded
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	code, ok := body["code"].(string)
	if !ok {
		t.Fatalf("response has no error code: %v", body)
	}
	return code
}

func registerAdmin(t *testing.T, srv *Server) string {
	t.Helper()
	status, body := doJSON(t, srv, http.MethodPost, "/auth/register", nil, map[string]any{
		"email":    "owner@studio.example.com",
		"password": "correct-horse",
		"name":     "Studio Owner",
	})
	if status != http.StatusCreated {
		t.Fatalf("register status = %d, body %v", status, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("register returned no token")
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	status, body := doJSON(t, srv, http.MethodGet, "/health", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v, want healthy", body["status"])
	}
}

func TestAuthFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := doJSON(t, srv, http.MethodGet, "/auth/setup", nil, nil)
	if status != http.StatusOK || body["setup_complete"] != false {
		t.Fatalf("setup before register: status %d body %v", status, body)
	}

	token := registerAdmin(t, srv)

	// Registration closes after the first user.
	status, body = doJSON(t, srv, http.MethodPost, "/auth/register", nil, map[string]any{
		"email":    "second@studio.example.com",
		"password": "correct-horse",
	})
	if status != http.StatusForbidden {
		t.Fatalf("second register status = %d, want 403", status)
	}
	if code := errorCode(t, body); code != "FORBIDDEN" {
		t.Errorf("second register code = %s, want FORBIDDEN", code)
	}

	status, _ = doJSON(t, srv, http.MethodGet, "/auth/setup", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("setup after register status = %d", status)
	}

	status, body = doJSON(t, srv, http.MethodPost, "/auth/login", nil, map[string]any{
		"email":    "owner@studio.example.com",
		"password": "wrong-password",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", status)
	}

	status, body = doJSON(t, srv, http.MethodPost, "/auth/login", nil, map[string]any{
		"email":    "owner@studio.example.com",
		"password": "correct-horse",
	})
	if status != http.StatusOK {
		t.Fatalf("login status = %d, body %v", status, body)
	}

	status, _ = doJSON(t, srv, http.MethodGet, "/v1/auth/validate", bearer(token), nil)
	if status != http.StatusOK {
		t.Errorf("validate with token status = %d, want 200", status)
	}

	status, body = doJSON(t, srv, http.MethodGet, "/v1/auth/validate", nil, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("validate without token status = %d, want 401", status)
	}
}

func TestEnvelopeLifecycleOverHTTP(t *testing.T) {
	srv, mailer := newTestServer(t)
	token := registerAdmin(t, srv)

	status, body := doJSON(t, srv, http.MethodPost, "/v1/envelopes", bearer(token), map[string]any{
		"name":             "Portrait session agreement",
		"signing_workflow": "PARALLEL",
	})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, body %v", status, body)
	}
	envelopeID, _ := body["id"].(string)
	if envelopeID == "" {
		t.Fatal("create returned no envelope id")
	}
	if body["status"] != "DRAFT" {
		t.Errorf("new envelope status = %v, want DRAFT", body["status"])
	}

	// Sending a bare draft fails validation.
	status, body = doJSON(t, srv, http.MethodPost, "/v1/envelopes/"+envelopeID+"/send", bearer(token), nil)
	if status != http.StatusBadRequest {
		t.Fatalf("send empty draft status = %d, want 400", status)
	}

	status, _ = doJSON(t, srv, http.MethodPost, "/v1/envelopes/"+envelopeID+"/documents", bearer(token), map[string]any{
		"name":      "Agreement",
		"file_name": "agreement.pdf",
		"content":   base64.StdEncoding.EncodeToString([]byte("agreement body")),
	})
	if status != http.StatusCreated {
		t.Fatalf("add document status = %d", status)
	}

	status, _ = doJSON(t, srv, http.MethodPost, "/v1/envelopes/"+envelopeID+"/signers", bearer(token), map[string]any{
		"name":  "Client",
		"email": "client@example.com",
	})
	if status != http.StatusCreated {
		t.Fatalf("add signer status = %d", status)
	}

	status, body = doJSON(t, srv, http.MethodPost, "/v1/envelopes/"+envelopeID+"/send", bearer(token), nil)
	if status != http.StatusOK {
		t.Fatalf("send status = %d, body %v", status, body)
	}
	if body["status"] != "PENDING" {
		t.Errorf("sent envelope status = %v, want PENDING", body["status"])
	}

	invite := mailer.lastTo("client@example.com", mail.TemplateSigningInvite)
	if invite == nil {
		t.Fatal("no invite email captured")
	}
	m := linkTokenRe.FindStringSubmatch(invite.TextBody)
	if m == nil {
		t.Fatalf("no signing link in invite body: %q", invite.TextBody)
	}
	linkToken := m[1]

	// The signer opens their link.
	status, body = doJSON(t, srv, http.MethodGet, "/sign/"+linkToken, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("view status = %d, body %v", status, body)
	}
	if body["can_sign"] != true {
		t.Errorf("can_sign = %v, want true", body["can_sign"])
	}

	// Viewing the first link moves the envelope to IN_PROGRESS.
	status, body = doJSON(t, srv, http.MethodGet, "/v1/envelopes/"+envelopeID, bearer(token), nil)
	if status != http.StatusOK || body["status"] != "IN_PROGRESS" {
		t.Errorf("after view: status %d envelope %v", status, body["status"])
	}

	status, _ = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/sign/%s/otp", linkToken), nil, nil)
	if status != http.StatusOK {
		t.Fatalf("request otp status = %d", status)
	}

	otpMsg := mailer.lastTo("client@example.com", mail.TemplateSigningOTP)
	if otpMsg == nil {
		t.Fatal("no otp email captured")
	}
	codeMatch := otpCodeRe.FindStringSubmatch(otpMsg.TextBody)
	if codeMatch == nil {
		t.Fatalf("no code in otp body: %q", otpMsg.TextBody)
	}

	status, body = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/sign/%s/otp/verify", linkToken), nil, map[string]any{
		"code": codeMatch[1],
	})
	if status != http.StatusOK {
		t.Fatalf("verify otp status = %d, body %v", status, body)
	}
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatal("verify otp returned no session")
	}

	// Signing without the session header is rejected.
	status, body = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/sign/%s/signature", linkToken), nil, map[string]any{
		"signature_data_url": "data:image/png;base64,AAAA",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("sign without session status = %d, want 401", status)
	}

	status, body = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/sign/%s/signature", linkToken),
		map[string]string{handlers.SessionHeader: sessionID},
		map[string]any{"signature_data_url": "data:image/png;base64,AAAA", "page_number": 1},
	)
	if status != http.StatusOK {
		t.Fatalf("sign status = %d, body %v", status, body)
	}
	if body["envelope_status"] != "COMPLETED" {
		t.Errorf("envelope_status = %v, want COMPLETED", body["envelope_status"])
	}

	// The audit trail ends with the completion event.
	status, body = doJSON(t, srv, http.MethodGet, "/v1/envelopes/"+envelopeID+"/audit", bearer(token), nil)
	if status != http.StatusOK {
		t.Fatalf("audit status = %d", status)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) == 0 {
		t.Fatal("audit trail is empty")
	}
	last, _ := entries[len(entries)-1].(map[string]any)
	if last["action"] != "ENVELOPE_COMPLETED" {
		t.Errorf("last audit action = %v, want ENVELOPE_COMPLETED", last["action"])
	}
}

func TestDeclineCancelsEnvelopeOverHTTP(t *testing.T) {
	srv, mailer := newTestServer(t)
	token := registerAdmin(t, srv)

	_, body := doJSON(t, srv, http.MethodPost, "/v1/envelopes", bearer(token), map[string]any{
		"name": "Booking terms",
	})
	envelopeID := body["id"].(string)

	doJSON(t, srv, http.MethodPost, "/v1/envelopes/"+envelopeID+"/documents", bearer(token), map[string]any{
		"name":    "Terms",
		"content": base64.StdEncoding.EncodeToString([]byte("terms")),
	})
	doJSON(t, srv, http.MethodPost, "/v1/envelopes/"+envelopeID+"/signers", bearer(token), map[string]any{
		"name":  "Client",
		"email": "client@example.com",
	})
	status, _ := doJSON(t, srv, http.MethodPost, "/v1/envelopes/"+envelopeID+"/send", bearer(token), nil)
	if status != http.StatusOK {
		t.Fatalf("send status = %d", status)
	}

	invite := mailer.lastTo("client@example.com", mail.TemplateSigningInvite)
	linkToken := linkTokenRe.FindStringSubmatch(invite.TextBody)[1]

	doJSON(t, srv, http.MethodPost, fmt.Sprintf("/sign/%s/otp", linkToken), nil, nil)
	otpMsg := mailer.lastTo("client@example.com", mail.TemplateSigningOTP)
	code := otpCodeRe.FindStringSubmatch(otpMsg.TextBody)[1]
	_, body = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/sign/%s/otp/verify", linkToken), nil, map[string]any{"code": code})
	sessionID := body["session_id"].(string)

	status, body = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/sign/%s/decline", linkToken),
		map[string]string{handlers.SessionHeader: sessionID},
		map[string]any{"reason": "pricing changed"},
	)
	if status != http.StatusOK {
		t.Fatalf("decline status = %d, body %v", status, body)
	}
	if body["envelope_status"] != "CANCELLED" {
		t.Errorf("envelope_status = %v, want CANCELLED", body["envelope_status"])
	}

	// The dead link no longer resolves for signing.
	status, body = doJSON(t, srv, http.MethodGet, "/sign/"+linkToken, nil, nil)
	if status != http.StatusConflict {
		t.Errorf("view after decline status = %d, want 409", status)
	}
	if code := errorCode(t, body); code != "INVALID_STATE" {
		t.Errorf("view after decline code = %s, want INVALID_STATE", code)
	}
}

func TestSigningErrorMapping(t *testing.T) {
	srv, mailer := newTestServer(t)
	token := registerAdmin(t, srv)

	status, body := doJSON(t, srv, http.MethodGet, "/sign/0000000000000000000000000000000000000000000000000000000000000000", nil, nil)
	if status != http.StatusNotFound {
		t.Errorf("unknown link status = %d, want 404", status)
	}
	if code := errorCode(t, body); code != "NOT_FOUND" {
		t.Errorf("unknown link code = %s, want NOT_FOUND", code)
	}

	_, body = doJSON(t, srv, http.MethodPost, "/v1/envelopes", bearer(token), map[string]any{"name": "Terms"})
	envelopeID := body["id"].(string)
	doJSON(t, srv, http.MethodPost, "/v1/envelopes/"+envelopeID+"/documents", bearer(token), map[string]any{
		"name":    "Terms",
		"content": base64.StdEncoding.EncodeToString([]byte("terms")),
	})
	doJSON(t, srv, http.MethodPost, "/v1/envelopes/"+envelopeID+"/signers", bearer(token), map[string]any{
		"name":  "Client",
		"email": "client@example.com",
	})
	doJSON(t, srv, http.MethodPost, "/v1/envelopes/"+envelopeID+"/send", bearer(token), nil)

	invite := mailer.lastTo("client@example.com", mail.TemplateSigningInvite)
	linkToken := linkTokenRe.FindStringSubmatch(invite.TextBody)[1]

	doJSON(t, srv, http.MethodPost, fmt.Sprintf("/sign/%s/otp", linkToken), nil, nil)

	// A wrong code reports the remaining attempts.
	status, body = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/sign/%s/otp/verify", linkToken), nil, map[string]any{"code": "000000"})
	if status != http.StatusUnauthorized {
		t.Fatalf("wrong code status = %d, want 401", status)
	}
	details, _ := body["details"].(map[string]any)
	if details["attempts_remaining"] != float64(4) {
		t.Errorf("attempts_remaining = %v, want 4", details["attempts_remaining"])
	}

	// Burn the remaining attempts to trigger the lockout.
	for i := 0; i < 4; i++ {
		status, body = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/sign/%s/otp/verify", linkToken), nil, map[string]any{"code": "000000"})
	}
	if status != http.StatusTooManyRequests {
		t.Fatalf("lockout status = %d, want 429, body %v", status, body)
	}
	if code := errorCode(t, body); code != "TOO_MANY_ATTEMPTS" {
		t.Errorf("lockout code = %s, want TOO_MANY_ATTEMPTS", code)
	}
}

func TestBackOfficeRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/envelopes"},
		{http.MethodPost, "/v1/envelopes"},
		{http.MethodGet, "/v1/stats"},
		{http.MethodPost, "/v1/admin/expire"},
	}
	for _, p := range paths {
		status, body := doJSON(t, srv, p.method, p.path, nil, nil)
		if status != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", p.method, p.path, status)
		}
		if code := errorCode(t, body); code != "UNAUTHORIZED" {
			t.Errorf("%s %s code = %s, want UNAUTHORIZED", p.method, p.path, code)
		}
	}
}

func TestStatsAndList(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAdmin(t, srv)

	status, body := doJSON(t, srv, http.MethodGet, "/v1/envelopes", bearer(token), nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	envs, ok := body["envelopes"].([]any)
	if !ok || len(envs) != 0 {
		t.Errorf("empty list = %v, want []", body["envelopes"])
	}

	doJSON(t, srv, http.MethodPost, "/v1/envelopes", bearer(token), map[string]any{"name": "One"})
	doJSON(t, srv, http.MethodPost, "/v1/envelopes", bearer(token), map[string]any{"name": "Two"})

	status, body = doJSON(t, srv, http.MethodGet, "/v1/envelopes", bearer(token), nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if envs, _ := body["envelopes"].([]any); len(envs) != 2 {
		t.Errorf("list length = %d, want 2", len(envs))
	}

	status, body = doJSON(t, srv, http.MethodGet, "/v1/stats", bearer(token), nil)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d", status)
	}
}
