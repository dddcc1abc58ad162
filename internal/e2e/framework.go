// Package e2e exercises complete signing workflows against a fully wired
// deployment: real services over real HTTP routing, with an in-memory store
// and a captured outbox standing in for Postgres and the mail provider.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"time"

	"github.com/lenswork/studio-sign/internal/api"
	"github.com/lenswork/studio-sign/internal/auth"
	"github.com/lenswork/studio-sign/internal/envelope"
	"github.com/lenswork/studio-sign/internal/magiclink"
	"github.com/lenswork/studio-sign/internal/mail"
	"github.com/lenswork/studio-sign/internal/store/memory"
	"github.com/lenswork/studio-sign/pkg/config"
)

// TestEnvironment is a complete running deployment for one test: the API
// server listening on a loopback socket, every service wired to a shared
// in-memory store, and a controllable clock.
type TestEnvironment struct {
	Server    *httptest.Server
	Store     *memory.MemoryStore
	Envelopes *envelope.Service
	Links     *magiclink.Service
	Inbox     *Inbox

	clock *time.Time
	mu    sync.Mutex
}

// NewTestEnvironment wires the full stack and starts an HTTP listener.
// The caller owns shutdown via Close.
func NewTestEnvironment() *TestEnvironment {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	inbox := NewInbox()

	authSvc := auth.NewService(&auth.Config{
		JWTSecret:   []byte("e2e-environment-secret-key-0123456789"),
		TokenExpiry: time.Hour,
	}, logger)

	cfg := config.LoadWithDefaults()
	links := magiclink.NewService(st, nil, inbox, nil, magiclink.Config{
		BaseURL: cfg.PublicBaseURL,
	}, logger)
	envelopes := envelope.NewService(st, links, inbox, nil, logger)

	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	env := &TestEnvironment{
		Store:     st,
		Envelopes: envelopes,
		Links:     links,
		Inbox:     inbox,
		clock:     &now,
	}
	envelopes.SetClock(env.Now)
	links.SetClock(env.Now)

	srv := api.NewServer(cfg, st, envelopes, links, authSvc, logger)
	env.Server = httptest.NewServer(srv.Router())
	return env
}

// Close shuts the listener down.
func (env *TestEnvironment) Close() { env.Server.Close() }

// Now returns the environment's current time.
func (env *TestEnvironment) Now() time.Time {
	env.mu.Lock()
	defer env.mu.Unlock()
	return *env.clock
}

// AdvanceClock moves the environment's clock forward.
func (env *TestEnvironment) AdvanceClock(by time.Duration) {
	env.mu.Lock()
	defer env.mu.Unlock()
	*env.clock = env.clock.Add(by)
}

// Inbox is a capturing mailer. Actors read their magic links and one-time
// codes out of it the way a real signer reads their email.
type Inbox struct {
	mu       sync.Mutex
	messages []*mail.Message
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{}
}

// Send records the message.
func (in *Inbox) Send(_ context.Context, msg *mail.Message) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.messages = append(in.messages, msg)
	return nil
}

var (
	signingLinkRe = regexp.MustCompile(`/sign/([0-9a-f]{64})`)
	otpCodeRe     = regexp.MustCompile(`code is (\d{6})`)
)

// latest returns the most recent message for an address with the given
// template tag.
func (in *Inbox) latest(to, template string) *mail.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	for i := len(in.messages) - 1; i >= 0; i-- {
		if in.messages[i].To == to && in.messages[i].Template == template {
			return in.messages[i]
		}
	}
	return nil
}

// SigningLink extracts the magic-link token from the latest invite sent to
// the address.
func (in *Inbox) SigningLink(to string) (string, error) {
	msg := in.latest(to, mail.TemplateSigningInvite)
	if msg == nil {
		return "", fmt.Errorf("no signing invite for %s", to)
	}
	m := signingLinkRe.FindStringSubmatch(msg.TextBody)
	if m == nil {
		return "", fmt.Errorf("invite for %s carries no signing link", to)
	}
	return m[1], nil
}

// OTPCode extracts the one-time code from the latest code email sent to the
// address.
func (in *Inbox) OTPCode(to string) (string, error) {
	msg := in.latest(to, mail.TemplateSigningOTP)
	if msg == nil {
		return "", fmt.Errorf("no verification code email for %s", to)
	}
	m := otpCodeRe.FindStringSubmatch(msg.TextBody)
	if m == nil {
		return "", fmt.Errorf("code email for %s carries no code", to)
	}
	return m[1], nil
}

// apiResult is one decoded HTTP exchange.
type apiResult struct {
	Status int
	Body   map[string]any
}

// call runs one JSON request against the environment's server.
func (env *TestEnvironment) call(ctx context.Context, method, path string, headers map[string]string, body any) (*apiResult, error) {
	var reader io.Reader = bytes.NewReader([]byte("{}"))
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, env.Server.URL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := env.Server.Client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &apiResult{Status: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result.Body); err != nil {
			return nil, fmt.Errorf("decoding response %q: %w", raw, err)
		}
	}
	return result, nil
}
