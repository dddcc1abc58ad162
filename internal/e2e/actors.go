package e2e

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lenswork/studio-sign/internal/api/handlers"
)

// StudioActor drives the back-office API as an authenticated admin user.
type StudioActor struct {
	env   *TestEnvironment
	token string
}

// RegisterStudio creates the first admin account and returns an actor
// holding its bearer token.
func RegisterStudio(ctx context.Context, env *TestEnvironment, email, password, name string) (*StudioActor, error) {
	res, err := env.call(ctx, http.MethodPost, "/auth/register", nil, map[string]any{
		"email":    email,
		"password": password,
		"name":     name,
	})
	if err != nil {
		return nil, err
	}
	if res.Status != http.StatusCreated {
		return nil, fmt.Errorf("register returned %d: %v", res.Status, res.Body)
	}
	token, _ := res.Body["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("register returned no token")
	}
	return &StudioActor{env: env, token: token}, nil
}

func (a *StudioActor) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.token}
}

// CreateEnvelope creates a DRAFT envelope and returns its ID.
func (a *StudioActor) CreateEnvelope(ctx context.Context, name, workflow string) (string, error) {
	res, err := a.env.call(ctx, http.MethodPost, "/v1/envelopes", a.headers(), map[string]any{
		"name":             name,
		"signing_workflow": workflow,
	})
	if err != nil {
		return "", err
	}
	if res.Status != http.StatusCreated {
		return "", fmt.Errorf("create envelope returned %d: %v", res.Status, res.Body)
	}
	id, _ := res.Body["id"].(string)
	return id, nil
}

// AttachDocument attaches one document to a draft.
func (a *StudioActor) AttachDocument(ctx context.Context, envelopeID, name, contentBase64 string) error {
	res, err := a.env.call(ctx, http.MethodPost, "/v1/envelopes/"+envelopeID+"/documents", a.headers(), map[string]any{
		"name":    name,
		"content": contentBase64,
	})
	if err != nil {
		return err
	}
	if res.Status != http.StatusCreated {
		return fmt.Errorf("attach document returned %d: %v", res.Status, res.Body)
	}
	return nil
}

// AddSigner adds one signer to a draft. A nil sequence means the envelope's
// workflow does not order signers.
func (a *StudioActor) AddSigner(ctx context.Context, envelopeID, name, email string, sequence *int) (string, error) {
	body := map[string]any{"name": name, "email": email}
	if sequence != nil {
		body["sequence_number"] = *sequence
	}
	res, err := a.env.call(ctx, http.MethodPost, "/v1/envelopes/"+envelopeID+"/signers", a.headers(), body)
	if err != nil {
		return "", err
	}
	if res.Status != http.StatusCreated {
		return "", fmt.Errorf("add signer returned %d: %v", res.Status, res.Body)
	}
	id, _ := res.Body["id"].(string)
	return id, nil
}

// Send dispatches the envelope and returns its new status.
func (a *StudioActor) Send(ctx context.Context, envelopeID string) (string, error) {
	res, err := a.env.call(ctx, http.MethodPost, "/v1/envelopes/"+envelopeID+"/send", a.headers(), nil)
	if err != nil {
		return "", err
	}
	if res.Status != http.StatusOK {
		return "", fmt.Errorf("send returned %d: %v", res.Status, res.Body)
	}
	status, _ := res.Body["status"].(string)
	return status, nil
}

// EnvelopeStatus fetches the envelope and returns its current status.
func (a *StudioActor) EnvelopeStatus(ctx context.Context, envelopeID string) (string, error) {
	res, err := a.env.call(ctx, http.MethodGet, "/v1/envelopes/"+envelopeID, a.headers(), nil)
	if err != nil {
		return "", err
	}
	if res.Status != http.StatusOK {
		return "", fmt.Errorf("get envelope returned %d: %v", res.Status, res.Body)
	}
	status, _ := res.Body["status"].(string)
	return status, nil
}

// AuditActions returns the envelope's audit actions, oldest first.
func (a *StudioActor) AuditActions(ctx context.Context, envelopeID string) ([]string, error) {
	res, err := a.env.call(ctx, http.MethodGet, "/v1/envelopes/"+envelopeID+"/audit", a.headers(), nil)
	if err != nil {
		return nil, err
	}
	if res.Status != http.StatusOK {
		return nil, fmt.Errorf("audit returned %d: %v", res.Status, res.Body)
	}
	entries, _ := res.Body["entries"].([]any)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		entry, _ := e.(map[string]any)
		action, _ := entry["action"].(string)
		actions = append(actions, action)
	}
	return actions, nil
}

// RunExpirySweep triggers the overdue-envelope sweep and returns how many
// envelopes it expired.
func (a *StudioActor) RunExpirySweep(ctx context.Context) (int, error) {
	res, err := a.env.call(ctx, http.MethodPost, "/v1/admin/expire", a.headers(), nil)
	if err != nil {
		return 0, err
	}
	if res.Status != http.StatusOK {
		return 0, fmt.Errorf("expiry sweep returned %d: %v", res.Status, res.Body)
	}
	n, _ := res.Body["expired"].(float64)
	return int(n), nil
}

// SignerActor drives the public signing surface as a single signer. It
// reads its credentials out of the environment's inbox.
type SignerActor struct {
	env     *TestEnvironment
	email   string
	link    string
	session string
}

// OpenInvite reads the signer's latest invite and resolves the magic link,
// returning whether it is their turn to sign.
func OpenInvite(ctx context.Context, env *TestEnvironment, email string) (*SignerActor, bool, error) {
	link, err := env.Inbox.SigningLink(email)
	if err != nil {
		return nil, false, err
	}
	actor := &SignerActor{env: env, email: email, link: link}

	res, err := env.call(ctx, http.MethodGet, "/sign/"+link, nil, nil)
	if err != nil {
		return nil, false, err
	}
	if res.Status != http.StatusOK {
		return nil, false, fmt.Errorf("open invite returned %d: %v", res.Status, res.Body)
	}
	canSign, _ := res.Body["can_sign"].(bool)
	return actor, canSign, nil
}

// Authenticate requests a one-time code, reads it from the inbox and
// verifies it, establishing a signing session.
func (s *SignerActor) Authenticate(ctx context.Context) error {
	res, err := s.env.call(ctx, http.MethodPost, "/sign/"+s.link+"/otp", nil, nil)
	if err != nil {
		return err
	}
	if res.Status != http.StatusOK {
		return fmt.Errorf("request code returned %d: %v", res.Status, res.Body)
	}

	code, err := s.env.Inbox.OTPCode(s.email)
	if err != nil {
		return err
	}

	res, err = s.env.call(ctx, http.MethodPost, "/sign/"+s.link+"/otp/verify", nil, map[string]any{"code": code})
	if err != nil {
		return err
	}
	if res.Status != http.StatusOK {
		return fmt.Errorf("verify code returned %d: %v", res.Status, res.Body)
	}
	s.session, _ = res.Body["session_id"].(string)
	if s.session == "" {
		return fmt.Errorf("verify code returned no session")
	}
	return nil
}

// Sign submits a signature and returns the envelope's status afterwards.
func (s *SignerActor) Sign(ctx context.Context, dataURL string) (string, error) {
	res, err := s.env.call(ctx, http.MethodPost, "/sign/"+s.link+"/signature",
		map[string]string{handlers.SessionHeader: s.session},
		map[string]any{"signature_data_url": dataURL, "page_number": 1},
	)
	if err != nil {
		return "", err
	}
	if res.Status != http.StatusOK {
		return "", fmt.Errorf("sign returned %d: %v", res.Status, res.Body)
	}
	status, _ := res.Body["envelope_status"].(string)
	return status, nil
}

// Decline refuses to sign and returns the envelope's status afterwards.
func (s *SignerActor) Decline(ctx context.Context, reason string) (string, error) {
	res, err := s.env.call(ctx, http.MethodPost, "/sign/"+s.link+"/decline",
		map[string]string{handlers.SessionHeader: s.session},
		map[string]any{"reason": reason},
	)
	if err != nil {
		return "", err
	}
	if res.Status != http.StatusOK {
		return "", fmt.Errorf("decline returned %d: %v", res.Status, res.Body)
	}
	status, _ := res.Body["envelope_status"].(string)
	return status, nil
}
