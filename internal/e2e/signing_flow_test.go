package e2e

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"
	"time"
)

const penStroke = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg=="

// TestSequentialSigningFlowE2E walks a two-signer sequential envelope from
// draft to completion through the real HTTP surface: the studio prepares and
// sends the envelope, each client authenticates with a mailed code and signs
// in turn.
func TestSequentialSigningFlowE2E(t *testing.T) {
	ctx := context.Background()

	env := NewTestEnvironment()
	defer env.Close()

	studio, err := RegisterStudio(ctx, env, "owner@studio.example.com", "correct-horse", "Studio Owner")
	if err != nil {
		t.Fatalf("failed to register studio: %v", err)
	}

	envelopeID, err := studio.CreateEnvelope(ctx, "Wedding package agreement", "SEQUENTIAL")
	if err != nil {
		t.Fatalf("failed to create envelope: %v", err)
	}
	t.Logf("Created envelope: %s", envelopeID)

	contract := base64.StdEncoding.EncodeToString([]byte("wedding contract body"))
	if err := studio.AttachDocument(ctx, envelopeID, "Contract", contract); err != nil {
		t.Fatalf("failed to attach document: %v", err)
	}

	one, two := 1, 2
	if _, err := studio.AddSigner(ctx, envelopeID, "First Partner", "first@example.com", &one); err != nil {
		t.Fatalf("failed to add first signer: %v", err)
	}
	if _, err := studio.AddSigner(ctx, envelopeID, "Second Partner", "second@example.com", &two); err != nil {
		t.Fatalf("failed to add second signer: %v", err)
	}

	status, err := studio.Send(ctx, envelopeID)
	if err != nil {
		t.Fatalf("failed to send envelope: %v", err)
	}
	if status != "PENDING" {
		t.Fatalf("sent envelope status = %s, want PENDING", status)
	}
	t.Log("Envelope sent, invites delivered")

	// The second signer opens their link early. It resolves, but it is not
	// their turn yet.
	second, canSign, err := OpenInvite(ctx, env, "second@example.com")
	if err != nil {
		t.Fatalf("second signer failed to open invite: %v", err)
	}
	if canSign {
		t.Error("second signer allowed to sign before the first")
	}

	first, canSign, err := OpenInvite(ctx, env, "first@example.com")
	if err != nil {
		t.Fatalf("first signer failed to open invite: %v", err)
	}
	if !canSign {
		t.Fatal("first signer blocked from signing")
	}

	if err := first.Authenticate(ctx); err != nil {
		t.Fatalf("first signer failed to authenticate: %v", err)
	}
	status, err = first.Sign(ctx, penStroke)
	if err != nil {
		t.Fatalf("first signer failed to sign: %v", err)
	}
	if status != "IN_PROGRESS" {
		t.Errorf("after first signature envelope status = %s, want IN_PROGRESS", status)
	}
	t.Log("First signer signed")

	// Now the gate opens for the second signer.
	_, canSign, err = OpenInvite(ctx, env, "second@example.com")
	if err != nil {
		t.Fatalf("second signer failed to reopen invite: %v", err)
	}
	if !canSign {
		t.Fatal("second signer still blocked after the first signed")
	}

	if err := second.Authenticate(ctx); err != nil {
		t.Fatalf("second signer failed to authenticate: %v", err)
	}
	status, err = second.Sign(ctx, penStroke)
	if err != nil {
		t.Fatalf("second signer failed to sign: %v", err)
	}
	if status != "COMPLETED" {
		t.Errorf("after last signature envelope status = %s, want COMPLETED", status)
	}
	t.Log("Second signer signed, envelope complete")

	actions, err := studio.AuditActions(ctx, envelopeID)
	if err != nil {
		t.Fatalf("failed to read audit trail: %v", err)
	}
	counts := map[string]int{}
	for _, a := range actions {
		counts[a]++
	}
	if counts["SIGNER_SIGNED"] != 2 {
		t.Errorf("SIGNER_SIGNED count = %d, want 2", counts["SIGNER_SIGNED"])
	}
	if counts["ENVELOPE_COMPLETED"] != 1 {
		t.Errorf("ENVELOPE_COMPLETED count = %d, want 1", counts["ENVELOPE_COMPLETED"])
	}
	if len(actions) > 0 && actions[len(actions)-1] != "ENVELOPE_COMPLETED" {
		t.Errorf("last audit action = %s, want ENVELOPE_COMPLETED", actions[len(actions)-1])
	}
}

// TestDeclineFlowE2E verifies that one signer refusing voids the whole
// envelope for everyone else.
func TestDeclineFlowE2E(t *testing.T) {
	ctx := context.Background()

	env := NewTestEnvironment()
	defer env.Close()

	studio, err := RegisterStudio(ctx, env, "owner@studio.example.com", "correct-horse", "Studio Owner")
	if err != nil {
		t.Fatalf("failed to register studio: %v", err)
	}

	envelopeID, err := studio.CreateEnvelope(ctx, "Booking terms", "PARALLEL")
	if err != nil {
		t.Fatalf("failed to create envelope: %v", err)
	}
	terms := base64.StdEncoding.EncodeToString([]byte("booking terms"))
	if err := studio.AttachDocument(ctx, envelopeID, "Terms", terms); err != nil {
		t.Fatalf("failed to attach document: %v", err)
	}
	if _, err := studio.AddSigner(ctx, envelopeID, "Client A", "a@example.com", nil); err != nil {
		t.Fatalf("failed to add signer: %v", err)
	}
	if _, err := studio.AddSigner(ctx, envelopeID, "Client B", "b@example.com", nil); err != nil {
		t.Fatalf("failed to add signer: %v", err)
	}
	if _, err := studio.Send(ctx, envelopeID); err != nil {
		t.Fatalf("failed to send envelope: %v", err)
	}

	decliner, _, err := OpenInvite(ctx, env, "a@example.com")
	if err != nil {
		t.Fatalf("failed to open invite: %v", err)
	}
	if err := decliner.Authenticate(ctx); err != nil {
		t.Fatalf("failed to authenticate: %v", err)
	}
	status, err := decliner.Decline(ctx, "pricing changed")
	if err != nil {
		t.Fatalf("failed to decline: %v", err)
	}
	if status != "CANCELLED" {
		t.Errorf("after decline envelope status = %s, want CANCELLED", status)
	}

	// The other signer's link is dead now.
	if _, _, err := OpenInvite(ctx, env, "b@example.com"); err == nil {
		t.Error("second signer's link still resolves after cancellation")
	}

	status, err = studio.EnvelopeStatus(ctx, envelopeID)
	if err != nil {
		t.Fatalf("failed to read envelope: %v", err)
	}
	if status != "CANCELLED" {
		t.Errorf("envelope status = %s, want CANCELLED", status)
	}
}

// TestExpirySweepE2E verifies that an envelope past its deadline is swept
// to EXPIRED and its links stop resolving.
func TestExpirySweepE2E(t *testing.T) {
	ctx := context.Background()

	env := NewTestEnvironment()
	defer env.Close()

	studio, err := RegisterStudio(ctx, env, "owner@studio.example.com", "correct-horse", "Studio Owner")
	if err != nil {
		t.Fatalf("failed to register studio: %v", err)
	}

	deadline := env.Now().Add(48 * time.Hour)
	res, err := env.call(ctx, http.MethodPost, "/v1/envelopes", studio.headers(), map[string]any{
		"name":       "Mini session release",
		"expires_at": deadline,
	})
	if err != nil {
		t.Fatalf("failed to create envelope: %v", err)
	}
	if res.Status != http.StatusCreated {
		t.Fatalf("create envelope returned %d: %v", res.Status, res.Body)
	}
	envelopeID := res.Body["id"].(string)

	release := base64.StdEncoding.EncodeToString([]byte("model release"))
	if err := studio.AttachDocument(ctx, envelopeID, "Release", release); err != nil {
		t.Fatalf("failed to attach document: %v", err)
	}
	if _, err := studio.AddSigner(ctx, envelopeID, "Client", "client@example.com", nil); err != nil {
		t.Fatalf("failed to add signer: %v", err)
	}
	if _, err := studio.Send(ctx, envelopeID); err != nil {
		t.Fatalf("failed to send envelope: %v", err)
	}

	// Nothing to sweep while the deadline is in the future.
	n, err := studio.RunExpirySweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("early sweep expired %d envelopes, want 0", n)
	}

	env.AdvanceClock(49 * time.Hour)

	n, err = studio.RunExpirySweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Errorf("sweep expired %d envelopes, want 1", n)
	}

	status, err := studio.EnvelopeStatus(ctx, envelopeID)
	if err != nil {
		t.Fatalf("failed to read envelope: %v", err)
	}
	if status != "EXPIRED" {
		t.Errorf("envelope status = %s, want EXPIRED", status)
	}

	if _, _, err := OpenInvite(ctx, env, "client@example.com"); err == nil {
		t.Error("signer link still resolves after expiry")
	}
}
