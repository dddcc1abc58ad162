package envelope

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lenswork/studio-sign/internal/magiclink"
	"github.com/lenswork/studio-sign/internal/models"
	"github.com/lenswork/studio-sign/internal/store/memory"
	"github.com/lenswork/studio-sign/internal/token"
)

const signatureData = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg=="

func newTestService(t *testing.T) (*Service, *memory.MemoryStore, *time.Time) {
	t.Helper()
	st := memory.New()
	links := magiclink.NewService(st, nil, nil, nil, magiclink.Config{BaseURL: "https://sign.example.com"}, nil)
	svc := NewService(st, links, nil, nil, nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	svc.SetClock(func() time.Time { return *clock })
	links.SetClock(func() time.Time { return *clock })
	return svc, st, clock
}

// buildSentEnvelope creates an envelope with one document and the given
// signers, then sends it.
func buildSentEnvelope(t *testing.T, svc *Service, workflow models.SigningWorkflow, signerSeqs []*int) (*models.Envelope, []*models.Signer) {
	t.Helper()
	ctx := context.Background()

	env, err := svc.Create(ctx, "owner", CreateInput{Name: "Session agreement", Workflow: workflow})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.AddDocument(ctx, env.ID, "owner", DocumentInput{
		Name:    "Agreement",
		Content: []byte("agreement body"),
	}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	signers := make([]*models.Signer, len(signerSeqs))
	for i, seq := range signerSeqs {
		signer, err := svc.AddSigner(ctx, env.ID, "owner", SignerInput{
			Name:           "Signer",
			Email:          string(rune('a'+i)) + "@example.com",
			SequenceNumber: seq,
		})
		if err != nil {
			t.Fatalf("AddSigner %d: %v", i, err)
		}
		signers[i] = signer
	}

	env, err = svc.Send(ctx, env.ID, "owner")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if env.Status != models.EnvelopeStatusPending {
		t.Fatalf("status after send = %s, want PENDING", env.Status)
	}
	return env, signers
}

func TestCreateDefaultsToParallelDraft(t *testing.T) {
	svc, _, _ := newTestService(t)

	env, err := svc.Create(context.Background(), "owner", CreateInput{Name: "Minis day contract"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if env.Status != models.EnvelopeStatusDraft {
		t.Errorf("status = %s, want DRAFT", env.Status)
	}
	if env.SigningWorkflow != models.WorkflowParallel {
		t.Errorf("workflow = %s, want PARALLEL", env.SigningWorkflow)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	var validationErr *models.ValidationError

	if _, err := svc.Create(ctx, "owner", CreateInput{Name: ""}); !errors.As(err, &validationErr) {
		t.Errorf("empty name err = %v, want ValidationError", err)
	}
	if _, err := svc.Create(ctx, "owner", CreateInput{Name: "ok", Workflow: "ROUND_ROBIN"}); !errors.As(err, &validationErr) {
		t.Errorf("bad workflow err = %v, want ValidationError", err)
	}
}

func TestSendRequiresDocumentsAndSigners(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	env, err := svc.Create(ctx, "owner", CreateInput{Name: "Empty envelope"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var validationErr *models.ValidationError
	if _, err := svc.Send(ctx, env.ID, "owner"); !errors.As(err, &validationErr) {
		t.Fatalf("send without documents err = %v, want ValidationError", err)
	} else if validationErr.Field != "documents" {
		t.Errorf("field = %s, want documents", validationErr.Field)
	}

	if _, err := svc.AddDocument(ctx, env.ID, "owner", DocumentInput{Name: "Doc", Content: []byte("x")}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if _, err := svc.Send(ctx, env.ID, "owner"); !errors.As(err, &validationErr) {
		t.Fatalf("send without signers err = %v, want ValidationError", err)
	} else if validationErr.Field != "signers" {
		t.Errorf("field = %s, want signers", validationErr.Field)
	}
}

func TestResendFromPendingReissuesLinks(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	env, signers := buildSentEnvelope(t, svc, models.WorkflowParallel, []*int{nil})

	before, err := st.Signers().Get(ctx, signers[0].ID)
	if err != nil {
		t.Fatalf("Get signer: %v", err)
	}

	env, err = svc.Send(ctx, env.ID, "owner")
	if err != nil {
		t.Fatalf("re-send from PENDING: %v", err)
	}
	if env.Status != models.EnvelopeStatusPending {
		t.Errorf("status after re-send = %s, want PENDING", env.Status)
	}

	after, err := st.Signers().Get(ctx, signers[0].ID)
	if err != nil {
		t.Fatalf("Get signer: %v", err)
	}
	if after.Auth.MagicLinkToken == before.Auth.MagicLinkToken {
		t.Error("re-send did not reissue the signing link")
	}

	// Once signing has started the send window is closed.
	if err := svc.RecordView(ctx, signers[0].ID); err != nil {
		t.Fatalf("RecordView: %v", err)
	}
	if _, err := svc.Send(ctx, env.ID, "owner"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("send from IN_PROGRESS err = %v, want ErrInvalidState", err)
	}
}

func TestMutationsLockAfterSend(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	env, signers := buildSentEnvelope(t, svc, models.WorkflowParallel, []*int{nil})

	name := "changed"
	if _, err := svc.Update(ctx, env.ID, "owner", UpdateInput{Name: &name}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("update after send err = %v, want ErrInvalidState", err)
	}
	if _, err := svc.AddDocument(ctx, env.ID, "owner", DocumentInput{Name: "late", Content: []byte("x")}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("add document after send err = %v, want ErrInvalidState", err)
	}
	if _, err := svc.AddSigner(ctx, env.ID, "owner", SignerInput{Name: "late", Email: "late@example.com"}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("add signer after send err = %v, want ErrInvalidState", err)
	}
	if err := svc.RemoveSigner(ctx, env.ID, signers[0].ID, "owner"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("remove signer after send err = %v, want ErrInvalidState", err)
	}
}

func TestAddSignerDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	env, err := svc.Create(ctx, "owner", CreateInput{Name: "Dup check"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.AddSigner(ctx, env.ID, "owner", SignerInput{Name: "One", Email: "same@example.com"}); err != nil {
		t.Fatalf("first signer: %v", err)
	}

	var validationErr *models.ValidationError
	if _, err := svc.AddSigner(ctx, env.ID, "owner", SignerInput{Name: "Two", Email: "Same@Example.com"}); !errors.As(err, &validationErr) {
		t.Errorf("duplicate email err = %v, want ValidationError", err)
	}
}

func TestAddSignerSequentialRequiresUniqueSequence(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	env, err := svc.Create(ctx, "owner", CreateInput{Name: "Ordered", Workflow: models.WorkflowSequential})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var validationErr *models.ValidationError
	if _, err := svc.AddSigner(ctx, env.ID, "owner", SignerInput{Name: "A", Email: "a@example.com"}); !errors.As(err, &validationErr) {
		t.Errorf("missing sequence err = %v, want ValidationError", err)
	}

	one := 1
	if _, err := svc.AddSigner(ctx, env.ID, "owner", SignerInput{Name: "A", Email: "a@example.com", SequenceNumber: &one}); err != nil {
		t.Fatalf("first ordered signer: %v", err)
	}
	dup := 1
	if _, err := svc.AddSigner(ctx, env.ID, "owner", SignerInput{Name: "B", Email: "b@example.com", SequenceNumber: &dup}); !errors.As(err, &validationErr) {
		t.Errorf("duplicate sequence err = %v, want ValidationError", err)
	}
}

func TestParallelSigningCompletesEnvelope(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	env, signers := buildSentEnvelope(t, svc, models.WorkflowParallel, []*int{nil, nil})

	got, err := svc.CaptureSignature(ctx, CaptureInput{SignerID: signers[1].ID, SignatureDataURL: signatureData})
	if err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if got.Status != models.EnvelopeStatusInProgress {
		t.Errorf("status after one of two = %s, want IN_PROGRESS", got.Status)
	}

	got, err = svc.CaptureSignature(ctx, CaptureInput{SignerID: signers[0].ID, SignatureDataURL: signatureData})
	if err != nil {
		t.Fatalf("second capture: %v", err)
	}
	if got.Status != models.EnvelopeStatusCompleted {
		t.Errorf("status after all signed = %s, want COMPLETED", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed envelope should carry a completion time")
	}

	// The stored artifact records a digest of what was submitted.
	sig, err := st.Signatures().GetBySigner(ctx, env.ID, signers[0].ID)
	if err != nil || sig == nil {
		t.Fatalf("loading signature: %v", err)
	}
	if sig.SignatureHash != token.Hash(signatureData) {
		t.Error("signature hash should be the digest of the submitted data")
	}

	valid, err := svc.VerifySignatureIntegrity(ctx, sig.ID)
	if err != nil || !valid {
		t.Errorf("integrity check: valid=%v err=%v", valid, err)
	}
}

func TestVerifySignatureIntegrityDetectsTampering(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	env, signers := buildSentEnvelope(t, svc, models.WorkflowParallel, []*int{nil})

	if _, err := svc.CaptureSignature(ctx, CaptureInput{SignerID: signers[0].ID, SignatureDataURL: signatureData}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	sig, err := st.Signatures().GetBySigner(ctx, env.ID, signers[0].ID)
	if err != nil || sig == nil {
		t.Fatalf("loading signature: %v", err)
	}

	// Rewrite the stored image behind the service's back; the recorded
	// digest no longer matches and verification must say so.
	sig.SignatureDataURL = "data:image/png;base64,dGFtcGVyZWQ="
	if err := st.Signatures().Update(ctx, sig); err != nil {
		t.Fatalf("updating signature: %v", err)
	}

	valid, err := svc.VerifySignatureIntegrity(ctx, sig.ID)
	if err != nil {
		t.Fatalf("VerifySignatureIntegrity: %v", err)
	}
	if valid {
		t.Error("altered signature data should fail the integrity check")
	}
}

func TestSequentialSigningEnforcesOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	one, two := 1, 2
	_, signers := buildSentEnvelope(t, svc, models.WorkflowSequential, []*int{&one, &two})

	if _, err := svc.CaptureSignature(ctx, CaptureInput{SignerID: signers[1].ID, SignatureDataURL: signatureData}); !errors.Is(err, ErrWorkflowViolation) {
		t.Fatalf("out-of-turn capture err = %v, want ErrWorkflowViolation", err)
	}

	if _, err := svc.CaptureSignature(ctx, CaptureInput{SignerID: signers[0].ID, SignatureDataURL: signatureData}); err != nil {
		t.Fatalf("first in order: %v", err)
	}
	env, err := svc.CaptureSignature(ctx, CaptureInput{SignerID: signers[1].ID, SignatureDataURL: signatureData})
	if err != nil {
		t.Fatalf("second in order: %v", err)
	}
	if env.Status != models.EnvelopeStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", env.Status)
	}
}

func TestCaptureSignatureIsSingleUse(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, signers := buildSentEnvelope(t, svc, models.WorkflowParallel, []*int{nil, nil})

	if _, err := svc.CaptureSignature(ctx, CaptureInput{SignerID: signers[0].ID, SignatureDataURL: signatureData}); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, err := svc.CaptureSignature(ctx, CaptureInput{SignerID: signers[0].ID, SignatureDataURL: signatureData}); !errors.Is(err, ErrAlreadySigned) {
		t.Errorf("repeat capture err = %v, want ErrAlreadySigned", err)
	}
}

func TestDeclineCancelsEnvelope(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	env, signers := buildSentEnvelope(t, svc, models.WorkflowParallel, []*int{nil, nil})

	got, err := svc.DeclineSignature(ctx, signers[0].ID, "pricing changed")
	if err != nil {
		t.Fatalf("DeclineSignature: %v", err)
	}
	if got.Status != models.EnvelopeStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}

	declined, _ := st.Signers().Get(ctx, signers[0].ID)
	if declined.Status != models.SignerStatusDeclined {
		t.Errorf("signer status = %s, want DECLINED", declined.Status)
	}
	if declined.DeclinedReason != "pricing changed" {
		t.Errorf("declined reason = %q", declined.DeclinedReason)
	}

	// The other signer can no longer act on a cancelled envelope.
	if _, err := svc.CaptureSignature(ctx, CaptureInput{SignerID: signers[1].ID, SignatureDataURL: signatureData}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("capture on cancelled envelope err = %v, want ErrInvalidState", err)
	}

	_ = env
}

func TestRecordViewPromotesEnvelope(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	env, signers := buildSentEnvelope(t, svc, models.WorkflowParallel, []*int{nil, nil})

	if err := svc.RecordView(ctx, signers[0].ID); err != nil {
		t.Fatalf("RecordView: %v", err)
	}

	viewed, _ := st.Signers().Get(ctx, signers[0].ID)
	if viewed.Status != models.SignerStatusViewed {
		t.Errorf("signer status = %s, want VIEWED", viewed.Status)
	}
	if viewed.ViewedAt == nil {
		t.Error("viewed signer should carry a view time")
	}

	got, _ := st.Envelopes().Get(ctx, env.ID)
	if got.Status != models.EnvelopeStatusInProgress {
		t.Errorf("envelope status = %s, want IN_PROGRESS", got.Status)
	}

	// A repeat view changes nothing.
	firstViewedAt := *viewed.ViewedAt
	if err := svc.RecordView(ctx, signers[0].ID); err != nil {
		t.Fatalf("repeat RecordView: %v", err)
	}
	again, _ := st.Signers().Get(ctx, signers[0].ID)
	if !again.ViewedAt.Equal(firstViewedAt) {
		t.Error("repeat view should not move the view time")
	}
}

func TestCancelTerminalEnvelope(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	env, _ := buildSentEnvelope(t, svc, models.WorkflowParallel, []*int{nil})

	if _, err := svc.Cancel(ctx, env.ID, "owner", "shoot postponed"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := svc.Cancel(ctx, env.ID, "owner", "again"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancel of cancelled envelope err = %v, want ErrInvalidState", err)
	}
}

func TestExpireOverdue(t *testing.T) {
	svc, st, clock := newTestService(t)
	ctx := context.Background()

	expiry := clock.Add(24 * time.Hour)
	env, err := svc.Create(ctx, "owner", CreateInput{Name: "Expiring", ExpiresAt: &expiry})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.AddDocument(ctx, env.ID, "owner", DocumentInput{Name: "Doc", Content: []byte("x")}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	signer, err := svc.AddSigner(ctx, env.ID, "owner", SignerInput{Name: "S", Email: "s@example.com"})
	if err != nil {
		t.Fatalf("AddSigner: %v", err)
	}
	if _, err := svc.Send(ctx, env.ID, "owner"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Not yet due.
	n, err := svc.ExpireOverdue(ctx)
	if err != nil || n != 0 {
		t.Fatalf("sweep before expiry: n=%d err=%v", n, err)
	}

	*clock = expiry.Add(time.Minute)
	n, err = svc.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired count = %d, want 1", n)
	}

	got, _ := st.Envelopes().Get(ctx, env.ID)
	if got.Status != models.EnvelopeStatusExpired {
		t.Errorf("envelope status = %s, want EXPIRED", got.Status)
	}
	s, _ := st.Signers().Get(ctx, signer.ID)
	if s.Status != models.SignerStatusExpired {
		t.Errorf("signer status = %s, want EXPIRED", s.Status)
	}

	// Terminal envelopes are not swept twice.
	n, err = svc.ExpireOverdue(ctx)
	if err != nil || n != 0 {
		t.Errorf("second sweep: n=%d err=%v", n, err)
	}
}

func TestResendInvite(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	env, signers := buildSentEnvelope(t, svc, models.WorkflowParallel, []*int{nil})

	before, _ := st.Signers().Get(ctx, signers[0].ID)

	link, err := svc.ResendInvite(ctx, env.ID, signers[0].ID, "owner")
	if err != nil {
		t.Fatalf("ResendInvite: %v", err)
	}
	if link.Token == before.Auth.MagicLinkToken {
		t.Error("resend should mint a fresh token")
	}

	// Unsent envelopes reject a resend.
	draft, err := svc.Create(ctx, "owner", CreateInput{Name: "Draft"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s, err := svc.AddSigner(ctx, draft.ID, "owner", SignerInput{Name: "S", Email: "s@example.com"})
	if err != nil {
		t.Fatalf("AddSigner: %v", err)
	}
	if _, err := svc.ResendInvite(ctx, draft.ID, s.ID, "owner"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("resend on draft err = %v, want ErrInvalidState", err)
	}
}

func TestResolveByTokenReturnsAggregate(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	env, signers := buildSentEnvelope(t, svc, models.WorkflowSequential, []*int{seq(1), seq(2)})

	loaded, _ := st.Signers().Get(ctx, signers[0].ID)
	resolved, subject, err := svc.ResolveByToken(ctx, loaded.Auth.MagicLinkToken)
	if err != nil {
		t.Fatalf("ResolveByToken: %v", err)
	}
	if resolved.ID != env.ID {
		t.Fatalf("resolved envelope = %s, want %s", resolved.ID, env.ID)
	}

	// The resolved envelope must carry the nested aggregate: the signing
	// view shows documents, and the gate needs signers and signatures.
	if len(resolved.Documents) != 1 {
		t.Errorf("documents = %d, want 1", len(resolved.Documents))
	}
	if len(resolved.Signers) != 2 {
		t.Errorf("signers = %d, want 2", len(resolved.Signers))
	}
	if len(resolved.Signatures) != 2 {
		t.Errorf("signatures = %d, want 2", len(resolved.Signatures))
	}

	if decision := CanSign(resolved.SigningWorkflow, resolved.Signers, resolved.Signatures, subject.ID); !decision.Allowed {
		t.Errorf("first signer denied over resolved aggregate: %s", decision.Reason)
	}

	second, _ := st.Signers().Get(ctx, signers[1].ID)
	resolved, subject, err = svc.ResolveByToken(ctx, second.Auth.MagicLinkToken)
	if err != nil {
		t.Fatalf("ResolveByToken second signer: %v", err)
	}
	if decision := CanSign(resolved.SigningWorkflow, resolved.Signers, resolved.Signatures, subject.ID); decision.Allowed {
		t.Error("second signer allowed before the first signed")
	}
}

func TestResolveByTokenExpiredLinkExpiresSigner(t *testing.T) {
	svc, st, clock := newTestService(t)
	ctx := context.Background()
	_, signers := buildSentEnvelope(t, svc, models.WorkflowParallel, []*int{nil})

	loaded, _ := st.Signers().Get(ctx, signers[0].ID)
	tok := loaded.Auth.MagicLinkToken
	if tok == "" {
		t.Fatal("send should have issued a magic link")
	}

	*clock = loaded.Auth.MagicLinkExpiresAt.Add(time.Hour)
	if _, _, err := svc.ResolveByToken(ctx, tok); !errors.Is(err, magiclink.ErrLinkExpired) {
		t.Fatalf("err = %v, want ErrLinkExpired", err)
	}

	after, _ := st.Signers().Get(ctx, signers[0].ID)
	if after.Status != models.SignerStatusExpired {
		t.Errorf("signer status = %s, want EXPIRED", after.Status)
	}
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	env, signers := buildSentEnvelope(t, svc, models.WorkflowParallel, []*int{nil})

	if _, err := svc.CaptureSignature(ctx, CaptureInput{SignerID: signers[0].ID, SignatureDataURL: signatureData}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	entries, err := st.Audit().ListByEnvelope(ctx, env.ID)
	if err != nil {
		t.Fatalf("listing audit log: %v", err)
	}

	var actions []models.AuditAction
	for _, e := range entries {
		actions = append(actions, e.Action)
	}

	want := []models.AuditAction{
		models.AuditEnvelopeCreated,
		models.AuditDocumentAdded,
		models.AuditSignerAdded,
		models.AuditEnvelopeSent,
		models.AuditSignerSigned,
		models.AuditEnvelopeCompleted,
	}
	if len(actions) != len(want) {
		t.Fatalf("audit actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("audit[%d] = %s, want %s", i, actions[i], want[i])
		}
	}
}
