// Package memory provides an in-memory implementation of the store
// interfaces for tests and local development. Transactions serialize
// against each other but are not rolled back on error.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lenswork/studio-sign/internal/models"
	"github.com/lenswork/studio-sign/internal/store"
)

// MemoryStore implements store.Store with in-memory maps.
type MemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	envelopes  map[string]*models.Envelope
	documents  map[string]*models.Document
	signers    map[string]*models.Signer
	signatures map[string]*models.Signature
	audit      []*models.EnvelopeAuditLog
	users      map[string]*adminUser
}

type adminUser struct {
	models.AdminUser
	passwordHash []byte
}

// New creates an empty in-memory store.
func New() *MemoryStore {
	return &MemoryStore{
		envelopes:  make(map[string]*models.Envelope),
		documents:  make(map[string]*models.Document),
		signers:    make(map[string]*models.Signer),
		signatures: make(map[string]*models.Signature),
		users:      make(map[string]*adminUser),
	}
}

// Envelopes returns the EnvelopeStore.
func (s *MemoryStore) Envelopes() store.EnvelopeStore { return (*envelopeStore)(s) }

// Documents returns the DocumentStore.
func (s *MemoryStore) Documents() store.DocumentStore { return (*documentStore)(s) }

// Signers returns the SignerStore.
func (s *MemoryStore) Signers() store.SignerStore { return (*signerStore)(s) }

// Signatures returns the SignatureStore.
func (s *MemoryStore) Signatures() store.SignatureStore { return (*signatureStore)(s) }

// Audit returns the AuditStore.
func (s *MemoryStore) Audit() store.AuditStore { return (*auditStore)(s) }

// AdminUsers returns the AdminUserStore.
func (s *MemoryStore) AdminUsers() store.AdminUserStore { return (*adminUserStore)(s) }

// WithTx serializes the given function against other transactions. Writes
// are applied immediately; there is no rollback.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

// Ping is a no-op for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

type envelopeStore MemoryStore

func (s *envelopeStore) Create(ctx context.Context, env *models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now()
	}
	env.UpdatedAt = env.CreatedAt
	cp := *env
	s.envelopes[env.ID] = &cp
	return nil
}

func (s *envelopeStore) Get(ctx context.Context, id string) (*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.envelopes[id]
	if !ok {
		return nil, nil
	}
	cp := *env
	return &cp, nil
}

func (s *envelopeStore) GetForUpdate(ctx context.Context, id string) (*models.Envelope, error) {
	// Transactions already serialize via txMu.
	return s.Get(ctx, id)
}

func (s *envelopeStore) List(ctx context.Context, createdBy string) ([]*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Envelope
	for _, env := range s.envelopes {
		if createdBy == "" || env.CreatedBy == createdBy {
			cp := *env
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *envelopeStore) Update(ctx context.Context, env *models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.envelopes[env.ID]; !ok {
		return store.ErrNotFound
	}
	env.UpdatedAt = time.Now()
	cp := *env
	s.envelopes[env.ID] = &cp
	return nil
}

func (s *envelopeStore) Stats(ctx context.Context) (*models.EnvelopeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &models.EnvelopeStats{}
	for _, env := range s.envelopes {
		stats.Total++
		switch env.Status {
		case models.EnvelopeStatusDraft:
			stats.Draft++
		case models.EnvelopeStatusPending:
			stats.Pending++
		case models.EnvelopeStatusInProgress:
			stats.InProgress++
		case models.EnvelopeStatusCompleted:
			stats.Completed++
		case models.EnvelopeStatusCancelled:
			stats.Cancelled++
		case models.EnvelopeStatusExpired:
			stats.Expired++
		}
	}
	return stats, nil
}

func (s *envelopeStore) ListOverdue(ctx context.Context, before time.Time) ([]*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Envelope
	for _, env := range s.envelopes {
		if env.IsTerminal() || env.ExpiresAt == nil {
			continue
		}
		if env.ExpiresAt.Before(before) {
			cp := *env
			out = append(out, &cp)
		}
	}
	return out, nil
}

type documentStore MemoryStore

func (s *documentStore) Create(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *documentStore) Get(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (s *documentStore) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Document
	for _, doc := range s.documents {
		if doc.EnvelopeID == envelopeID {
			cp := *doc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *documentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.documents, id)
	return nil
}

func (s *documentStore) CountByEnvelope(ctx context.Context, envelopeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, doc := range s.documents {
		if doc.EnvelopeID == envelopeID {
			n++
		}
	}
	return n, nil
}

type signerStore MemoryStore

func (s *signerStore) Create(ctx context.Context, signer *models.Signer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if signer.ID == "" {
		signer.ID = uuid.New().String()
	}
	if signer.CreatedAt.IsZero() {
		signer.CreatedAt = time.Now()
	}
	for _, existing := range s.signers {
		if existing.EnvelopeID == signer.EnvelopeID && strings.EqualFold(existing.Email, signer.Email) {
			return store.ErrDuplicateKey
		}
	}
	cp := *signer
	s.signers[signer.ID] = &cp
	return nil
}

func (s *signerStore) Get(ctx context.Context, id string) (*models.Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	signer, ok := s.signers[id]
	if !ok {
		return nil, nil
	}
	cp := *signer
	return &cp, nil
}

func (s *signerStore) GetByToken(ctx context.Context, token string) (*models.Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if token == "" {
		return nil, nil
	}
	for _, signer := range s.signers {
		if signer.Auth.MagicLinkToken == token {
			cp := *signer
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *signerStore) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Signer
	for _, signer := range s.signers {
		if signer.EnvelopeID == envelopeID {
			cp := *signer
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SequenceNumber, out[j].SequenceNumber
		switch {
		case a != nil && b != nil:
			return *a < *b
		case a != nil:
			return true
		case b != nil:
			return false
		default:
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
	})
	return out, nil
}

func (s *signerStore) Update(ctx context.Context, signer *models.Signer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.signers[signer.ID]
	if !ok {
		return store.ErrNotFound
	}
	cp := *signer
	cp.Auth = existing.Auth
	s.signers[signer.ID] = &cp
	return nil
}

func (s *signerStore) UpdateAuth(ctx context.Context, signerID string, auth *models.SignerAuth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	signer, ok := s.signers[signerID]
	if !ok {
		return store.ErrNotFound
	}
	signer.Auth = *auth
	return nil
}

func (s *signerStore) IncrementFailedAttempts(ctx context.Context, signerID string, expected int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	signer, ok := s.signers[signerID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if signer.Auth.FailedAttempts != expected {
		return signer.Auth.FailedAttempts, store.ErrConcurrentModification
	}
	signer.Auth.FailedAttempts++
	return signer.Auth.FailedAttempts, nil
}

func (s *signerStore) ClaimOTP(ctx context.Context, signerID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	signer, ok := s.signers[signerID]
	if !ok {
		return false, store.ErrNotFound
	}
	if code == "" || signer.Auth.OTPCode != code {
		return false, nil
	}
	signer.Auth.OTPCode = ""
	signer.Auth.OTPExpiresAt = nil
	return true, nil
}

func (s *signerStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.signers, id)
	return nil
}

func (s *signerStore) CountByEnvelope(ctx context.Context, envelopeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, signer := range s.signers {
		if signer.EnvelopeID == envelopeID {
			n++
		}
	}
	return n, nil
}

type signatureStore MemoryStore

func sigKey(envelopeID, signerID string) string { return envelopeID + "/" + signerID }

func (s *signatureStore) Create(ctx context.Context, sig *models.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now()
	}
	key := sigKey(sig.EnvelopeID, sig.SignerID)
	if _, ok := s.signatures[key]; ok {
		return store.ErrDuplicateKey
	}
	cp := *sig
	s.signatures[key] = &cp
	return nil
}

func (s *signatureStore) Get(ctx context.Context, id string) (*models.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sig := range s.signatures {
		if sig.ID == id {
			cp := *sig
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *signatureStore) GetBySigner(ctx context.Context, envelopeID, signerID string) (*models.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signatures[sigKey(envelopeID, signerID)]
	if !ok {
		return nil, nil
	}
	cp := *sig
	return &cp, nil
}

func (s *signatureStore) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Signature
	for _, sig := range s.signatures {
		if sig.EnvelopeID == envelopeID {
			cp := *sig
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *signatureStore) Update(ctx context.Context, sig *models.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sigKey(sig.EnvelopeID, sig.SignerID)
	if _, ok := s.signatures[key]; !ok {
		return store.ErrNotFound
	}
	cp := *sig
	s.signatures[key] = &cp
	return nil
}

func (s *signatureStore) DeleteBySigner(ctx context.Context, envelopeID, signerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sigKey(envelopeID, signerID)
	if _, ok := s.signatures[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.signatures, key)
	return nil
}

func (s *signatureStore) AllSigned(ctx context.Context, envelopeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := false
	for _, sig := range s.signatures {
		if sig.EnvelopeID != envelopeID {
			continue
		}
		found = true
		if sig.Status != models.SignatureStatusSigned {
			return false, nil
		}
	}
	return found, nil
}

type auditStore MemoryStore

func (s *auditStore) Append(ctx context.Context, entry *models.EnvelopeAuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	cp := *entry
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *auditStore) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.EnvelopeAuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.EnvelopeAuditLog
	for _, entry := range s.audit {
		if entry.EnvelopeID == envelopeID {
			cp := *entry
			out = append(out, &cp)
		}
	}
	return out, nil
}

type adminUserStore MemoryStore

func (s *adminUserStore) Create(ctx context.Context, email, password, name string) (*models.AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return nil, store.ErrDuplicateKey
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &adminUser{
		AdminUser: models.AdminUser{
			ID:        uuid.New().String(),
			Email:     email,
			Name:      name,
			CreatedAt: time.Now().Unix(),
		},
		passwordHash: hash,
	}
	s.users[u.ID] = u
	cp := u.AdminUser
	return &cp, nil
}

func (s *adminUserStore) GetByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := u.AdminUser
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *adminUserStore) GetByID(ctx context.Context, id string) (*models.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := u.AdminUser
	return &cp, nil
}

func (s *adminUserStore) Authenticate(ctx context.Context, email, password string) (*models.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
				return nil, nil
			}
			cp := u.AdminUser
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *adminUserStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}
