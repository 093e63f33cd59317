package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"novacore/internal/entity"
	"novacore/internal/repository"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return "plain:" + password, nil
}

func (plainHasher) Verify(hash string, password string) bool {
	return hash == "plain:"+password
}

// fakeTOTP accepts a single well-known code per secret.
type fakeTOTP struct {
	validCode string
}

func (f fakeTOTP) GenerateSecret(account string) (string, error) {
	return "SECRET-" + account, nil
}

func (f fakeTOTP) ProvisioningURI(account string, secret string) (string, error) {
	return "otpauth://totp/NovaCore:" + account + "?secret=" + secret, nil
}

func (f fakeTOTP) ValidateCode(secret string, code string, at time.Time) bool {
	return code == f.validCode
}

type staticTokens struct{}

func (staticTokens) Issue(accountID string, username string) (string, time.Duration, error) {
	return "token-" + accountID, 15 * time.Minute, nil
}

type recordingSender struct {
	mu       sync.Mutex
	sent     []sentMail
	failures int
}

type sentMail struct {
	To       string
	Template string
	Params   map[string]string
}

func (s *recordingSender) Send(ctx context.Context, to string, templateID string, params map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return context.DeadlineExceeded
	}
	s.sent = append(s.sent, sentMail{To: to, Template: templateID, Params: params})
	return nil
}

func (s *recordingSender) Sent() []sentMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMail(nil), s.sent...)
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*entity.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[uuid.UUID]*entity.Account)}
}

func (r *fakeAccountRepo) Create(ctx context.Context, account *entity.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	copied := *account
	r.accounts[account.ID] = &copied
	return nil
}

func (r *fakeAccountRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	copied := *account
	return &copied, nil
}

func (r *fakeAccountRepo) FindByUsername(ctx context.Context, username string) (*entity.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.Username == username && !account.Anonymized {
			copied := *account
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepo) FindByEmail(ctx context.Context, email string) (*entity.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.Email == email && !account.Anonymized {
			copied := *account
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepo) Update(ctx context.Context, account *entity.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *account
	r.accounts[account.ID] = &copied
	return nil
}

func (r *fakeAccountRepo) RecordFailure(ctx context.Context, id uuid.UUID, threshold int, lockedUntil time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return 0, nil
	}
	account.FailedAttempts++
	if account.FailedAttempts >= threshold {
		until := lockedUntil
		account.LockedUntil = &until
	}
	return account.FailedAttempts, nil
}

func (r *fakeAccountRepo) ResetFailures(ctx context.Context, id uuid.UUID, lastLogin time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account, ok := r.accounts[id]; ok {
		account.FailedAttempts = 0
		account.LockedUntil = nil
		login := lastLogin
		account.LastLoginAt = &login
	}
	return nil
}

func (r *fakeAccountRepo) SetTwoFactorStatus(ctx context.Context, id uuid.UUID, status entity.TwoFactorStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account, ok := r.accounts[id]; ok {
		account.TwoFactorStatus = status
	}
	return nil
}

func (r *fakeAccountRepo) SetConsentVersion(ctx context.Context, id uuid.UUID, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account, ok := r.accounts[id]; ok {
		account.ConsentVersion = version
	}
	return nil
}

func (r *fakeAccountRepo) Anonymize(ctx context.Context, id uuid.UUID, username string, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok || account.Anonymized {
		return false, nil
	}
	account.Username = username
	account.Email = email
	account.PasswordHash = nil
	account.TwoFactorStatus = entity.TwoFactorDisabled
	account.LockedUntil = nil
	account.FailedAttempts = 0
	account.Anonymized = true
	return true, nil
}

type fakeTwoFactorRepo struct {
	mu      sync.Mutex
	secrets map[uuid.UUID]*entity.TwoFactorSecret
}

func newFakeTwoFactorRepo() *fakeTwoFactorRepo {
	return &fakeTwoFactorRepo{secrets: make(map[uuid.UUID]*entity.TwoFactorSecret)}
}

func (r *fakeTwoFactorRepo) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*entity.TwoFactorSecret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	secret, ok := r.secrets[accountID]
	if !ok {
		return nil, nil
	}
	copied := *secret
	copied.BackupCodes = append(datatypes.JSONSlice[entity.BackupCode](nil), secret.BackupCodes...)
	return &copied, nil
}

func (r *fakeTwoFactorRepo) Upsert(ctx context.Context, secret *entity.TwoFactorSecret) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *secret
	copied.BackupCodes = append(datatypes.JSONSlice[entity.BackupCode](nil), secret.BackupCodes...)
	r.secrets[secret.AccountID] = &copied
	return nil
}

func (r *fakeTwoFactorRepo) Delete(ctx context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.secrets, accountID)
	return nil
}

func (r *fakeTwoFactorRepo) ConsumeBackupCode(ctx context.Context, accountID uuid.UUID, digest string, now time.Time) (bool, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	secret, ok := r.secrets[accountID]
	if !ok {
		return false, false, nil
	}
	for i := range secret.BackupCodes {
		if secret.BackupCodes[i].Digest != digest {
			continue
		}
		if secret.BackupCodes[i].UsedAt != nil {
			return false, true, nil
		}
		used := now
		secret.BackupCodes[i].UsedAt = &used
		return true, false, nil
	}
	return false, false, nil
}

type fakeEmailCodeRepo struct {
	mu    sync.Mutex
	codes []*entity.EmailCode
}

func newFakeEmailCodeRepo() *fakeEmailCodeRepo {
	return &fakeEmailCodeRepo{}
}

func (r *fakeEmailCodeRepo) Create(ctx context.Context, code *entity.EmailCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	copied := *code
	r.codes = append(r.codes, &copied)
	return nil
}

func (r *fakeEmailCodeRepo) FindValid(ctx context.Context, accountID uuid.UUID, digest string, now time.Time) (*entity.EmailCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, code := range r.codes {
		if code.AccountID == accountID && code.CodeHash == digest && code.UsedAt == nil && code.ExpiresAt.After(now) {
			copied := *code
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeEmailCodeRepo) MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, code := range r.codes {
		if code.ID == id {
			used := now
			code.UsedAt = &used
		}
	}
	return nil
}

func (r *fakeEmailCodeRepo) IncrementAttempts(ctx context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, code := range r.codes {
		if code.AccountID == accountID && code.UsedAt == nil {
			code.Attempts++
		}
	}
	return nil
}

func (r *fakeEmailCodeRepo) DeleteForAccount(ctx context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.codes[:0]
	for _, code := range r.codes {
		if code.AccountID != accountID {
			kept = append(kept, code)
		}
	}
	r.codes = kept
	return nil
}

type fakeAPIKeyRepo struct {
	mu   sync.Mutex
	keys map[uuid.UUID]*entity.APIKey
}

func newFakeAPIKeyRepo() *fakeAPIKeyRepo {
	return &fakeAPIKeyRepo{keys: make(map[uuid.UUID]*entity.APIKey)}
}

func (r *fakeAPIKeyRepo) Create(ctx context.Context, key *entity.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	copied := *key
	r.keys[key.ID] = &copied
	return nil
}

func (r *fakeAPIKeyRepo) FindBySecretHash(ctx context.Context, digest string) (*entity.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.keys {
		if key.SecretHash == digest {
			copied := *key
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeAPIKeyRepo) FindActiveByKeyID(ctx context.Context, keyID uuid.UUID) (*entity.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.keys {
		if key.KeyID == keyID && key.Status == entity.APIKeyActive {
			copied := *key
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeAPIKeyRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, includeInactive bool) ([]entity.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []entity.APIKey
	for _, key := range r.keys {
		if key.OwnerID != ownerID {
			continue
		}
		if !includeInactive && key.Status != entity.APIKeyActive && key.Status != entity.APIKeyRotated {
			continue
		}
		keys = append(keys, *key)
	}
	return keys, nil
}

func (r *fakeAPIKeyRepo) ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]entity.APIKey, error) {
	return r.ListByOwner(ctx, ownerID, false)
}

func (r *fakeAPIKeyRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from entity.APIKeyStatus, to entity.APIKeyStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok || key.Status != from {
		return false, nil
	}
	key.Status = to
	return true, nil
}

func (r *fakeAPIKeyRepo) Rotate(ctx context.Context, old *entity.APIKey, replacement *entity.APIKey, graceUntil time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.keys[old.ID]
	if !ok || stored.Status != entity.APIKeyActive {
		return nil
	}
	stored.Status = entity.APIKeyRotated
	grace := graceUntil
	stored.GraceUntil = &grace
	if replacement.ID == uuid.Nil {
		replacement.ID = uuid.New()
	}
	copied := *replacement
	r.keys[replacement.ID] = &copied
	return nil
}

func (r *fakeAPIKeyRepo) RevokeByKeyID(ctx context.Context, keyID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var affected int64
	for _, key := range r.keys {
		if key.KeyID != keyID {
			continue
		}
		if key.Status == entity.APIKeyActive || key.Status == entity.APIKeyRotated {
			key.Status = entity.APIKeyRevoked
			affected++
		}
	}
	return affected, nil
}

func (r *fakeAPIKeyRepo) ConsumeRateSlot(ctx context.Context, id uuid.UUID, windowStart time.Time, limit int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return false, nil
	}
	if key.RateWindowStart == nil || key.RateWindowStart.Before(windowStart) {
		start := windowStart
		key.RateWindowStart = &start
		key.RateWindowCount = 1
		return true, nil
	}
	if key.RateWindowCount < limit {
		key.RateWindowCount++
		return true, nil
	}
	return false, nil
}

func (r *fakeAPIKeyRepo) FindExpiredCandidates(ctx context.Context, now time.Time) ([]entity.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []entity.APIKey
	for _, key := range r.keys {
		if key.Status != entity.APIKeyActive && key.Status != entity.APIKeyRotated {
			continue
		}
		if !key.ExpiresAt.After(now) {
			keys = append(keys, *key)
			continue
		}
		if key.Status == entity.APIKeyRotated && key.GraceUntil != nil && !key.GraceUntil.After(now) {
			keys = append(keys, *key)
		}
	}
	return keys, nil
}

func (r *fakeAPIKeyRepo) RecordUsage(ctx context.Context, id uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.keys[id]; ok {
		key.UsageCount++
		used := now
		key.LastUsedAt = &used
	}
	return nil
}

type fakeAuditRepo struct {
	mu     sync.Mutex
	seq    int64
	events []*entity.AuditEvent
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{}
}

func (r *fakeAuditRepo) Append(ctx context.Context, event *entity.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	event.Seq = r.seq
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	copied := *event
	r.events = append(r.events, &copied)
	return nil
}

func (r *fakeAuditRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.ID == id {
			copied := *event
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeAuditRepo) Query(ctx context.Context, filter repository.AuditFilter) ([]entity.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []entity.AuditEvent
	for _, event := range r.events {
		if filter.Category != "" && event.Category != filter.Category {
			continue
		}
		if filter.Actor != "" && event.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && event.Action != filter.Action {
			continue
		}
		if filter.Outcome != "" && event.Outcome != filter.Outcome {
			continue
		}
		if filter.From != nil && event.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && event.Timestamp.After(*filter.To) {
			continue
		}
		matched = append(matched, *event)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq < matched[j].Seq })
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (r *fakeAuditRepo) CountByActor(ctx context.Context, actor string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, event := range r.events {
		if event.Actor == actor {
			count++
		}
	}
	return count, nil
}

func (r *fakeAuditRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	var removed int64
	for _, event := range r.events {
		if event.RetainUntil.After(now) {
			kept = append(kept, event)
		} else {
			removed++
		}
	}
	r.events = kept
	return removed, nil
}

func (r *fakeAuditRepo) PseudonymizeActor(ctx context.Context, actor string, token string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed int64
	for _, event := range r.events {
		if event.Actor == actor {
			event.Actor = token
			changed++
		}
	}
	return changed, nil
}

type fakeConsentRepo struct {
	mu      sync.Mutex
	records []*entity.ConsentRecord
}

func newFakeConsentRepo() *fakeConsentRepo {
	return &fakeConsentRepo{}
}

func (r *fakeConsentRepo) Append(ctx context.Context, record *entity.ConsentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	copied := *record
	r.records = append(r.records, &copied)
	return nil
}

func (r *fakeConsentRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]entity.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var records []entity.ConsentRecord
	for _, record := range r.records {
		if record.AccountID == accountID {
			records = append(records, *record)
		}
	}
	return records, nil
}

func (r *fakeConsentRepo) LatestByPurpose(ctx context.Context, accountID uuid.UUID, purpose string) (*entity.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].AccountID == accountID && r.records[i].Purpose == purpose {
			copied := *r.records[i]
			return &copied, nil
		}
	}
	return nil, nil
}

type fakeSubjectRequestRepo struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*entity.SubjectRequest
}

func newFakeSubjectRequestRepo() *fakeSubjectRequestRepo {
	return &fakeSubjectRequestRepo{requests: make(map[uuid.UUID]*entity.SubjectRequest)}
}

func (r *fakeSubjectRequestRepo) Create(ctx context.Context, request *entity.SubjectRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	copied := *request
	r.requests[request.ID] = &copied
	return nil
}

func (r *fakeSubjectRequestRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.SubjectRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	copied := *request
	return &copied, nil
}

func (r *fakeSubjectRequestRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]entity.SubjectRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var requests []entity.SubjectRequest
	for _, request := range r.requests {
		if request.AccountID == accountID {
			requests = append(requests, *request)
		}
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].RequestedAt.Before(requests[j].RequestedAt) })
	return requests, nil
}

func (r *fakeSubjectRequestRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from entity.SubjectRequestStatus, to entity.SubjectRequestStatus, processedAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok || request.Status != from {
		return false, nil
	}
	request.Status = to
	if processedAt != nil {
		processed := *processedAt
		request.ProcessedAt = &processed
	}
	return true, nil
}

func (r *fakeSubjectRequestRepo) SetArtifact(ctx context.Context, id uuid.UUID, artifact datatypes.JSON) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if request, ok := r.requests[id]; ok {
		request.Artifact = artifact
	}
	return nil
}

func (r *fakeSubjectRequestRepo) SetNotes(ctx context.Context, id uuid.UUID, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if request, ok := r.requests[id]; ok {
		request.Notes = notes
	}
	return nil
}

func (r *fakeSubjectRequestRepo) CountByTypeAndStatus(ctx context.Context) (map[entity.SubjectRequestType]int64, map[entity.SubjectRequestStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byType := make(map[entity.SubjectRequestType]int64)
	byStatus := make(map[entity.SubjectRequestStatus]int64)
	for _, request := range r.requests {
		byType[request.Type]++
		byStatus[request.Status]++
	}
	return byType, byStatus, nil
}

func (r *fakeSubjectRequestRepo) FindDue(ctx context.Context, now time.Time) ([]entity.SubjectRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []entity.SubjectRequest
	for _, request := range r.requests {
		if request.Status != entity.RequestPending || request.ScheduledAt == nil {
			continue
		}
		if !request.ScheduledAt.After(now) {
			due = append(due, *request)
		}
	}
	return due, nil
}

type fakeLegalRepo struct {
	mu      sync.Mutex
	changes []*entity.LegalChange
}

func newFakeLegalRepo() *fakeLegalRepo {
	return &fakeLegalRepo{}
}

func (r *fakeLegalRepo) Create(ctx context.Context, change *entity.LegalChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if change.ID == uuid.Nil {
		change.ID = uuid.New()
	}
	copied := *change
	r.changes = append(r.changes, &copied)
	return nil
}

func (r *fakeLegalRepo) LatestByType(ctx context.Context, changeType string) (*entity.LegalChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.changes) - 1; i >= 0; i-- {
		if r.changes[i].ChangeType == changeType {
			copied := *r.changes[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeLegalRepo) Latest(ctx context.Context) (*entity.LegalChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return nil, nil
	}
	copied := *r.changes[len(r.changes)-1]
	return &copied, nil
}

func (r *fakeLegalRepo) List(ctx context.Context, limit int) ([]entity.LegalChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changes []entity.LegalChange
	for i := len(r.changes) - 1; i >= 0; i-- {
		changes = append(changes, *r.changes[i])
		if limit > 0 && len(changes) == limit {
			break
		}
	}
	return changes, nil
}
