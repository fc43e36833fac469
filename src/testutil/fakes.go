package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cloudsignup/backend/src/domain"
	"github.com/cloudsignup/backend/src/notification"
)

// MemoryChallengeStore is an in-memory challenge store with an adjustable clock.
type MemoryChallengeStore struct {
	mu     sync.Mutex
	rows   map[string]*domain.ChallengeToken
	nextID uint64

	Now func() time.Time

	CreateErr error
	FindErr   error
	DeleteErr error
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		rows: make(map[string]*domain.ChallengeToken),
		Now:  time.Now,
	}
}

func (s *MemoryChallengeStore) CreateChallenge(_ context.Context, challenge *domain.ChallengeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return s.CreateErr
	}
	if _, ok := s.rows[challenge.Token]; ok {
		return fmt.Errorf("duplicate token %q", challenge.Token)
	}

	s.nextID++
	row := *challenge
	row.ID = s.nextID
	row.CreatedAt = s.Now()
	s.rows[row.Token] = &row

	return nil
}

func (s *MemoryChallengeStore) FindLiveChallenge(_ context.Context, token string, ttl time.Duration) (*domain.ChallengeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FindErr != nil {
		return nil, s.FindErr
	}

	row, ok := s.rows[token]
	if !ok || s.Now().Sub(row.CreatedAt) >= ttl {
		return nil, domain.ErrTokenNotFound
	}

	found := *row
	return &found, nil
}

func (s *MemoryChallengeStore) DeleteByEmailOrStale(_ context.Context, email string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DeleteErr != nil {
		return 0, s.DeleteErr
	}

	var deleted int64
	for token, row := range s.rows {
		if row.Email == email || s.Now().Sub(row.CreatedAt) >= ttl {
			delete(s.rows, token)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryChallengeStore) DeleteStale(_ context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DeleteErr != nil {
		return 0, s.DeleteErr
	}

	var deleted int64
	for token, row := range s.rows {
		if s.Now().Sub(row.CreatedAt) >= ttl {
			delete(s.rows, token)
			deleted++
		}
	}
	return deleted, nil
}

// Backdate moves the creation time of token into the past by d.
func (s *MemoryChallengeStore) Backdate(token string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.rows[token]; ok {
		row.CreatedAt = row.CreatedAt.Add(-d)
	}
}

// Len returns the number of stored tokens.
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Tokens returns the stored rows for email.
func (s *MemoryChallengeStore) Tokens(email string) []domain.ChallengeToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ChallengeToken
	for _, row := range s.rows {
		if row.Email == email {
			out = append(out, *row)
		}
	}
	return out
}

// SentMail is one email recorded by RecordingMailer.
type SentMail struct {
	Kind  notification.Kind
	To    string
	Name  string
	Host  string
	Token string
}

// RecordingMailer records sent emails instead of delivering them.
type RecordingMailer struct {
	mu   sync.Mutex
	sent []SentMail

	Err error
}

func (m *RecordingMailer) Send(_ context.Context, kind notification.Kind, to, name, host, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMail{Kind: kind, To: to, Name: name, Host: host, Token: token})
	return nil
}

func (m *RecordingMailer) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMail(nil), m.sent...)
}

// Last returns the most recent email, or the zero value when none was sent.
func (m *RecordingMailer) Last() SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMail{}
	}
	return m.sent[len(m.sent)-1]
}

// FakeAccounts is an in-memory Accounts API. Errors keyed by method name are
// returned by that method before it does anything.
type FakeAccounts struct {
	mu          sync.Mutex
	accounts    map[string]*domain.Account
	credentials map[string]*domain.Credential
	nextID      int

	Errors map[string]error
	Calls  []string
}

func NewFakeAccounts() *FakeAccounts {
	return &FakeAccounts{
		accounts:    make(map[string]*domain.Account),
		credentials: make(map[string]*domain.Credential),
		Errors:      make(map[string]error),
	}
}

// AddUser seeds an account with a password credential and returns the account id.
func (f *FakeAccounts) AddUser(name, email, password string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	account := f.newAccountLocked(name)
	f.newCredentialLocked(account.ID, email, password)
	return account.ID
}

// Password returns the stored secret for email.
func (f *FakeAccounts) Password(email string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	credential, ok := f.credentials[email]
	if !ok {
		return "", false
	}
	return credential.SecretValue, true
}

func (f *FakeAccounts) AccountCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accounts)
}

func (f *FakeAccounts) call(method string) error {
	f.Calls = append(f.Calls, method)
	return f.Errors[method]
}

func (f *FakeAccounts) CreateAccount(_ context.Context, name string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("CreateAccount"); err != nil {
		return nil, err
	}
	account := f.newAccountLocked(name)
	return &account, nil
}

func (f *FakeAccounts) CreatePasswordCredential(_ context.Context, accountID, email, password string) (*domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("CreatePasswordCredential"); err != nil {
		return nil, err
	}
	credential := f.newCredentialLocked(accountID, email, password)
	return &credential, nil
}

func (f *FakeAccounts) FindPasswordCredential(_ context.Context, email string) (*domain.Credential, error) {
	return f.findCredential("FindPasswordCredential", email)
}

func (f *FakeAccounts) FindPassword(_ context.Context, email string) (*domain.Credential, error) {
	return f.findCredential("FindPassword", email)
}

func (f *FakeAccounts) findCredential(method, email string) (*domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call(method); err != nil {
		return nil, err
	}
	credential, ok := f.credentials[email]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	found := *credential
	return &found, nil
}

func (f *FakeAccounts) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("GetAccount"); err != nil {
		return nil, err
	}
	account, ok := f.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	found := *account
	return &found, nil
}

func (f *FakeAccounts) ChangeSecret(_ context.Context, credential *domain.Credential, newSecret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("ChangeSecret"); err != nil {
		return err
	}
	stored, ok := f.credentials[credential.PublicValue]
	if !ok {
		return &domain.GatewayError{Status: http.StatusNotFound}
	}
	stored.SecretValue = newSecret
	return nil
}

// Login accepts the stored password of email and rejects anything else with
// a 401 *domain.LoginError.
func (f *FakeAccounts) Login(_ context.Context, username, password string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.call("Login"); err != nil {
		return nil, err
	}
	credential, ok := f.credentials[username]
	if !ok || credential.SecretValue != password {
		return nil, &domain.LoginError{
			Status:      http.StatusUnauthorized,
			ContentType: "application/json",
			Body:        []byte(`{"type":"error","status":401,"code":"Unauthorized"}`),
		}
	}
	return &domain.Session{JWT: "jwt-" + credential.AccountID}, nil
}

func (f *FakeAccounts) newAccountLocked(name string) domain.Account {
	f.nextID++
	account := domain.Account{
		ID:   fmt.Sprintf("1a%d", f.nextID),
		Type: "account",
		Kind: "user",
		Name: name,
	}
	f.accounts[account.ID] = &account
	return account
}

func (f *FakeAccounts) newCredentialLocked(accountID, email, password string) domain.Credential {
	f.nextID++
	credential := domain.Credential{
		ID:          fmt.Sprintf("1c%d", f.nextID),
		Type:        "password",
		Kind:        "password",
		PublicValue: email,
		SecretValue: password,
		AccountID:   accountID,
	}
	f.credentials[email] = &credential
	return credential
}
