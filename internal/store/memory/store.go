// Package memory is an in-process implementation of every gateway storage
// interface. It backs local runs without a DSN and the HTTP API tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/audit"
	"tradejournal.app/internal/ban"
	"tradejournal.app/internal/challenge"
	"tradejournal.app/internal/gateway"
	"tradejournal.app/internal/risk"
)

type account struct {
	disabled        bool
	profileDisabled bool
	hasProfile      bool
}

// Store implements the same interfaces as the Postgres store.
type Store struct {
	mu          sync.RWMutex
	roles       map[string]map[string]bool
	secrets     map[string]string
	attempts    []challenge.Attempt
	audit       []audit.Entry
	auditErr    error
	accounts    map[string]*account
	bans        map[string]ban.Record
	data        map[gateway.DataType]map[string]any
	assessments []risk.Record
}

var (
	_ access.RoleStore       = (*Store)(nil)
	_ audit.Store            = (*Store)(nil)
	_ challenge.AttemptStore = (*Store)(nil)
	_ challenge.SecretStore  = (*Store)(nil)
	_ ban.Store              = (*Store)(nil)
	_ ban.IdentityProvider   = (*Store)(nil)
	_ ban.ProfileStore       = (*Store)(nil)
	_ gateway.Repository     = (*Store)(nil)
	_ risk.Recorder          = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		roles:    make(map[string]map[string]bool),
		secrets:  make(map[string]string),
		accounts: make(map[string]*account),
		bans:     make(map[string]ban.Record),
		data:     make(map[gateway.DataType]map[string]any),
	}
}

// AddUser registers an account with a profile.
func (s *Store) AddUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[userID] = &account{hasProfile: true}
	s.putLocked(gateway.DataProfile, userID, map[string]any{"user_id": userID})
}

// PutData replaces the stored value of one data type for a user.
func (s *Store) PutData(dataType gateway.DataType, userID string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(dataType, userID, v)
}

func (s *Store) putLocked(dataType gateway.DataType, userID string, v any) {
	if s.data[dataType] == nil {
		s.data[dataType] = make(map[string]any)
	}
	s.data[dataType][userID] = v
}

func (s *Store) GrantRole(_ context.Context, userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles[userID] == nil {
		s.roles[userID] = make(map[string]bool)
	}
	s.roles[userID][role] = true
	return nil
}

// RevokeRole removes a role; the next privileged call sees it.
func (s *Store) RevokeRole(userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles[userID], role)
}

func (s *Store) HasRole(_ context.Context, userID, role string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[userID][role], nil
}

func (s *Store) SetSecretHash(_ context.Context, adminID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[adminID] = hash
	return nil
}

func (s *Store) SecretHash(_ context.Context, adminID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.secrets[adminID]
	return h, ok, nil
}

func (s *Store) FailuresSinceLastSuccess(_ context.Context, adminID string) ([]challenge.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []challenge.Attempt
	for _, a := range s.attempts {
		if a.AdminID != adminID {
			continue
		}
		if a.Success {
			res = res[:0]
			continue
		}
		res = append(res, a)
	}
	return res, nil
}

func (s *Store) InsertAttempt(_ context.Context, a *challenge.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *a)
	sort.SliceStable(s.attempts, func(i, j int) bool {
		return s.attempts[i].AttemptedAt.Before(s.attempts[j].AttemptedAt)
	})
	return nil
}

// FailAudit makes every subsequent Append return err; nil restores writes.
func (s *Store) FailAudit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditErr = err
}

func (s *Store) Append(_ context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditErr != nil {
		return s.auditErr
	}
	s.audit = append(s.audit, *e)
	return nil
}

// AuditEntries returns a copy of the log in append order.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry(nil), s.audit...)
}

func (s *Store) SetAccountDisabled(_ context.Context, userID string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[userID]
	if !ok {
		return access.ErrNotFound
	}
	acc.disabled = disabled
	return nil
}

// AccountDisabled reports the identity-provider flag.
func (s *Store) AccountDisabled(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[userID]
	return ok && acc.disabled
}

func (s *Store) SetProfileDisabled(_ context.Context, userID string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[userID]
	if !ok || !acc.hasProfile {
		return access.ErrNotFound
	}
	acc.profileDisabled = disabled
	return nil
}

// ProfileDisabled reports the suspension flag.
func (s *Store) ProfileDisabled(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[userID]
	return ok && acc.profileDisabled
}

func (s *Store) UpsertBan(_ context.Context, rec ban.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[rec.UserID]; !ok {
		return access.ErrNotFound
	}
	s.bans[rec.UserID] = rec
	return nil
}

func (s *Store) DeleteBan(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bans, userID)
	return nil
}

// Ban returns the current ban of a user.
func (s *Store) Ban(userID string) (ban.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.bans[userID]
	return rec, ok
}

func (s *Store) FetchUserData(_ context.Context, dataType gateway.DataType, userID string) (any, error) {
	if _, ok := gateway.ParseDataType(string(dataType)); !ok {
		return nil, fmt.Errorf("%w: unknown data type %q", access.ErrValidation, dataType)
	}
	s.mu.RLock()
	v, ok := s.data[dataType][userID]
	s.mu.RUnlock()
	if !ok {
		if dataType == gateway.DataProfile || dataType == gateway.DataSettings {
			return nil, access.ErrNotFound
		}
		return json.RawMessage(`[]`), nil
	}
	// callers get their own copy
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", dataType, err)
	}
	return json.RawMessage(raw), nil
}

func (s *Store) SaveAssessment(_ context.Context, rec risk.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments = append(s.assessments, rec)
	return nil
}

// Assessments returns recorded assessments in order.
func (s *Store) Assessments() []risk.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]risk.Record(nil), s.assessments...)
}
