// Package token loads, refreshes, and invalidates the bearer credential used
// against the remote coordination service. Credential values never appear in
// full in logs or diagnostics; use TokenRecord.Masked.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kurtosis-tech/stacktrace"
)

// DefaultRefreshBuffer is how long before expiry a refresh is attempted.
const DefaultRefreshBuffer = 5 * time.Minute

const defaultRefreshHTTPTimeout = 2 * time.Second

// ErrNoCredential signals the distinct unauthenticated state: no credential
// file exists (or it cannot be parsed). Callers degrade to reporting "not
// connected" rather than failing.
var ErrNoCredential = errors.New("no credential available")

// TokenRecord is a bearer credential with its freshness state.
type TokenRecord struct {
	Value         string
	ExpiresAt     time.Time
	RefreshBuffer time.Duration
	// PendingRefresh is set when a refresh was due but failed; the token is
	// still valid but aging.
	PendingRefresh bool
}

// Expired reports whether the token is past its expiry.
func (t TokenRecord) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// Masked returns a diagnostic-safe form of the token value: a short prefix
// and nothing else.
func (t TokenRecord) Masked() string {
	const prefixLen = 8
	if len(t.Value) <= prefixLen {
		return "****"
	}
	return t.Value[:prefixLen] + "****"
}

// credentialFile is the on-disk credential format. expiresAt is a unix
// timestamp in seconds.
type credentialFile struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken,omitempty"`
	ExpiresAt    float64 `json:"expiresAt"`
}

// Store loads a credential from its file on first use, refreshes it through
// the remote refresh endpoint when it nears expiry, and reloads it from
// source after an explicit invalidation.
type Store struct {
	credentialFilepath string
	refreshURL         string
	refreshBuffer      time.Duration
	httpClient         *http.Client
	logger             *slog.Logger

	mu           sync.Mutex
	record       *TokenRecord
	refreshToken string
}

// NewStore creates a store reading from credentialFilepath and refreshing
// against refreshURL. A nil httpClient gets a short-timeout default.
func NewStore(credentialFilepath string, refreshURL string, httpClient *http.Client, logger *slog.Logger) *Store {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRefreshHTTPTimeout}
	}
	return &Store{
		credentialFilepath: credentialFilepath,
		refreshURL:         refreshURL,
		refreshBuffer:      DefaultRefreshBuffer,
		httpClient:         httpClient,
		logger:             logger,
	}
}

// CurrentToken returns the current bearer credential, refreshing it first
// when it is within the refresh buffer of expiry. Returns ErrNoCredential
// when no usable credential exists.
func (s *Store) CurrentToken(ctx context.Context) (TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record == nil {
		if err := s.loadLocked(); err != nil {
			return TokenRecord{}, err
		}
	}

	record := *s.record
	if record.ExpiresAt.IsZero() || time.Until(record.ExpiresAt) > s.refreshBuffer {
		return record, nil
	}

	if err := s.refreshLocked(ctx); err != nil {
		// The token is aging but may still work; hand it back flagged rather
		// than failing the caller outright.
		s.logger.Warn("Token refresh failed; returning aging token", "error", err, "token", record.Masked())
		record.PendingRefresh = true
		s.record.PendingRefresh = true
		return record, nil
	}
	return *s.record, nil
}

// Invalidate clears the in-memory record so the next CurrentToken reloads
// from source. Called after the remote service rejects the credential.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = nil
	s.refreshToken = ""
}

func (s *Store) loadLocked() error {
	data, err := os.ReadFile(s.credentialFilepath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read credential file", "path", s.credentialFilepath, "error", err)
		}
		return ErrNoCredential
	}

	var cred credentialFile
	if err := json.Unmarshal(data, &cred); err != nil {
		s.logger.Warn("Credential file is not valid JSON", "path", s.credentialFilepath, "error", err)
		return ErrNoCredential
	}
	if cred.AccessToken == "" {
		return ErrNoCredential
	}

	record := TokenRecord{
		Value:         cred.AccessToken,
		RefreshBuffer: s.refreshBuffer,
	}
	if cred.ExpiresAt > 0 {
		record.ExpiresAt = time.Unix(int64(cred.ExpiresAt), 0)
	}
	s.record = &record
	s.refreshToken = cred.RefreshToken
	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshLocked exchanges the refresh token for a fresh credential and writes
// the result back to the credential file.
func (s *Store) refreshLocked(ctx context.Context) error {
	if s.refreshURL == "" {
		return stacktrace.NewError("no refresh endpoint configured")
	}
	if s.refreshToken == "" {
		return stacktrace.NewError("credential has no refresh token")
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: s.refreshToken})
	if err != nil {
		return stacktrace.Propagate(err, "failed to encode refresh request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.refreshURL, bytes.NewReader(body))
	if err != nil {
		return stacktrace.Propagate(err, "failed to create refresh request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return stacktrace.Propagate(err, "refresh request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stacktrace.NewError("refresh endpoint returned status %d", resp.StatusCode)
	}

	var cred credentialFile
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return stacktrace.Propagate(err, "failed to decode refresh response")
	}
	if cred.AccessToken == "" {
		return stacktrace.NewError("refresh response carried no access token")
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = s.refreshToken
	}

	if err := s.writeCredentialFile(cred); err != nil {
		return err
	}

	record := TokenRecord{
		Value:         cred.AccessToken,
		RefreshBuffer: s.refreshBuffer,
	}
	if cred.ExpiresAt > 0 {
		record.ExpiresAt = time.Unix(int64(cred.ExpiresAt), 0)
	}
	s.record = &record
	s.refreshToken = cred.RefreshToken
	s.logger.Info("Token refreshed", "token", record.Masked(), "expiresAt", record.ExpiresAt)
	return nil
}

// writeCredentialFile atomically replaces the credential file: write a temp
// file in the same directory, then rename over the original. A concurrent
// reader sees either the old or the new content, never a partial write.
func (s *Store) writeCredentialFile(cred credentialFile) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return stacktrace.Propagate(err, "failed to encode credential file")
	}

	dirpath := filepath.Dir(s.credentialFilepath)
	tmpFile, err := os.CreateTemp(dirpath, ".credentials-*.tmp")
	if err != nil {
		return stacktrace.Propagate(err, "failed to create temp credential file")
	}
	tmpFilepath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFilepath)
		return stacktrace.Propagate(err, "failed to write temp credential file")
	}
	if err := tmpFile.Chmod(0600); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFilepath)
		return stacktrace.Propagate(err, "failed to restrict credential file permissions")
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFilepath)
		return stacktrace.Propagate(err, "failed to close temp credential file")
	}
	if err := os.Rename(tmpFilepath, s.credentialFilepath); err != nil {
		_ = os.Remove(tmpFilepath)
		return stacktrace.Propagate(err, "failed to replace credential file")
	}
	return nil
}
