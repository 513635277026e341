// Package token keeps one valid access token per account, refreshing it
// through the OAuth token endpoint when it is about to expire.
package token

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/ryokaneoka0406/wise/internal/apperrors"
	"github.com/ryokaneoka0406/wise/internal/db/models"
)

// refreshMargin is how long before expiry a cached token is still trusted.
const refreshMargin = 60 * time.Second

// Manager produces valid access tokens on demand. The cached token lives
// on the Account row; Manager is its only writer.
type Manager struct {
	db       *gorm.DB
	oauthCfg *oauth2.Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a manager over the given store and OAuth client config.
func NewManager(db *gorm.DB, oauthCfg *oauth2.Config) *Manager {
	return &Manager{
		db:       db,
		oauthCfg: oauthCfg,
		locks:    make(map[string]*sync.Mutex),
	}
}

// AccessToken returns a token valid for at least refreshMargin. If the
// cached token is still fresh it is returned unchanged; otherwise one
// refresh exchange is performed and persisted. Concurrent callers for the
// same account serialize on a per-account lock, so the second caller
// reuses the token the first one obtained.
func (m *Manager) AccessToken(ctx context.Context, accountID string) (string, time.Time, error) {
	lock := m.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	var account models.Account
	if err := m.db.First(&account, "id = ?", accountID).Error; err != nil {
		return "", time.Time{}, fmt.Errorf("load account %s: %w", accountID, err)
	}

	if account.AccessToken != "" && time.Until(account.ExpiresAt) > refreshMargin {
		return account.AccessToken, account.ExpiresAt, nil
	}

	if account.RefreshToken == "" {
		return "", time.Time{}, fmt.Errorf("account %s has no refresh credential: %w", account.Email, apperrors.ErrAuthExpired)
	}

	src := m.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	newToken, err := src.Token()
	if err != nil {
		if isPermanentRefreshError(err) {
			log.Printf("[Token] refresh rejected for %s: %v", account.Email, err)
			return "", time.Time{}, fmt.Errorf("refresh credential rejected: %w", apperrors.ErrAuthExpired)
		}
		return "", time.Time{}, &apperrors.TransientError{Err: fmt.Errorf("token refresh: %w", err)}
	}

	account.AccessToken = newToken.AccessToken
	account.ExpiresAt = newToken.Expiry
	account.LastUsedAt = time.Now()
	// Persist a rotated refresh token when the provider issues one.
	if newToken.RefreshToken != "" && newToken.RefreshToken != account.RefreshToken {
		log.Printf("[Token] rotating refresh token for %s", account.Email)
		account.RefreshToken = newToken.RefreshToken
	}
	if err := m.db.Save(&account).Error; err != nil {
		return "", time.Time{}, fmt.Errorf("persist refreshed token: %w", err)
	}

	log.Printf("[Token] refreshed token for %s (expires %s)", account.Email, newToken.Expiry.Format(time.RFC3339))
	return account.AccessToken, account.ExpiresAt, nil
}

// Invalidate drops the cached token so the next AccessToken call performs
// a refresh exchange. Used after the warehouse reports a 401 despite a
// seemingly fresh token.
func (m *Manager) Invalidate(accountID string) {
	lock := m.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	m.db.Model(&models.Account{}).Where("id = ?", accountID).
		Updates(map[string]interface{}{"access_token": "", "expires_at": time.Time{}})
}

func (m *Manager) accountLock(accountID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[accountID]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.locks[accountID] = l
	return l
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
