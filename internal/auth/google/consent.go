package google

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/ryokaneoka0406/wise/internal/apperrors"
	"github.com/ryokaneoka0406/wise/internal/config"
	"github.com/ryokaneoka0406/wise/internal/db/models"
)

const (
	// preferredCallbackPort is tried first so the redirect URL stays
	// stable across logins; any free high port works as a fallback.
	preferredCallbackPort = 8917
	consentTimeout        = 5 * time.Minute

	defaultUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

type consentResult struct {
	account *models.Account
	err     error
}

// RunConsentFlow runs the interactive OAuth consent flow: it starts a
// temporary localhost callback server, prints the consent URL, waits for
// the redirect, exchanges the code, resolves the account email, and
// upserts the Account row. A denied consent or a timeout yields
// apperrors.ErrConsentDenied.
func RunConsentFlow(ctx context.Context, db *gorm.DB, cfg *config.Config, out io.Writer) (*models.Account, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", preferredCallbackPort))
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("start callback server: %w", err)
		}
	}
	port := listener.Addr().(*net.TCPAddr).Port

	redirectURL := fmt.Sprintf("http://localhost:%d/oauth-callback", port)
	oauthCfg := OAuthConfig(cfg, redirectURL)
	state := newStateToken()

	results := make(chan consentResult, 1)

	r := chi.NewRouter()
	r.Get("/oauth-callback", func(w http.ResponseWriter, req *http.Request) {
		res := handleCallback(req, db, oauthCfg, state)
		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, "<html><body><h2>Login successful</h2><p>Signed in as <strong>%s</strong>. You can close this tab and return to the terminal.</p></body></html>", res.account.Email)
		}
		select {
		case results <- res:
		default:
		}
	})

	srv := &http.Server{Handler: r}
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[OAuth] callback server error: %v", err)
		}
	}()

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}
	defer shutdown()

	authURL := oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
	log.Printf("[OAuth] waiting for callback on port %d", port)

	select {
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		log.Printf("[OAuth] authenticated as %s", res.account.Email)
		return res.account, nil
	case <-time.After(consentTimeout):
		return nil, fmt.Errorf("consent timed out: %w", apperrors.ErrConsentDenied)
	case <-ctx.Done():
		return nil, fmt.Errorf("consent interrupted: %w", apperrors.ErrConsentDenied)
	}
}

func handleCallback(req *http.Request, db *gorm.DB, oauthCfg *oauth2.Config, state string) consentResult {
	q := req.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		// access_denied is the user clicking "cancel" on the consent page.
		return consentResult{err: fmt.Errorf("%s: %w", errCode, apperrors.ErrConsentDenied)}
	}
	if q.Get("state") != state {
		return consentResult{err: fmt.Errorf("state token mismatch: %w", apperrors.ErrConsentDenied)}
	}

	token, err := oauthCfg.Exchange(req.Context(), q.Get("code"))
	if err != nil {
		return consentResult{err: fmt.Errorf("token exchange failed: %w", err)}
	}
	if token.RefreshToken == "" {
		return consentResult{err: fmt.Errorf("no refresh token issued; re-run login and grant offline access")}
	}

	email, err := fetchEmail(req.Context(), oauthCfg, token)
	if err != nil {
		return consentResult{err: fmt.Errorf("fetch user info: %w", err)}
	}

	account, err := UpsertAccount(db, email, token)
	if err != nil {
		return consentResult{err: fmt.Errorf("save account: %w", err)}
	}
	return consentResult{account: account}
}

// UpsertAccount stores the consent result, keeping the surrogate id when
// the email is already known.
func UpsertAccount(db *gorm.DB, email string, token *oauth2.Token) (*models.Account, error) {
	var account models.Account
	err := db.Where("email = ?", email).First(&account).Error
	switch {
	case err == nil:
		account.RefreshToken = token.RefreshToken
		account.AccessToken = token.AccessToken
		account.ExpiresAt = token.Expiry
		account.LastUsedAt = time.Now()
		if err := db.Save(&account).Error; err != nil {
			return nil, err
		}
		return &account, nil
	case err == gorm.ErrRecordNotFound:
		account = models.Account{
			ID:           uuid.New().String(),
			Email:        email,
			RefreshToken: token.RefreshToken,
			AccessToken:  token.AccessToken,
			ExpiresAt:    token.Expiry,
			LastUsedAt:   time.Now(),
		}
		if err := db.Create(&account).Error; err != nil {
			return nil, err
		}
		return &account, nil
	default:
		return nil, err
	}
}

func fetchEmail(ctx context.Context, oauthCfg *oauth2.Config, token *oauth2.Token) (string, error) {
	url := os.Getenv("WISE_USERINFO_URL")
	if url == "" {
		url = defaultUserinfoURL
	}

	client := oauthCfg.Client(ctx, token)
	resp, err := client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned %d", resp.StatusCode)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.Email == "" {
		return "", fmt.Errorf("userinfo response missing email")
	}
	return info.Email, nil
}

func newStateToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
