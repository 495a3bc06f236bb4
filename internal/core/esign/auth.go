package esign

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	apperrors "github.com/signcrate/signcrate/internal/errors"
)

const (
	demoOAuthHost       = "account-d.docusign.com"
	productionOAuthHost = "account.docusign.com"

	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	grantScope     = "signature impersonation"

	// assertionLifetime is the longest validity the OAuth server accepts.
	assertionLifetime = time.Hour

	// refreshMargin renews the access token this long before it expires.
	refreshMargin = 5 * time.Minute

	defaultTokenLifetime = 3600
	defaultAuthTimeout   = 30 * time.Second
)

// OAuthHost picks the OAuth host for an API base path. Only production API
// hosts (docusign.net without "demo") use the production account server.
func OAuthHost(basePath string) string {
	lower := strings.ToLower(basePath)
	if strings.Contains(lower, "docusign.net") && !strings.Contains(lower, "demo") {
		return productionOAuthHost
	}
	return demoOAuthHost
}

// JWTAuth obtains access tokens through the JWT bearer grant and caches them
// until shortly before they expire.
type JWTAuth struct {
	IntegrationKey string
	UserID         string
	AccountID      string
	BasePath       string
	// OAuthBaseURL overrides the OAuth server derived from BasePath.
	OAuthBaseURL   string
	PrivateKeyPath string
	// PrivateKeyPEM takes precedence over PrivateKeyPath when set.
	PrivateKeyPEM []byte
	Client        *http.Client
	Logger        Logger
	Clock         func() time.Time

	mu     sync.Mutex
	key    *rsa.PrivateKey
	token  string
	expiry time.Time
}

type grantClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Account is one account the authenticated user can act on.
type Account struct {
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`
	BaseURI     string `json:"base_uri"`
	IsDefault   bool   `json:"is_default"`
}

// UserInfo is the identity behind the access token.
type UserInfo struct {
	Sub      string    `json:"sub"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Accounts []Account `json:"accounts"`
}

// Account returns the account with the given ID, if the user has it.
func (u *UserInfo) Account(accountID string) (Account, bool) {
	if u == nil {
		return Account{}, false
	}
	for _, account := range u.Accounts {
		if account.AccountID == accountID {
			return account, true
		}
	}
	return Account{}, false
}

// Token returns a cached access token, requesting a new one when none is
// held or the held one is about to expire.
func (a *JWTAuth) Token(ctx context.Context) (string, error) {
	if a == nil {
		return "", errors.New("jwt auth is not configured")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Before(a.expiry) {
		return a.token, nil
	}

	a.logger().Debug("Requesting access token", zap.String("oauth_host", a.audience()))
	token, expiresIn, err := a.requestToken(ctx)
	if err != nil {
		return "", err
	}

	a.token = token
	a.expiry = a.now().Add(time.Duration(expiresIn)*time.Second - refreshMargin)
	a.logger().Info("Access token obtained",
		zap.Int("expires_in", expiresIn),
		zap.Time("refresh_at", a.expiry))
	return a.token, nil
}

// Invalidate drops the cached token so the next call requests a new one.
func (a *JWTAuth) Invalidate() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.token = ""
	a.expiry = time.Time{}
	a.mu.Unlock()
}

// UserInfo fetches the identity behind the current token and warns when the
// configured account is not among the user's accounts.
func (a *JWTAuth) UserInfo(ctx context.Context) (*UserInfo, error) {
	token, err := a.Token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := a.oauthURL("/oauth/userinfo")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client().Do(req)
	if err != nil {
		return nil, transportError(ctx, endpoint, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read userinfo response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		a.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(endpoint, resp, body)
	}

	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, apperrors.WrapDataProcessing(ctx, err, "decode userinfo response")
	}

	if account, ok := info.Account(a.AccountID); ok {
		a.logger().Info("Account verified",
			zap.String("account_id", account.AccountID),
			zap.String("account_name", account.AccountName))
	} else {
		ids := make([]string, 0, len(info.Accounts))
		for _, account := range info.Accounts {
			ids = append(ids, account.AccountID)
		}
		a.logger().Warn("Configured account not found for user",
			zap.String("account_id", a.AccountID),
			zap.Strings("available_accounts", ids))
	}
	return &info, nil
}

func (a *JWTAuth) requestToken(ctx context.Context) (string, int, error) {
	assertion, err := a.assertion()
	if err != nil {
		return "", 0, err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	endpoint := a.oauthURL("/oauth/token")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client().Do(req)
	if err != nil {
		return "", 0, transportError(ctx, endpoint, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		envelope := statusError(endpoint, resp, body)
		if resp.StatusCode == http.StatusBadRequest {
			// consent_required, invalid_grant and friends all come back as 400.
			envelope = apperrors.Wrap(ctx, apperrors.CodeUnauthorized, envelope, "jwt grant rejected: check integration key, user ID, RSA key pair and user consent")
		}
		return "", 0, envelope
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, apperrors.WrapDataProcessing(ctx, err, "decode token response")
	}
	if parsed.AccessToken == "" {
		return "", 0, apperrors.NewUnauthorizedError("token response did not include an access token")
	}
	if parsed.ExpiresIn <= 0 {
		parsed.ExpiresIn = defaultTokenLifetime
	}
	return parsed.AccessToken, parsed.ExpiresIn, nil
}

func (a *JWTAuth) assertion() (string, error) {
	key, err := a.privateKey()
	if err != nil {
		return "", err
	}

	now := a.now()
	claims := grantClaims{
		Scope: grantScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.IntegrationKey,
			Subject:   a.UserID,
			Audience:  jwt.ClaimStrings{a.audience()},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign jwt assertion: %w", err)
	}
	return signed, nil
}

func (a *JWTAuth) privateKey() (*rsa.PrivateKey, error) {
	if a.key != nil {
		return a.key, nil
	}

	pem := a.PrivateKeyPEM
	if len(pem) == 0 {
		if a.PrivateKeyPath == "" {
			return nil, apperrors.NewConfigInvalidError("private key path is required")
		}
		data, err := os.ReadFile(a.PrivateKeyPath)
		if err != nil {
			return nil, apperrors.WrapConfigInvalid(context.Background(), err, "read private key "+a.PrivateKeyPath)
		}
		pem = data
	}
	if len(strings.TrimSpace(string(pem))) == 0 {
		return nil, apperrors.NewConfigInvalidError("private key file is empty")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, apperrors.WrapConfigInvalid(context.Background(), err, "private key is not a valid RSA PEM key")
	}
	a.key = key
	return key, nil
}

func (a *JWTAuth) audience() string {
	if a.OAuthBaseURL != "" {
		if parsed, err := url.Parse(a.OAuthBaseURL); err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return OAuthHost(a.BasePath)
}

func (a *JWTAuth) oauthURL(path string) string {
	base := strings.TrimRight(a.OAuthBaseURL, "/")
	if base == "" {
		base = "https://" + OAuthHost(a.BasePath)
	}
	return base + path
}

func (a *JWTAuth) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return &http.Client{Timeout: defaultAuthTimeout}
}

func (a *JWTAuth) logger() Logger {
	return loggerOrNop(a.Logger)
}

func (a *JWTAuth) now() time.Time {
	if a != nil && a.Clock != nil {
		return a.Clock()
	}
	return time.Now().UTC()
}
