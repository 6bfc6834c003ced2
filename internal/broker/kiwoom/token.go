package kiwoom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"daytrader/internal/api"
	"daytrader/internal/logger"
	"daytrader/internal/store"
	"daytrader/internal/types"
)

// TokenProvider hands out the bearer credential shared by REST calls and the
// streaming LOGIN.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	// Invalidate forces the next Token call to fetch a fresh credential.
	Invalidate()
}

// Tokens are refreshed this long before the broker-reported expiry.
const tokenRefreshSkew = time.Minute

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

type tokenResponse struct {
	Token      string     `json:"token"`
	TokenType  string     `json:"token_type"`
	ExpiresDT  string     `json:"expires_dt"`
	ReturnCode returnCode `json:"return_code"`
	ReturnMsg  string     `json:"return_msg"`
}

// TokenSource issues client-credential tokens from /oauth2/token and caches
// them until shortly before expiry.
type TokenSource struct {
	client    *api.Client
	appKey    string
	secretKey string

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

var _ TokenProvider = (*TokenSource)(nil)

func NewTokenSource(client *api.Client, appKey, secretKey string) *TokenSource {
	return &TokenSource{
		client:    client,
		appKey:    appKey,
		secretKey: secretKey,
		now:       time.Now,
	}
}

func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expires.Add(-tokenRefreshSkew)) {
		return ts.token, nil
	}
	if ts.appKey == "" || ts.secretKey == "" {
		return "", fmt.Errorf("%w: app key or secret key not configured", types.ErrAuthentication)
	}

	op := logger.StartOperation(ctx, "kiwoom.Token")
	token, expires, err := ts.fetch(op.GetContext())
	if err != nil {
		op.EndWithError(err)
		return "", err
	}
	op.End("expires", expires.Format(time.RFC3339))

	ts.token = token
	ts.expires = expires
	return token, nil
}

func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = ""
	ts.expires = time.Time{}
}

func (ts *TokenSource) fetch(ctx context.Context) (string, time.Time, error) {
	req := api.NewRequest(http.MethodPost, "/oauth2/token").
		WithContext(ctx).
		WithBody(tokenRequest{
			GrantType: "client_credentials",
			AppKey:    ts.appKey,
			SecretKey: ts.secretKey,
		})

	resp, err := ts.client.DoWithRetry(req, nil)
	if err != nil {
		var httpErr *api.HTTPError
		if errors.As(err, &httpErr) {
			return "", time.Time{}, fmt.Errorf("%w: token request: %v", types.ErrAuthentication, err)
		}
		return "", time.Time{}, fmt.Errorf("token request: %w", err)
	}

	var tr tokenResponse
	if err := resp.ParseJSON(&tr); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", types.ErrAuthentication, err)
	}
	if tr.ReturnCode != 0 || tr.Token == "" {
		return "", time.Time{}, fmt.Errorf("%w: token rejected (code %d): %s",
			types.ErrAuthentication, tr.ReturnCode, tr.ReturnMsg)
	}

	expires, err := time.ParseInLocation("20060102150405", tr.ExpiresDT, store.KST)
	if err != nil {
		// Broker tokens live a day; assume the short end when unparseable.
		expires = ts.now().Add(12 * time.Hour)
	}

	logger.Info(ctx, "Access token issued", "expires", expires.Format(time.RFC3339))
	return tr.Token, expires, nil
}

// StaticToken is a fixed credential, for tests and pre-issued tokens.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty token", types.ErrAuthentication)
	}
	return string(s), nil
}

func (StaticToken) Invalidate() {}
