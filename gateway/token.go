package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// TokenSource supplies the bearer credential for Daraja calls. The
// production implementation caches and refreshes; tests substitute fakes.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// tokenWindow is deliberately shorter than the advertised 3600s lifetime
// so a call never rides an edge-of-expiry token.
const tokenWindow = 3400 * time.Second

type darajaTokenSource struct {
	url            string
	consumerKey    string
	consumerSecret string
	client         *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newDarajaTokenSource(cfg Config, client *http.Client) *darajaTokenSource {
	return &darajaTokenSource{
		url:            cfg.AccessTokenURL,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		client:         client,
	}
}

// Token returns the cached credential, re-acquiring it inline when the
// window has lapsed. The single lock means concurrent callers may wait on
// one refresh; that beats racing on the shared state.
func (s *darajaTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}
	token, err := s.fetch(ctx)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	s.token = token
	s.expires = time.Now().Add(tokenWindow)
	return token, nil
}

func (s *darajaTokenSource) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.consumerKey, s.consumerSecret)

	res, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", res.Status)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", errors.New("no access token in response")
	}
	return payload.AccessToken, nil
}
