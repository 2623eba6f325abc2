package auth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// RefreshFetcher получает токен доступа по refresh токену (OAuth2 refresh_token grant).
type RefreshFetcher struct {
	Client       *http.Client
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// FetchToken выполняет запрос к серверу авторизации.
func (f *RefreshFetcher) FetchToken(ctx context.Context) (Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {f.RefreshToken},
		"client_id":     {f.ClientID},
		"client_secret": {f.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, errors.Wrap(err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	issued := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return Token{}, errors.Wrap(err, "token request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, errors.Wrap(err, "read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, errors.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, errors.Wrap(err, "decode token response")
	}
	token := Token{Value: tr.AccessToken}
	if tr.ExpiresIn > 0 {
		token.ExpiresAt = issued.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return token, nil
}
