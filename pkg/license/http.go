package license

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/arzzra/softcall/pkg/auth"
)

// HTTPActivator запрашивает активацию у REST сервиса лицензий:
// GET {BaseURL}/features/{feature} -> {"feature": "...", "activated": true}.
type HTTPActivator struct {
	BaseURL string
	Client  *http.Client
	Tokens  auth.TokenSource
}

type activationResponse struct {
	Feature   string `json:"feature"`
	Activated bool   `json:"activated"`
}

// Activated реализует Activator.
func (a *HTTPActivator) Activated(ctx context.Context, feature string) (bool, error) {
	endpoint, err := url.JoinPath(a.BaseURL, "features", feature)
	if err != nil {
		return false, errors.Wrap(err, "build activation url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, errors.Wrap(err, "build activation request")
	}
	req.Header.Set("Accept", "application/json")
	if a.Tokens != nil {
		token, err := a.Tokens.Token(ctx)
		if err != nil {
			return false, errors.Wrap(err, "access token")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "activation request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden:
		return false, nil
	default:
		return false, errors.Errorf("license service returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return false, errors.Wrap(err, "read activation response")
	}
	var ar activationResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return false, errors.Wrap(err, "decode activation response")
	}
	return ar.Activated, nil
}
