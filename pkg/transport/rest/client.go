// Package rest реализует call.Transport поверх REST API сервера вызовов.
//
// Ресурсы адресуются полными URL из снапшота (сессия, участник, медиа),
// поэтому клиенту нужен только базовый адрес для создания новых вызовов.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/arzzra/softcall/pkg/auth"
	"github.com/arzzra/softcall/pkg/call"
	"github.com/arzzra/softcall/pkg/wire"
)

const (
	trackingHeader  = "TrackingID"
	trackingPrefix  = "softcall"
	maxResponseBody = 4 << 20
)

// Config параметры клиента.
type Config struct {
	// BaseURL адрес API сервера вызовов, например https://locus.example.com/locus/api/v1
	BaseURL string
	// Tokens источник bearer токенов
	Tokens auth.TokenSource
	// HTTPClient клиент, по умолчанию с таймаутом Timeout
	HTTPClient *http.Client
	// Timeout таймаут одного запроса
	Timeout time.Duration
	// UserAgent значение заголовка User-Agent
	UserAgent string

	Logger zerolog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		Timeout:   15 * time.Second,
		UserAgent: "softcall/1.0",
		Logger:    zerolog.Nop(),
	}
}

// Client REST транспорт сессии вызова.
type Client struct {
	base   string
	tokens auth.TokenSource
	http   *http.Client
	agent  string
	log    zerolog.Logger
}

var _ call.Transport = (*Client)(nil)

// New создает клиент.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is not set")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(err, "invalid base url")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token source is not set")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		tokens: cfg.Tokens,
		http:   httpClient,
		agent:  cfg.UserAgent,
		log:    cfg.Logger,
	}, nil
}

// Join создает исходящий вызов (req.Target) или присоединяется к сессии (req.SessionURL).
func (c *Client) Join(ctx context.Context, req call.JoinRequest) (*call.SessionSnapshot, error) {
	body := wire.JoinRequest{
		DeviceURL:   string(req.Device),
		LocalMedias: wire.NewLocalMedia(req.Media),
	}

	var endpoint string
	switch {
	case req.Target != "":
		endpoint = c.base + "/loci/call"
		body.Invitee = &wire.Invitee{Address: req.Target}
	case req.SessionURL != "":
		endpoint = string(req.SessionURL) + "/participant"
	default:
		return nil, errors.New("join without target and session url")
	}
	return c.snapshotCall(ctx, http.MethodPost, endpoint, body)
}

// Leave выводит участника из сессии.
func (c *Client) Leave(ctx context.Context, participant call.ParticipantURL, device call.DeviceURL) (*call.SessionSnapshot, error) {
	return c.snapshotCall(ctx, http.MethodPut, string(participant)+"/leave", wire.DeviceRequest{DeviceURL: string(device)})
}

// Decline отклоняет входящий вызов.
func (c *Client) Decline(ctx context.Context, session call.SessionURL, device call.DeviceURL) error {
	return c.do(ctx, http.MethodPut, string(session)+"/participant/decline", wire.DeviceRequest{DeviceURL: string(device)}, nil)
}

// UpdateMedia отправляет новое локальное медиа.
func (c *Client) UpdateMedia(ctx context.Context, media call.MediaURL, local call.LocalMedia) (*call.SessionSnapshot, error) {
	return c.snapshotCall(ctx, http.MethodPut, string(media), wire.MediaRequest{LocalMedias: wire.NewLocalMedia(local)})
}

// FetchSnapshot запрашивает актуальный снапшот сессии.
func (c *Client) FetchSnapshot(ctx context.Context, session call.SessionURL) (*call.SessionSnapshot, error) {
	var s wire.Snapshot
	if err := c.do(ctx, http.MethodGet, string(session), nil, &s); err != nil {
		return nil, err
	}
	return s.ToCall()
}

// SendTones отправляет тоны от имени участника.
func (c *Client) SendTones(ctx context.Context, participant call.ParticipantURL, device call.DeviceURL, tones string, correlationID int) error {
	body := wire.DTMFRequest{
		DeviceURL: string(device),
		DTMF:      wire.DTMF{CorrelationID: correlationID, Tones: tones},
	}
	return c.do(ctx, http.MethodPost, string(participant)+"/sendDtmf", body, nil)
}

func (c *Client) snapshotCall(ctx context.Context, method, endpoint string, body any) (*call.SessionSnapshot, error) {
	var resp wire.SnapshotResponse
	if err := c.do(ctx, method, endpoint, body, &resp); err != nil {
		return nil, err
	}
	if resp.Snapshot == nil {
		return nil, nil
	}
	return resp.Snapshot.ToCall()
}

// do выполняет запрос с JSON телом и разбирает JSON ответ в out (если out не nil).
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.Wrapf(err, "build %s request", method)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return errors.Wrap(err, "access token")
	}
	trackingID := fmt.Sprintf("%s_%s", trackingPrefix, uuid.NewString())
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(trackingHeader, trackingID)
	if c.agent != "" {
		req.Header.Set("User-Agent", c.agent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log := c.log.With().Str("method", method).Str("url", endpoint).Str("tracking_id", trackingID).Logger()
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("request failed")
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	log.Debug().Int("status", resp.StatusCode).Dur("elapsed", time.Since(started)).Msg("request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := c.tokens.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		return &StatusError{
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			TrackingID: trackingID,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
