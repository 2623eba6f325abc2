// Package auth выдает токены доступа к серверу вызовов.
//
// CoalescingSource объединяет одновременные запросы: пока обновление токена
// в полете, новые запросы присоединяются к нему и получают тот же результат.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Token токен доступа и момент его истечения.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid сообщает, что токен можно использовать в момент now с запасом skew.
func (t Token) Valid(now time.Time, skew time.Duration) bool {
	if t.Value == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(skew).Before(t.ExpiresAt)
}

// TokenSource источник bearer токенов для транспорта.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Fetcher получает новый токен у сервера авторизации.
type Fetcher interface {
	FetchToken(ctx context.Context) (Token, error)
}

// FetcherFunc адаптер функции к Fetcher.
type FetcherFunc func(ctx context.Context) (Token, error)

func (f FetcherFunc) FetchToken(ctx context.Context) (Token, error) {
	return f(ctx)
}

// StaticSource токен, заданный конфигурацией.
type StaticSource string

func (s StaticSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("access token is not configured")
	}
	return string(s), nil
}

const (
	refreshKey  = "token"
	defaultSkew = 30 * time.Second
)

// CoalescingSource кэширует токен до истечения и объединяет обновления.
type CoalescingSource struct {
	fetcher Fetcher
	skew    time.Duration
	now     func() time.Time
	log     zerolog.Logger

	group singleflight.Group

	mu     sync.Mutex
	cached Token
}

// Option настройка CoalescingSource.
type Option func(*CoalescingSource)

// WithSkew задает запас до истечения, после которого токен обновляется.
func WithSkew(skew time.Duration) Option {
	return func(s *CoalescingSource) { s.skew = skew }
}

// WithLogger задает логгер.
func WithLogger(log zerolog.Logger) Option {
	return func(s *CoalescingSource) { s.log = log }
}

// WithClock подменяет часы, используется в тестах.
func WithClock(now func() time.Time) Option {
	return func(s *CoalescingSource) { s.now = now }
}

// NewCoalescingSource создает источник поверх fetcher.
func NewCoalescingSource(fetcher Fetcher, opts ...Option) *CoalescingSource {
	s := &CoalescingSource{
		fetcher: fetcher,
		skew:    defaultSkew,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token возвращает действующий токен, при необходимости обновляя его.
// Все вызовы, пришедшие во время обновления, получают его результат.
func (s *CoalescingSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	cached := s.cached
	s.mu.Unlock()
	if cached.Valid(s.now(), s.skew) {
		return cached.Value, nil
	}

	ch := s.group.DoChan(refreshKey, func() (any, error) {
		token, err := s.fetcher.FetchToken(context.WithoutCancel(ctx))
		if err != nil {
			return nil, errors.Wrap(err, "fetch access token")
		}
		if token.Value == "" {
			return nil, errors.New("authorization server returned empty token")
		}
		s.mu.Lock()
		s.cached = token
		s.mu.Unlock()
		s.log.Debug().Time("expires_at", token.ExpiresAt).Msg("access token refreshed")
		return token.Value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate сбрасывает кэш, например после ответа 401.
func (s *CoalescingSource) Invalidate() {
	s.mu.Lock()
	s.cached = Token{}
	s.mu.Unlock()
}
