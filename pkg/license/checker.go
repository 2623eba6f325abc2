// Package license проверяет активацию платных функций (видео) у внешнего
// сервиса лицензий и реализует call.EntitlementChecker.
package license

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// FeatureVideo функция видеозвонков.
const FeatureVideo = "video"

// Activator внешний сервис активации.
type Activator interface {
	Activated(ctx context.Context, feature string) (bool, error)
}

// ActivatorFunc адаптер функции к Activator.
type ActivatorFunc func(ctx context.Context, feature string) (bool, error)

func (f ActivatorFunc) Activated(ctx context.Context, feature string) (bool, error) {
	return f(ctx, feature)
}

// Config параметры Checker.
type Config struct {
	// Feature проверяемая функция
	Feature string
	// TTL время жизни положительного ответа
	TTL time.Duration
	// NegativeTTL время жизни отказа, 0 - отказы не кэшируются
	NegativeTTL time.Duration
	// Timeout ограничение на один запрос к сервису
	Timeout time.Duration

	Logger zerolog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		Feature:     FeatureVideo,
		TTL:         10 * time.Minute,
		NegativeTTL: 30 * time.Second,
		Timeout:     5 * time.Second,
		Logger:      zerolog.Nop(),
	}
}

// Checker кэширует результаты активации и объединяет одновременные проверки.
// Ошибки сервиса не кэшируются.
type Checker struct {
	activator Activator
	cfg       Config
	cache     *ttlcache.Cache[string, bool]
	group     singleflight.Group
}

// NewChecker создает проверку поверх activator.
func NewChecker(activator Activator, cfg Config) (*Checker, error) {
	if activator == nil {
		return nil, errors.New("activator is nil")
	}
	if cfg.Feature == "" {
		return nil, errors.New("feature is not set")
	}
	if cfg.TTL <= 0 {
		return nil, errors.Errorf("invalid ttl %s", cfg.TTL)
	}
	return &Checker{
		activator: activator,
		cfg:       cfg,
		cache: ttlcache.New[string, bool](
			ttlcache.WithTTL[string, bool](cfg.TTL),
			ttlcache.WithDisableTouchOnHit[string, bool](),
		),
	}, nil
}

// Start запускает очистку истекших записей. Блокирует до Stop.
func (c *Checker) Start() {
	c.cache.Start()
}

// Stop останавливает очистку.
func (c *Checker) Stop() {
	c.cache.Stop()
}

// CheckActivation реализует call.EntitlementChecker.
func (c *Checker) CheckActivation(ctx context.Context) (bool, error) {
	feature := c.cfg.Feature
	if item := c.cache.Get(feature); item != nil {
		return item.Value(), nil
	}

	ch := c.group.DoChan(feature, func() (any, error) {
		reqCtx := context.WithoutCancel(ctx)
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(reqCtx, c.cfg.Timeout)
			defer cancel()
		}
		activated, err := c.activator.Activated(reqCtx, feature)
		if err != nil {
			c.cfg.Logger.Warn().Err(err).Str("feature", feature).Msg("activation check failed")
			return false, errors.Wrapf(err, "check activation of %s", feature)
		}
		c.remember(feature, activated)
		return activated, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (c *Checker) remember(feature string, activated bool) {
	ttl := c.cfg.TTL
	if !activated {
		if c.cfg.NegativeTTL <= 0 {
			return
		}
		ttl = c.cfg.NegativeTTL
	}
	c.cache.Set(feature, activated, ttl)
	c.cfg.Logger.Debug().Str("feature", feature).Bool("activated", activated).Dur("ttl", ttl).Msg("activation cached")
}

// Invalidate сбрасывает кэш, например после покупки лицензии.
func (c *Checker) Invalidate() {
	c.cache.DeleteAll()
}
