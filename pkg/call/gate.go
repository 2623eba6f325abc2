package call

import (
	"context"

	"github.com/rs/zerolog"
)

// EntitlementChecker внешний сервис проверки активации функций (видео).
// Кэширование результата, если нужно, реализуется здесь, а не в FeatureGate.
type EntitlementChecker interface {
	CheckActivation(ctx context.Context) (bool, error)
}

// EntitlementCheckerFunc адаптер функции к EntitlementChecker.
type EntitlementCheckerFunc func(ctx context.Context) (bool, error)

func (f EntitlementCheckerFunc) CheckActivation(ctx context.Context) (bool, error) {
	return f(ctx)
}

// FeatureGate асинхронная проверка права на видео перед действием.
type FeatureGate struct {
	ctx     context.Context
	checker EntitlementChecker
	post    func(func())
	logger  zerolog.Logger
	metrics *Metrics
}

// NewFeatureGate создает гейт. post возвращает выполнение в исполнитель сессии.
func NewFeatureGate(ctx context.Context, checker EntitlementChecker, post func(func()), logger zerolog.Logger, metrics *Metrics) *FeatureGate {
	return &FeatureGate{
		ctx:     ctx,
		checker: checker,
		post:    post,
		logger:  logger,
		metrics: metrics,
	}
}

// Guard выполняет action сразу, если видео не требуется. Иначе каждый вызов
// заново запрашивает активацию: при успехе выполняется action, иначе
// deny с ErrEntitlementDenied, и action не выполняется никогда.
func (g *FeatureGate) Guard(requiresVideo bool, action func(), deny func(error)) {
	if !requiresVideo {
		action()
		return
	}

	go func() {
		activated, err := g.checker.CheckActivation(g.ctx)
		g.post(func() {
			if err != nil {
				g.logger.Warn().Err(err).Msg("entitlement check failed")
			}
			if err == nil && activated {
				g.metrics.entitlementCheck("activated")
				action()
				return
			}
			g.metrics.entitlementCheck("denied")
			g.logger.Info().Msg("video is not activated, action blocked")
			deny(&CallError{Code: ErrorCodeEntitlementDenied, Op: "featureGate", Message: "видео не активировано", Wrapped: err})
		})
	}()
}
