package license

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/softcall/pkg/auth"
	"github.com/arzzra/softcall/pkg/call"
)

var _ call.EntitlementChecker = (*Checker)(nil)

type countingActivator struct {
	calls     atomic.Int32
	activated atomic.Bool
	err       error
	release   chan struct{}
}

func (a *countingActivator) Activated(ctx context.Context, feature string) (bool, error) {
	a.calls.Add(1)
	if a.release != nil {
		<-a.release
	}
	return a.activated.Load(), a.err
}

func newTestChecker(t *testing.T, activator Activator, mutate func(*Config)) *Checker {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewChecker(activator, cfg)
	require.NoError(t, err)
	return c
}

// TestCheckerCachesActivation проверяет кэширование положительного ответа
func TestCheckerCachesActivation(t *testing.T) {
	activator := &countingActivator{}
	activator.activated.Store(true)
	c := newTestChecker(t, activator, nil)

	for i := 0; i < 3; i++ {
		ok, err := c.CheckActivation(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), activator.calls.Load())

	c.Invalidate()
	_, err := c.CheckActivation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), activator.calls.Load(), "после сброса кэша запрос повторяется")
}

// TestCheckerCoalescesConcurrentChecks проверяет объединение одновременных проверок
func TestCheckerCoalescesConcurrentChecks(t *testing.T) {
	activator := &countingActivator{release: make(chan struct{})}
	activator.activated.Store(true)
	c := newTestChecker(t, activator, nil)

	var wg sync.WaitGroup
	results := make(chan bool, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.CheckActivation(context.Background())
			assert.NoError(t, err)
			results <- ok
		}()
	}
	require.Eventually(t, func() bool { return activator.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(activator.release)
	wg.Wait()
	close(results)

	for ok := range results {
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), activator.calls.Load())
}

// TestCheckerNegativeTTL проверяет кэширование отказа
func TestCheckerNegativeTTL(t *testing.T) {
	activator := &countingActivator{}
	c := newTestChecker(t, activator, func(cfg *Config) { cfg.NegativeTTL = 50 * time.Millisecond })

	ok, err := c.CheckActivation(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	_, _ = c.CheckActivation(context.Background())
	assert.Equal(t, int32(1), activator.calls.Load(), "отказ кэшируется")

	activator.activated.Store(true)
	require.Eventually(t, func() bool {
		ok, err := c.CheckActivation(context.Background())
		return err == nil && ok
	}, time.Second, 10*time.Millisecond, "после истечения отказа активация видна")
}

// TestCheckerErrorsNotCached проверяет, что ошибки сервиса не кэшируются
func TestCheckerErrorsNotCached(t *testing.T) {
	activator := &countingActivator{err: errors.New("unavailable")}
	c := newTestChecker(t, activator, nil)

	_, err := c.CheckActivation(context.Background())
	assert.Error(t, err)
	_, err = c.CheckActivation(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(2), activator.calls.Load())
}

func TestNewCheckerValidation(t *testing.T) {
	_, err := NewChecker(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Feature = ""
	_, err = NewChecker(ActivatorFunc(func(context.Context, string) (bool, error) { return true, nil }), cfg)
	assert.Error(t, err)
}

// TestHTTPActivator проверяет запрос к сервису лицензий
func TestHTTPActivator(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/v1/features/{feature}", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
		switch chi.URLParam(req, "feature") {
		case FeatureVideo:
			_, _ = w.Write([]byte(`{"feature":"video","activated":true}`))
		case "screenshare":
			http.NotFound(w, req)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	a := &HTTPActivator{BaseURL: srv.URL + "/v1", Client: srv.Client(), Tokens: auth.StaticSource("secret")}

	ok, err := a.Activated(context.Background(), FeatureVideo)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Activated(context.Background(), "screenshare")
	require.NoError(t, err)
	assert.False(t, ok, "неизвестная функция не активирована")

	_, err = a.Activated(context.Background(), "recording")
	assert.Error(t, err)
}
