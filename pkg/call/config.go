package call

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config конфигурация сессии вызова.
type Config struct {
	// Transport сигнальный транспорт
	Transport Transport
	// Media фасад внешнего медиа движка, принадлежит сессии эксклюзивно
	Media MediaCoordinator
	// Entitlement проверка активации видео
	Entitlement EntitlementChecker

	// Device адрес устройства этого клиента
	Device DeviceURL

	// ToneInterval минимальный интервал между передачами тонов (0 = без ограничения)
	ToneInterval time.Duration

	// Callbacks колбэки событий сессии
	Callbacks SessionCallbacks

	Logger  zerolog.Logger
	Metrics *Metrics
}

// DefaultConfig возвращает конфигурацию по умолчанию.
// Транспорт, медиа и проверку активации нужно задать самостоятельно.
func DefaultConfig() *Config {
	return &Config{
		ToneInterval: 0,
		Logger:       zerolog.Nop(),
	}
}

// Validate проверяет корректность конфигурации.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("конфигурация не указана")
	}
	if c.Transport == nil {
		return errors.New("транспорт не указан")
	}
	if c.Media == nil {
		return errors.New("медиа координатор не указан")
	}
	if c.Entitlement == nil {
		return errors.New("проверка активации не указана")
	}
	if c.Device == "" {
		return errors.New("адрес устройства не указан")
	}
	if c.ToneInterval < 0 {
		return errors.Errorf("отрицательный интервал тонов: %s", c.ToneInterval)
	}
	return nil
}
