// Package push принимает push уведомления сервера вызовов по websocket
// и доставляет снапшоты сессиям.
package push

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/arzzra/softcall/pkg/auth"
	"github.com/arzzra/softcall/pkg/call"
	"github.com/arzzra/softcall/pkg/wire"
)

// Deliverer доставляет снапшот сессии, которой он адресован.
// Реализуется call.Registry.
type Deliverer interface {
	Deliver(snapshot *call.SessionSnapshot) bool
}

// Config параметры слушателя.
type Config struct {
	// URL адрес websocket канала уведомлений
	URL string
	// Tokens источник bearer токена для рукопожатия, может быть nil
	Tokens auth.TokenSource
	// Sessions получатель снапшотов известных сессий
	Sessions Deliverer
	// OnIncoming вызывается для входящих вызовов, которых еще нет в реестре
	OnIncoming func(snapshot *call.SessionSnapshot)
	// Dialer websocket клиент, по умолчанию websocket.DefaultDialer
	Dialer *websocket.Dialer

	// MinBackoff и MaxBackoff задают паузу перед переподключением
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// PongWait время ожидания любого кадра от сервера
	PongWait time.Duration

	Logger zerolog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		PongWait:   60 * time.Second,
		Logger:     zerolog.Nop(),
	}
}

// Listener держит websocket соединение и переподключается при обрыве.
type Listener struct {
	cfg Config
	log zerolog.Logger
}

// NewListener создает слушателя.
func NewListener(cfg Config) (*Listener, error) {
	if cfg.URL == "" {
		return nil, errors.New("push url is not set")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session deliverer is not set")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultConfig().MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	return &Listener{cfg: cfg, log: cfg.Logger.With().Str("module", "push").Logger()}, nil
}

// Run подключается и читает кадры до отмены ctx.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.cfg.MinBackoff
	for {
		err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.Warn().Err(err).Dur("retry_in", backoff).Msg("push channel lost")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.cfg.MaxBackoff {
			backoff = l.cfg.MaxBackoff
		}
	}
}

// session обслуживает одно соединение.
func (l *Listener) session(ctx context.Context) error {
	header := http.Header{}
	if l.cfg.Tokens != nil {
		token, err := l.cfg.Tokens.Token(ctx)
		if err != nil {
			return errors.Wrap(err, "access token")
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := l.cfg.Dialer.DialContext(ctx, l.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "dial push channel: status %d", resp.StatusCode)
		}
		return errors.Wrap(err, "dial push channel")
	}
	l.log.Info().Str("url", l.cfg.URL).Msg("push channel connected")

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer func() {
		stop()
		_ = conn.Close()
	}()

	if l.cfg.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(l.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(l.cfg.PongWait))
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read push frame")
		}
		if l.cfg.PongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(l.cfg.PongWait))
		}
		l.Handle(data)
	}
}

// Handle разбирает один кадр и доставляет его. Ошибки разбора логируются,
// соединение при этом не рвется.
func (l *Listener) Handle(data []byte) {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		l.log.Warn().Err(err).Msg("bad push frame")
		return
	}
	if frame.Type == wire.FramePing {
		return
	}

	if l.cfg.Sessions.Deliver(frame.Snapshot) {
		l.log.Debug().Str("frame_id", frame.ID).Str("session", string(frame.Snapshot.SessionURL)).Msg("snapshot delivered")
		return
	}
	if frame.Type == wire.FrameIncoming && l.cfg.OnIncoming != nil {
		l.log.Info().Str("session", string(frame.Snapshot.SessionURL)).Str("from", frame.Snapshot.From).Msg("incoming call")
		l.cfg.OnIncoming(frame.Snapshot)
		return
	}
	l.log.Debug().Str("frame_id", frame.ID).Str("session", string(frame.Snapshot.SessionURL)).Msg("snapshot for unknown session dropped")
}
