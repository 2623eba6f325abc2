package call

import (
	"context"
	"strings"

	"golang.org/x/time/rate"
)

// Tone символ тонального набора (RFC 4733: 0-9, *, #, A-D).
type Tone byte

const toneAlphabet = "0123456789*#ABCD"

// ParseTones проверяет и нормализует строку тонов.
// Буквы A-D принимаются в любом регистре.
func ParseTones(s string) ([]Tone, error) {
	if s == "" {
		return nil, &CallError{Code: ErrorCodeInvalidTone, Message: "пустая строка тонов"}
	}
	tones := make([]Tone, 0, len(s))
	for _, r := range strings.ToUpper(s) {
		if r > 0x7f || strings.IndexByte(toneAlphabet, byte(r)) < 0 {
			return nil, &CallError{Code: ErrorCodeInvalidTone, Message: "недопустимый символ тона " + string(r)}
		}
		tones = append(tones, Tone(r))
	}
	return tones, nil
}

// FormatTones собирает тоны обратно в строку.
func FormatTones(tones []Tone) string {
	var b strings.Builder
	b.Grow(len(tones))
	for _, t := range tones {
		b.WriteByte(byte(t))
	}
	return b.String()
}

// ToneRequest запрос на отправку тонов.
type ToneRequest struct {
	Tones         string
	CorrelationID int
	completion    func(error)
}

// ToneTransmit выполняет одну передачу тонов. Вызывается вне исполнителя сессии.
type ToneTransmit func(ctx context.Context) error

// ToneDispatcherConfig зависимости диспетчера тонов.
type ToneDispatcherConfig struct {
	// Post возвращает выполнение в исполнитель сессии
	Post func(func())
	// Capable сообщает, разрешена ли сервером отправка тонов
	Capable func() bool
	// Prepare готовит передачу запроса; ошибка завершает запрос без отправки
	Prepare func(req *ToneRequest) (ToneTransmit, error)
	// Limiter ограничивает частоту передач, nil - без ограничения
	Limiter *rate.Limiter
	// OnIdle вызывается, когда очередь опустела
	OnIdle func()
	// OnResult вызывается после завершения каждого запроса
	OnResult func(err error)
}

// ToneDispatcher сериализует отправку тонов: строго в порядке Push,
// не более одной передачи в полете.
//
// Все методы должны вызываться из исполнителя сессии.
type ToneDispatcher struct {
	cfg         ToneDispatcherConfig
	ctx         context.Context
	queue       []*ToneRequest
	inFlight    bool
	closed      bool
	correlation int
}

// NewToneDispatcher создает диспетчер, передачи выполняются в контексте ctx.
func NewToneDispatcher(ctx context.Context, cfg ToneDispatcherConfig) *ToneDispatcher {
	return &ToneDispatcher{cfg: cfg, ctx: ctx}
}

// Push ставит тоны в очередь. completion вызывается ровно один раз.
func (d *ToneDispatcher) Push(tones string, completion func(error)) {
	done := once(completion)
	if d.closed {
		d.finish(done, ErrSessionClosed)
		return
	}
	if d.cfg.Capable == nil || !d.cfg.Capable() {
		d.finish(done, &CallError{Code: ErrorCodeCapabilityUnavailable, Op: "sendTone", Message: "отправка тонов не разрешена"})
		return
	}
	parsed, err := ParseTones(tones)
	if err != nil {
		d.finish(done, err)
		return
	}

	d.correlation++
	d.queue = append(d.queue, &ToneRequest{
		Tones:         FormatTones(parsed),
		CorrelationID: d.correlation,
		completion:    done,
	})
	d.drain()
}

// Pending возвращает число запросов в очереди, включая передаваемый.
func (d *ToneDispatcher) Pending() int {
	return len(d.queue)
}

// Idle сообщает, что очередь пуста и передач нет.
func (d *ToneDispatcher) Idle() bool {
	return len(d.queue) == 0 && !d.inFlight
}

// Close завершает все ожидающие запросы с ErrSessionClosed.
// Передаваемый запрос завершится своим результатом.
func (d *ToneDispatcher) Close() {
	d.closed = true
	start := 0
	if d.inFlight {
		start = 1
	}
	for _, req := range d.queue[start:] {
		d.finish(req.completion, ErrSessionClosed)
	}
	d.queue = d.queue[:start]
}

func (d *ToneDispatcher) drain() {
	for !d.inFlight && len(d.queue) > 0 {
		req := d.queue[0]
		transmit, err := d.cfg.Prepare(req)
		if err != nil {
			d.queue = d.queue[1:]
			d.finish(req.completion, err)
			continue
		}
		d.inFlight = true
		go d.transmit(req, transmit)
	}
	if d.Idle() && d.cfg.OnIdle != nil {
		d.cfg.OnIdle()
	}
}

func (d *ToneDispatcher) transmit(req *ToneRequest, transmit ToneTransmit) {
	var err error
	if d.cfg.Limiter != nil {
		err = d.cfg.Limiter.Wait(d.ctx)
	}
	if err == nil {
		err = transmit(d.ctx)
	}
	d.cfg.Post(func() {
		d.queue = d.queue[1:]
		d.inFlight = false
		d.finish(req.completion, err)
		d.drain()
	})
}

func (d *ToneDispatcher) finish(completion func(error), err error) {
	if d.cfg.OnResult != nil {
		d.cfg.OnResult(err)
	}
	completion(err)
}
