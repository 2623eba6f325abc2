// Package call реализует контроллер сессии вызова.
//
// Сессия владеет жизненным циклом одного вызова: сверяет присылаемые сервером
// снапшоты (которые могут приходить не по порядку или повторно), ведет
// автомат состояний, сериализует отправку тонов и проверяет право на видео
// перед действиями, которые его включают.
//
// Все обработчики сессии выполняются в одном последовательном исполнителе.
// Публичные методы никогда не блокируют вызывающего: результат приходит
// в колбэк завершения, который вызывается ровно один раз.
//
// Пример использования:
//
//	cfg := call.DefaultConfig()
//	cfg.Transport = restClient
//	cfg.Media = engine
//	cfg.Entitlement = licenseChecker
//	cfg.Device = deviceURL
//
//	session, err := call.NewSession(cfg)
//	if err != nil {
//		return err
//	}
//	session.Dial("alice@example.com", call.AudioOnly(), func(err error) {
//		if err != nil {
//			log.Printf("вызов не удался: %v", err)
//		}
//	})
package call

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// CallSession оркестратор одного вызова.
type CallSession struct {
	id        string
	cfg       Config
	log       zerolog.Logger
	metrics   *Metrics
	transport Transport
	media     MediaCoordinator

	exec    *executor
	ctx     context.Context
	cancel  context.CancelFunc
	tracker *StateTracker
	gate    *FeatureGate
	tones   *ToneDispatcher

	// Поля ниже принадлежат исполнителю
	snapshot  *SessionSnapshot
	busy      string
	leaving   bool
	deferred  func()
	resyncing bool
	closed    bool

	published atomic.Pointer[SessionSnapshot]
	done      chan struct{}
}

// NewSession создает сессию для исходящего вызова в состоянии Idle.
func NewSession(cfg *Config) (*CallSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid call config")
	}

	s := &CallSession{
		id:        uuid.NewString(),
		cfg:       *cfg,
		metrics:   cfg.Metrics,
		transport: cfg.Transport,
		media:     cfg.Media,
		exec:      newExecutor(),
		done:      make(chan struct{}),
	}
	s.log = cfg.Logger.With().Str("call_id", s.id).Logger()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.tracker = NewStateTracker(Idle, s.onTransition)
	s.gate = NewFeatureGate(s.ctx, cfg.Entitlement, s.post, s.log, s.metrics)
	s.tones = NewToneDispatcher(s.ctx, ToneDispatcherConfig{
		Post:     s.post,
		Capable:  s.toneCapable,
		Prepare:  s.prepareTones,
		Limiter:  newToneLimiter(cfg.ToneInterval),
		OnIdle:   s.maybeFinish,
		OnResult: s.metrics.tone,
	})
	return s, nil
}

// NewIncomingSession создает сессию для доставленного входящего вызова.
func NewIncomingSession(cfg *Config, snapshot *SessionSnapshot) (*CallSession, error) {
	if snapshot == nil {
		return nil, errors.New("incoming call without snapshot")
	}
	s, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	s.post(func() {
		s.fire(EventIncoming)
		s.updateCallInfo(snapshot)
		s.maybeFinish()
	})
	return s, nil
}

// ID локальный идентификатор сессии.
func (s *CallSession) ID() string {
	return s.id
}

// State текущее состояние вызова.
func (s *CallSession) State() CallState {
	return s.tracker.State()
}

// History последние переходы автомата.
func (s *CallSession) History() []StateTransition {
	return s.tracker.History()
}

// Snapshot последний примененный снапшот или nil.
func (s *CallSession) Snapshot() *SessionSnapshot {
	return s.published.Load()
}

// CanSendTones сообщает, разрешил ли сервер отправку тонов.
func (s *CallSession) CanSendTones() bool {
	snap := s.published.Load()
	return snap != nil && snap.DTMFEnabled
}

// Done закрывается, когда сессия завершена и все колбэки вызваны.
func (s *CallSession) Done() <-chan struct{} {
	return s.done
}

// AssociatedWith сообщает, принадлежит ли медиа сессия движка этому вызову.
func (s *CallSession) AssociatedWith(handle MediaHandle) bool {
	return s.media.AssociatedWith(handle)
}

// LocalVideoSize размер локального видео.
func (s *CallSession) LocalVideoSize() Size {
	return s.media.LocalVideoSize()
}

// RemoteVideoSize размер удаленного видео.
func (s *CallSession) RemoteVideoSize() Size {
	return s.media.RemoteVideoSize()
}

// Answer отвечает на входящий вызов.
func (s *CallSession) Answer(opts MediaOptions, completion func(error)) {
	const op = "answer"
	done := s.completion(op, completion)
	s.dispatch(func() {
		if err := s.begin(op, Incoming); err != nil {
			done(err)
			return
		}
		sessionURL, err := s.snapshot.RequireSessionURL()
		if err != nil {
			s.settle()
			done(s.wrap(op, err))
			return
		}
		s.gate.Guard(opts.HasVideo, func() {
			s.join(op, opts, JoinRequest{SessionURL: sessionURL, Device: s.cfg.Device}, done)
		}, func(err error) {
			s.settle()
			done(s.wrap(op, err))
		})
	}, done)
}

// Dial начинает исходящий вызов на target.
func (s *CallSession) Dial(target string, opts MediaOptions, completion func(error)) {
	const op = "dial"
	done := s.completion(op, completion)
	s.dispatch(func() {
		if target == "" {
			done(&CallError{Code: ErrorCodeInvalidState, Op: op, CallID: s.id, Message: "адрес вызова не указан"})
			return
		}
		if err := s.begin(op, Idle); err != nil {
			done(err)
			return
		}
		s.gate.Guard(opts.HasVideo, func() {
			s.join(op, opts, JoinRequest{Target: target, Device: s.cfg.Device}, done)
		}, func(err error) {
			s.settle()
			done(s.wrap(op, err))
		})
	}, done)
}

// join готовит медиа и присоединяется к сессии. Вызывается после гейта.
func (s *CallSession) join(op string, opts MediaOptions, req JoinRequest, done func(error)) {
	if err := s.media.Prepare(opts); err != nil {
		s.media.StopMedia()
		s.settle()
		done(errors.Wrap(err, "prepare media"))
		return
	}
	sdp, err := s.media.LocalDescription()
	if err != nil {
		s.media.StopMedia()
		s.settle()
		done(errors.Wrap(err, "local description"))
		return
	}
	req.Media = LocalMedia{
		SDP:        sdp,
		AudioMuted: !s.media.SendingAudio(),
		VideoMuted: !opts.HasVideo || !s.media.SendingVideo(),
	}

	runAsync(s, func(ctx context.Context) (*SessionSnapshot, error) {
		return s.transport.Join(ctx, req)
	}, func(snap *SessionSnapshot, err error) {
		if err == nil && snap == nil {
			err = errors.New("empty join response")
		}
		if err != nil {
			s.media.StopMedia()
			s.settle()
			done(s.transportError(op, err))
			return
		}

		if req.Target != "" {
			s.fire(EventDial)
		}
		s.updateCallInfo(snap)
		s.fire(EventJoined)

		switch {
		case s.tracker.State().IsTerminal():
			// вызов завершился, пока присоединение было в полете
			s.media.StopMedia()
			s.settle()
			done(&CallError{Code: ErrorCodeInvalidState, Op: op, CallID: s.id, Message: "вызов завершен во время присоединения"})
			return
		case s.leaving:
			s.log.Info().Str("op", op).Msg("hangup requested during join, media not started")
		default:
			s.startRemoteMedia(answerSDP(snap, s.snapshot))
		}
		s.settle()
		done(nil)
	})
}

// answerSDP выбирает SDP ответа на наше предложение: из ответа Join,
// даже если его версия не применилась, иначе из текущего снапшота.
func answerSDP(joined, current *SessionSnapshot) string {
	if joined != nil && joined.RemoteSDP != "" {
		return joined.RemoteSDP
	}
	if current != nil {
		return current.RemoteSDP
	}
	return ""
}

// startRemoteMedia передает удаленный SDP движку и запускает медиа.
// Неисправный SDP только логируется: операция все равно считается успешной.
func (s *CallSession) startRemoteMedia(raw string) {
	remote, err := ParseRemoteDescription(raw)
	if err != nil {
		s.log.Error().Err(err).Msg("remote description unusable, media not started")
		return
	}
	if err := s.media.SetRemoteDescription(remote.Raw); err != nil {
		s.log.Error().Err(err).Msg("media engine rejected remote description")
		return
	}
	if err := s.media.StartMedia(); err != nil {
		s.log.Error().Err(err).Msg("start media failed")
		return
	}
	s.log.Debug().Bool("video", remote.HasVideo).Msg("media started")
}

// Hangup завершает вызов. Медиа останавливается сразу, до ответа сервера.
// Если другая операция в полете, выход с сервера откладывается до ее завершения.
func (s *CallSession) Hangup(completion func(error)) {
	const op = "hangup"
	done := s.completion(op, completion)
	s.dispatch(func() {
		if s.leaving {
			done(&CallError{Code: ErrorCodeOperationInProgress, Op: op, CallID: s.id, Message: "вызов уже завершается"})
			return
		}
		if s.tracker.State().IsTerminal() {
			done(&CallError{Code: ErrorCodeInvalidState, Op: op, CallID: s.id, Message: "вызов уже завершен"})
			return
		}
		s.leaving = true
		s.media.StopMedia()
		if s.busy != "" {
			s.log.Debug().Str("busy", s.busy).Msg("hangup deferred until in-flight action settles")
			s.deferred = func() { s.leave(done) }
			return
		}
		s.leave(done)
	}, done)
}

func (s *CallSession) leave(done func(error)) {
	const op = "hangup"
	if s.tracker.State().IsTerminal() {
		s.leaving = false
		done(nil)
		return
	}
	participant, err := s.snapshot.SelfParticipantURL()
	if err != nil {
		s.leaving = false
		done(s.wrap(op, err))
		return
	}

	s.busy = op
	runAsync(s, func(ctx context.Context) (*SessionSnapshot, error) {
		return s.transport.Leave(ctx, participant, s.cfg.Device)
	}, func(snap *SessionSnapshot, err error) {
		s.leaving = false
		if err != nil {
			s.settle()
			done(s.transportError(op, err))
			return
		}
		if snap != nil {
			s.updateCallInfo(snap)
		}
		s.fire(EventLeft)
		s.settle()
		done(nil)
	})
}

// Close освобождает сессию, которая не ведет вызов: исходящий вызов не
// начат или не удался. Для активного вызова используйте Hangup.
// Завершенная сессия закрывается сама, Close для нее ничего не делает.
func (s *CallSession) Close(completion func(error)) {
	const op = "close"
	done := once(completion)
	s.dispatch(func() {
		state := s.tracker.State()
		switch {
		case state.IsTerminal():
			done(nil)
		case state != Idle:
			done(&CallError{Code: ErrorCodeInvalidState, Op: op, CallID: s.id, Message: "вызов активен, используйте hangup"})
		case !s.quiet():
			done(&CallError{Code: ErrorCodeOperationInProgress, Op: op, CallID: s.id, Message: "операция " + s.busy + " еще выполняется"})
		default:
			s.media.StopMedia()
			s.finish()
			done(nil)
		}
	}, func(error) { done(nil) })
}

// Reject отклоняет входящий вызов.
func (s *CallSession) Reject(completion func(error)) {
	const op = "reject"
	done := s.completion(op, completion)
	s.dispatch(func() {
		if err := s.begin(op, Incoming); err != nil {
			done(err)
			return
		}
		s.leaving = true
		s.media.StopMedia()

		sessionURL, err := s.snapshot.RequireSessionURL()
		if err != nil {
			s.leaving = false
			s.settle()
			done(s.wrap(op, err))
			return
		}
		runAsync(s, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.transport.Decline(ctx, sessionURL, s.cfg.Device)
		}, func(_ struct{}, err error) {
			s.leaving = false
			if err != nil {
				s.settle()
				done(s.transportError(op, err))
				return
			}
			s.fire(EventDeclined)
			s.settle()
			done(nil)
		})
	}, done)
}

// SendTone отправляет тоны через диспетчер. Отправка разрешена,
// только если текущий снапшот содержит флаг DTMFEnabled.
func (s *CallSession) SendTone(tones string, completion func(error)) {
	done := once(completion)
	s.dispatch(func() {
		s.tones.Push(tones, done)
	}, done)
}

func (s *CallSession) toneCapable() bool {
	return s.snapshot != nil && s.snapshot.DTMFEnabled
}

func (s *CallSession) prepareTones(req *ToneRequest) (ToneTransmit, error) {
	participant, err := s.snapshot.SelfParticipantURL()
	if err != nil {
		return nil, s.wrap("sendTone", err)
	}
	device := s.cfg.Device
	return func(ctx context.Context) error {
		if err := s.transport.SendTones(ctx, participant, device, req.Tones, req.CorrelationID); err != nil {
			return s.transportError("sendTone", err)
		}
		return nil
	}, nil
}

// UpdateCallInfo единая точка приема новых снапшотов: ответы транспорта,
// push уведомления, результаты внеочередных запросов.
func (s *CallSession) UpdateCallInfo(snapshot *SessionSnapshot) {
	s.dispatch(func() {
		s.updateCallInfo(snapshot)
		s.maybeFinish()
	}, func(error) {
		s.log.Debug().Msg("snapshot dropped, session closed")
	})
}

func (s *CallSession) updateCallInfo(incoming *SessionSnapshot) {
	verdict := Reconcile(s.snapshot, incoming)
	s.metrics.snapshot(verdict)

	switch verdict {
	case VerdictIgnore:
		return
	case VerdictResync:
		s.log.Warn().Msg("snapshot version went backwards, resynchronizing")
		s.resync(incoming)
		return
	}
	s.apply(incoming)
}

// resync выполняет один внеочередной запрос снапшота. Результат применяется
// безусловно и становится новой базой версий.
func (s *CallSession) resync(incoming *SessionSnapshot) {
	if s.resyncing {
		s.log.Debug().Msg("resync already in flight")
		return
	}
	sessionURL, err := s.snapshot.RequireSessionURL()
	if err != nil {
		sessionURL, err = incoming.RequireSessionURL()
	}
	if err != nil {
		s.log.Error().Err(err).Msg("cannot resynchronize without session url")
		s.metrics.resync(err)
		return
	}

	s.resyncing = true
	runAsync(s, func(ctx context.Context) (*SessionSnapshot, error) {
		return s.transport.FetchSnapshot(ctx, sessionURL)
	}, func(snap *SessionSnapshot, err error) {
		s.resyncing = false
		if err == nil && snap == nil {
			err = errors.New("empty snapshot response")
		}
		if err != nil {
			err = s.transportError("resync", err)
			s.metrics.resync(err)
			s.log.Warn().Err(err).Msg("corrective fetch failed, keeping last known-good snapshot")
			s.maybeFinish()
			return
		}
		s.metrics.resync(nil)
		s.apply(snap)
		s.maybeFinish()
	})
}

// apply заменяет снапшот, рассылает уведомления и подает событие в автомат.
func (s *CallSession) apply(next *SessionSnapshot) {
	prev := s.snapshot
	change, mediaChanged := remoteMediaChange(prev, next)
	capabilityChanged := prev != nil && prev.DTMFEnabled != next.DTMFEnabled

	s.snapshot = next
	s.published.Store(next)

	cb := s.cfg.Callbacks
	if mediaChanged && cb.OnRemoteMediaChanged != nil {
		cb.OnRemoteMediaChanged(change)
	}
	if capabilityChanged && cb.OnCapabilityChanged != nil {
		cb.OnCapabilityChanged(next.DTMFEnabled)
	}
	s.fire(EventFromSnapshot(next, s.cfg.Device))
}

func (s *CallSession) fire(event Event) {
	if _, err := s.tracker.Fire(context.Background(), event); err != nil {
		s.log.Error().Err(err).Str("event", event.String()).Msg("state transition failed")
	}
}

func (s *CallSession) onTransition(tr StateTransition) {
	s.metrics.transition(tr.From, tr.To)
	s.log.Debug().
		Str("from", tr.From.String()).
		Str("to", tr.To.String()).
		Str("event", tr.Event.String()).
		Msg("call state changed")

	if tr.To == Disconnected {
		s.media.StopMedia()
		s.tones.Close()
	}
	if cb := s.cfg.Callbacks.OnStateChanged; cb != nil {
		cb(tr.From, tr.To, tr.Reason)
	}
}

// begin занимает сессию под сетевую операцию.
func (s *CallSession) begin(op string, allowed ...CallState) error {
	if s.busy != "" || s.leaving {
		return &CallError{Code: ErrorCodeOperationInProgress, Op: op, CallID: s.id, Message: "операция " + s.busy + " еще выполняется"}
	}
	state := s.tracker.State()
	for _, st := range allowed {
		if st == state {
			s.busy = op
			return nil
		}
	}
	return &CallError{Code: ErrorCodeInvalidState, Op: op, CallID: s.id, Message: "недопустимо в состоянии " + state.String()}
}

// settle освобождает сессию и запускает отложенный выход.
func (s *CallSession) settle() {
	s.busy = ""
	if d := s.deferred; d != nil {
		s.deferred = nil
		d()
	}
	s.maybeFinish()
}

// maybeFinish закрывает сессию, когда вызов завершен и ничего не в полете.
func (s *CallSession) maybeFinish() {
	if s.closed || !s.tracker.State().IsTerminal() || !s.quiet() {
		return
	}
	s.finish()
}

// quiet сообщает, что у сессии нет операций в полете.
func (s *CallSession) quiet() bool {
	return s.busy == "" && !s.leaving && !s.resyncing && s.deferred == nil && s.tones.Idle()
}

func (s *CallSession) finish() {
	s.closed = true
	s.cancel()
	s.exec.stop()
	close(s.done)
	s.log.Debug().Msg("call session closed")
	if cb := s.cfg.Callbacks.OnClosed; cb != nil {
		cb()
	}
}

func (s *CallSession) post(fn func()) {
	if !s.exec.post(fn) {
		s.log.Error().Msg("executor stopped, task dropped")
	}
}

// dispatch выполняет fn в исполнителе; fail получает ErrSessionClosed,
// если сессия уже закрыта.
func (s *CallSession) dispatch(fn func(), fail func(error)) {
	closedErr := &CallError{Code: ErrorCodeSessionClosed, CallID: s.id, Message: "сессия закрыта"}
	ok := s.exec.post(func() {
		if s.closed {
			fail(closedErr)
			return
		}
		fn()
	})
	if !ok {
		fail(closedErr)
	}
}

// completion оборачивает колбэк операции: ровно один вызов, метрики и лог.
func (s *CallSession) completion(op string, cb func(error)) func(error) {
	return once(func(err error) {
		s.metrics.action(op, err)
		if err != nil {
			s.log.Warn().Err(err).Str("op", op).Msg("call action failed")
		} else {
			s.log.Debug().Str("op", op).Msg("call action succeeded")
		}
		if cb != nil {
			cb(err)
		}
	})
}

func (s *CallSession) transportError(op string, err error) error {
	return &CallError{Code: ErrorCodeTransportFailure, Op: op, CallID: s.id, Wrapped: err}
}

// wrap проставляет операцию и идентификатор вызова в ошибку сессии.
func (s *CallSession) wrap(op string, err error) error {
	var ce *CallError
	if errors.As(err, &ce) {
		copied := *ce
		copied.Op = op
		copied.CallID = s.id
		return &copied
	}
	return newCallError(ErrorCodeTransportFailure, op, s.id, err)
}

// runAsync выполняет блокирующий вызов вне исполнителя и возвращает
// результат в исполнитель.
func runAsync[T any](s *CallSession, call func(context.Context) (T, error), then func(T, error)) {
	go func() {
		v, err := call(s.ctx)
		s.post(func() { then(v, err) })
	}()
}
