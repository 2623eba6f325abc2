// Package control HTTP API управления вызовами: создание, ответ, отбой,
// тоны и переключатели медиа поверх call.Registry.
package control

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/arzzra/softcall/pkg/call"
)

// SessionFactory создает новую исходящую сессию.
type SessionFactory func() (*call.CallSession, error)

// Handler обработчики API.
type Handler struct {
	registry *call.Registry
	factory  SessionFactory
	timeout  time.Duration
	log      zerolog.Logger
}

// NewHandler создает обработчики. timeout ограничивает ожидание
// завершения операции внутри одного HTTP запроса.
func NewHandler(registry *call.Registry, factory SessionFactory, timeout time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		factory:  factory,
		timeout:  timeout,
		log:      log.With().Str("module", "control").Logger(),
	}
}

// NewRouter собирает маршруты API.
func (h *Handler) NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/calls", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.dial)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/answer", h.answer)
			r.Post("/hangup", h.action(func(s *call.CallSession, done func(error)) { s.Hangup(done) }))
			r.Post("/reject", h.action(func(s *call.CallSession, done func(error)) { s.Reject(done) }))
			r.Post("/media", h.action(func(s *call.CallSession, done func(error)) { s.UpdateMedia(done) }))
			r.Post("/tones", h.tones)
			r.Post("/toggle/{name}", h.toggle)
		})
	})
	return r
}

type dialRequest struct {
	Target string `json:"target"`
	Video  bool   `json:"video"`
}

type answerRequest struct {
	Video bool `json:"video"`
}

type tonesRequest struct {
	Tones string `json:"tones"`
}

type callView struct {
	ID           string   `json:"id"`
	State        string   `json:"state"`
	SessionURL   string   `json:"sessionUrl,omitempty"`
	CanSendTones bool     `json:"canSendTones"`
	History      []string `json:"history,omitempty"`
}

type errorView struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func view(s *call.CallSession, withHistory bool) callView {
	v := callView{ID: s.ID(), State: s.State().String(), CanSendTones: s.CanSendTones()}
	if snap := s.Snapshot(); snap != nil {
		v.SessionURL = string(snap.SessionURL)
	}
	if withHistory {
		for _, tr := range s.History() {
			v.History = append(v.History, tr.From.String()+"->"+tr.To.String())
		}
	}
	return v
}

func (h *Handler) list(w http.ResponseWriter, _ *http.Request) {
	sessions := h.registry.Sessions()
	views := make([]callView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, view(s, false))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view(s, true))
}

func (h *Handler) dial(w http.ResponseWriter, r *http.Request) {
	var req dialRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Target == "" {
		writeJSON(w, http.StatusBadRequest, errorView{Error: "target is required"})
		return
	}
	s, err := h.factory()
	if err != nil {
		h.log.Error().Err(err).Msg("create session")
		writeJSON(w, http.StatusInternalServerError, errorView{Error: err.Error()})
		return
	}
	h.registry.Add(s)

	opts := call.AudioOnly()
	if req.Video {
		opts = call.AudioVideo()
	}
	h.await(w, r, s, func(done func(error)) {
		s.Dial(req.Target, opts, func(err error) {
			if err != nil {
				// неудачный вызов оставляет сессию в Idle, она больше не нужна
				s.Close(func(err error) {
					if err != nil {
						h.log.Warn().Err(err).Str("call_id", s.ID()).Msg("close failed dial session")
					}
				})
			}
			done(err)
		})
	})
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if !decode(w, r, &req) {
		return
	}
	opts := call.AudioOnly()
	if req.Video {
		opts = call.AudioVideo()
	}
	h.await(w, r, s, func(done func(error)) { s.Answer(opts, done) })
}

func (h *Handler) tones(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req tonesRequest
	if !decode(w, r, &req) {
		return
	}
	h.await(w, r, s, func(done func(error)) { s.SendTone(req.Tones, done) })
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	toggles := map[string]func(){
		"sendingAudio":   s.ToggleSendingAudio,
		"sendingVideo":   s.ToggleSendingVideo,
		"receivingAudio": s.ToggleReceivingAudio,
		"receivingVideo": s.ToggleReceivingVideo,
		"facingMode":     s.ToggleFacingMode,
		"loudSpeaker":    s.ToggleLoudSpeaker,
	}
	fn, ok := toggles[chi.URLParam(r, "name")]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorView{Error: "unknown toggle"})
		return
	}
	fn()
	writeJSON(w, http.StatusAccepted, view(s, false))
}

func (h *Handler) action(run func(s *call.CallSession, done func(error))) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.session(w, r)
		if !ok {
			return
		}
		h.await(w, r, s, func(done func(error)) { run(s, done) })
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*call.CallSession, bool) {
	s, ok := h.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorView{Error: "call not found"})
		return nil, false
	}
	return s, true
}

// await запускает операцию и ждет ее колбэк не дольше timeout.
// Если время вышло, операция продолжается, клиент получает 202.
func (h *Handler) await(w http.ResponseWriter, r *http.Request, s *call.CallSession, start func(done func(error))) {
	result := make(chan error, 1)
	start(func(err error) { result <- err })

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	select {
	case err := <-result:
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view(s, false))
	case <-ctx.Done():
		writeJSON(w, http.StatusAccepted, view(s, false))
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err == nil && len(body) > 0 {
		err = json.Unmarshal(body, v)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

var statusByCode = map[call.ErrorCode]int{
	call.ErrorCodeTransportFailure:           http.StatusBadGateway,
	call.ErrorCodeDesynchronization:          http.StatusBadGateway,
	call.ErrorCodeEntitlementDenied:          http.StatusForbidden,
	call.ErrorCodeMalformedRemoteDescription: http.StatusBadGateway,
	call.ErrorCodeMissingResource:            http.StatusConflict,
	call.ErrorCodeInvalidState:               http.StatusConflict,
	call.ErrorCodeOperationInProgress:        http.StatusConflict,
	call.ErrorCodeInvalidTone:                http.StatusBadRequest,
	call.ErrorCodeCapabilityUnavailable:      http.StatusConflict,
	call.ErrorCodeSessionClosed:              http.StatusGone,
}

func writeError(w http.ResponseWriter, err error) {
	code := call.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	v := errorView{Error: err.Error()}
	if code != 0 {
		v.Code = code.String()
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
