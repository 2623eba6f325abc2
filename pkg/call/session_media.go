package call

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Переключатели медиа работают только локально: состояние автомата не
// меняется, сетевого обмена нет. Чтобы сообщить серверу новое состояние,
// используйте UpdateMedia.

// ToggleSendingVideo включает/выключает отправку видео.
func (s *CallSession) ToggleSendingVideo() {
	s.toggle("sendingVideo", func() bool {
		v := !s.media.SendingVideo()
		s.media.SetSendingVideo(v)
		return v
	})
}

// ToggleSendingAudio включает/выключает отправку аудио.
func (s *CallSession) ToggleSendingAudio() {
	s.toggle("sendingAudio", func() bool {
		v := !s.media.SendingAudio()
		s.media.SetSendingAudio(v)
		return v
	})
}

// ToggleReceivingVideo включает/выключает прием видео.
func (s *CallSession) ToggleReceivingVideo() {
	s.toggle("receivingVideo", func() bool {
		v := !s.media.ReceivingVideo()
		s.media.SetReceivingVideo(v)
		return v
	})
}

// ToggleReceivingAudio включает/выключает прием аудио.
func (s *CallSession) ToggleReceivingAudio() {
	s.toggle("receivingAudio", func() bool {
		v := !s.media.ReceivingAudio()
		s.media.SetReceivingAudio(v)
		return v
	})
}

// ToggleFacingMode переключает камеру.
func (s *CallSession) ToggleFacingMode() {
	s.toggle("facingMode", func() bool {
		mode := s.media.FacingMode().Toggle()
		s.media.SetFacingMode(mode)
		return mode == FacingUser
	})
}

// ToggleLoudSpeaker включает/выключает громкую связь.
func (s *CallSession) ToggleLoudSpeaker() {
	s.toggle("loudSpeaker", func() bool {
		v := !s.media.LoudSpeaker()
		s.media.SetLoudSpeaker(v)
		return v
	})
}

func (s *CallSession) toggle(name string, flip func() bool) {
	s.dispatch(func() {
		v := flip()
		s.log.Debug().Str("toggle", name).Bool("value", v).Msg("media toggled")
	}, func(error) {})
}

// UpdateMedia сообщает серверу текущее локальное медиа (SDP и флаги mute)
// и принимает возвращенный снапшот через UpdateCallInfo.
func (s *CallSession) UpdateMedia(completion func(error)) {
	const op = "updateMedia"
	done := s.completion(op, completion)
	s.dispatch(func() {
		if err := s.begin(op, Dialing, Ringing, Connected); err != nil {
			done(err)
			return
		}
		mediaURL, err := s.snapshot.SelfMediaURL()
		if err != nil {
			s.settle()
			done(s.wrap(op, err))
			return
		}
		sdp, err := s.media.LocalDescription()
		if err != nil {
			s.settle()
			done(errors.Wrap(err, "local description"))
			return
		}
		local := LocalMedia{
			SDP:        sdp,
			AudioMuted: !s.media.SendingAudio(),
			VideoMuted: !s.media.SendingVideo(),
		}

		runAsync(s, func(ctx context.Context) (*SessionSnapshot, error) {
			return s.transport.UpdateMedia(ctx, mediaURL, local)
		}, func(snap *SessionSnapshot, err error) {
			if err != nil {
				s.settle()
				done(s.transportError(op, err))
				return
			}
			if snap != nil {
				s.updateCallInfo(snap)
			}
			s.settle()
			done(nil)
		})
	}, done)
}

func newToneLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
