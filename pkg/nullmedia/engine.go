// Package nullmedia медиа движок без захвата и воспроизведения.
//
// Хранит флаги и SDP, логирует команды сессии. Используется там, где
// настоящий движок не подключен: в консольном клиенте и в тестах.
package nullmedia

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/arzzra/softcall/pkg/call"
)

// Engine реализует call.MediaCoordinator.
type Engine struct {
	log    zerolog.Logger
	handle string

	mu             sync.Mutex
	prepared       bool
	running        bool
	opts           call.MediaOptions
	remoteSDP      string
	sendingAudio   bool
	sendingVideo   bool
	receivingAudio bool
	receivingVideo bool
	facing         call.FacingMode
	loudSpeaker    bool
}

var _ call.MediaCoordinator = (*Engine)(nil)

// New создает движок с уникальным handle.
func New(log zerolog.Logger) *Engine {
	handle := uuid.NewString()
	return &Engine{
		log:    log.With().Str("module", "media").Str("media_handle", handle).Logger(),
		handle: handle,
		facing: call.FacingUser,
	}
}

// Handle идентификатор медиа сессии для AssociatedWith.
func (e *Engine) Handle() string {
	return e.handle
}

// Running сообщает, запущено ли медиа.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) Prepare(opts call.MediaOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prepared = true
	e.opts = opts
	e.sendingAudio = true
	e.receivingAudio = true
	e.sendingVideo = opts.HasVideo
	e.receivingVideo = opts.HasVideo
	if opts.FacingMode != "" {
		e.facing = opts.FacingMode
	}
	e.loudSpeaker = opts.LoudSpeaker
	e.log.Debug().Bool("video", opts.HasVideo).Msg("media prepared")
	return nil
}

// LocalDescription строит SDP предложение с помощью pion/sdp.
func (e *Engine) LocalDescription() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.prepared {
		return "", errors.New("media is not prepared")
	}

	sessionID := uint64(time.Now().UnixNano())
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "softcall",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
	}
	desc.MediaDescriptions = append(desc.MediaDescriptions,
		mediaSection("audio", 9, direction(e.sendingAudio, e.receivingAudio), []string{"0 PCMU/8000", "101 telephone-event/8000"}))
	if e.opts.HasVideo {
		desc.MediaDescriptions = append(desc.MediaDescriptions,
			mediaSection("video", 9, direction(e.sendingVideo, e.receivingVideo), []string{"96 H264/90000"}))
	}

	raw, err := desc.Marshal()
	if err != nil {
		return "", errors.Wrap(err, "marshal local description")
	}
	return string(raw), nil
}

func mediaSection(kind string, port int, dir string, rtpmaps []string) *sdp.MediaDescription {
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   kind,
			Port:    sdp.RangedPort{Value: port},
			Protos:  []string{"RTP", "AVP"},
			Formats: make([]string, 0, len(rtpmaps)),
		},
	}
	for _, m := range rtpmaps {
		var pt int
		var rest string
		if _, err := fmt.Sscanf(m, "%d %s", &pt, &rest); err == nil {
			md.MediaName.Formats = append(md.MediaName.Formats, fmt.Sprint(pt))
		}
		md.WithValueAttribute("rtpmap", m)
	}
	md.WithPropertyAttribute(dir)
	return md
}

func direction(send, recv bool) string {
	switch {
	case send && recv:
		return "sendrecv"
	case send:
		return "sendonly"
	case recv:
		return "recvonly"
	default:
		return "inactive"
	}
}

func (e *Engine) SetRemoteDescription(raw string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remoteSDP = raw
	return nil
}

func (e *Engine) StartMedia() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remoteSDP == "" {
		return errors.New("remote description is not set")
	}
	e.running = true
	e.log.Info().Msg("media started")
	return nil
}

func (e *Engine) StopMedia() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.log.Info().Msg("media stopped")
	}
	e.running = false
	e.prepared = false
}

func (e *Engine) SendingAudio() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendingAudio
}

func (e *Engine) SetSendingAudio(enabled bool) {
	e.set(&e.sendingAudio, enabled, "sending_audio")
}

func (e *Engine) SendingVideo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendingVideo
}

func (e *Engine) SetSendingVideo(enabled bool) {
	e.set(&e.sendingVideo, enabled, "sending_video")
}

func (e *Engine) ReceivingAudio() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receivingAudio
}

func (e *Engine) SetReceivingAudio(enabled bool) {
	e.set(&e.receivingAudio, enabled, "receiving_audio")
}

func (e *Engine) ReceivingVideo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receivingVideo
}

func (e *Engine) SetReceivingVideo(enabled bool) {
	e.set(&e.receivingVideo, enabled, "receiving_video")
}

func (e *Engine) FacingMode() call.FacingMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.facing
}

func (e *Engine) SetFacingMode(mode call.FacingMode) {
	e.mu.Lock()
	e.facing = mode
	e.mu.Unlock()
	e.log.Debug().Str("facing_mode", string(mode)).Msg("camera switched")
}

func (e *Engine) LoudSpeaker() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loudSpeaker
}

func (e *Engine) SetLoudSpeaker(enabled bool) {
	e.set(&e.loudSpeaker, enabled, "loud_speaker")
}

func (e *Engine) set(field *bool, value bool, name string) {
	e.mu.Lock()
	*field = value
	e.mu.Unlock()
	e.log.Debug().Bool(name, value).Msg("media flag changed")
}

// LocalVideoSize без камеры размер нулевой.
func (e *Engine) LocalVideoSize() call.Size {
	return call.Size{}
}

// RemoteVideoSize без декодера размер нулевой.
func (e *Engine) RemoteVideoSize() call.Size {
	return call.Size{}
}

func (e *Engine) AssociatedWith(handle call.MediaHandle) bool {
	h, ok := handle.(string)
	return ok && h == e.handle
}
