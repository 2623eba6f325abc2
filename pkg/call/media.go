package call

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// FacingMode выбор камеры.
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Toggle возвращает противоположную камеру.
func (m FacingMode) Toggle() FacingMode {
	if m == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// MediaOptions параметры медиа для ответа или исходящего вызова.
type MediaOptions struct {
	// HasVideo включает видео; требует активации через FeatureGate
	HasVideo    bool
	FacingMode  FacingMode
	LoudSpeaker bool
}

// AudioOnly опции вызова без видео.
func AudioOnly() MediaOptions {
	return MediaOptions{FacingMode: FacingUser}
}

// AudioVideo опции вызова с видео.
func AudioVideo() MediaOptions {
	return MediaOptions{HasVideo: true, FacingMode: FacingUser, LoudSpeaker: true}
}

// Size размер поверхности отрисовки.
type Size struct {
	Width  int
	Height int
}

// MediaHandle непрозрачный идентификатор медиа сессии внешнего движка.
type MediaHandle any

// MediaCoordinator контракт, через который сессия управляет внешним медиа движком.
//
// Сессия вызывает методы управления только из своего исполнителя.
// Методы запросов (размеры, AssociatedWith) могут вызываться из любой горутины.
type MediaCoordinator interface {
	Prepare(opts MediaOptions) error
	LocalDescription() (string, error)
	SetRemoteDescription(sdp string) error
	StartMedia() error
	StopMedia()

	SendingAudio() bool
	SetSendingAudio(enabled bool)
	SendingVideo() bool
	SetSendingVideo(enabled bool)
	ReceivingAudio() bool
	SetReceivingAudio(enabled bool)
	ReceivingVideo() bool
	SetReceivingVideo(enabled bool)
	FacingMode() FacingMode
	SetFacingMode(mode FacingMode)
	LoudSpeaker() bool
	SetLoudSpeaker(enabled bool)

	LocalVideoSize() Size
	RemoteVideoSize() Size

	// AssociatedWith обратный поиск для демультиплексирования уведомлений движка
	AssociatedWith(handle MediaHandle) bool
}

// RemoteDescription разобранный удаленный SDP.
type RemoteDescription struct {
	Raw      string
	HasAudio bool
	HasVideo bool
}

// ParseRemoteDescription проверяет удаленный SDP.
// Пустой или неразбираемый SDP, а также SDP без медиа секций
// дают ErrMalformedRemoteDescription.
func ParseRemoteDescription(raw string) (*RemoteDescription, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &CallError{Code: ErrorCodeMalformedRemoteDescription, Message: "удаленный SDP отсутствует"}
	}
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return nil, &CallError{Code: ErrorCodeMalformedRemoteDescription, Message: "не удалось разобрать удаленный SDP", Wrapped: err}
	}
	if len(desc.MediaDescriptions) == 0 {
		return nil, &CallError{Code: ErrorCodeMalformedRemoteDescription, Message: "в удаленном SDP нет медиа секций"}
	}

	rd := &RemoteDescription{Raw: raw}
	for _, md := range desc.MediaDescriptions {
		switch md.MediaName.Media {
		case "audio":
			rd.HasAudio = true
		case "video":
			rd.HasVideo = true
		}
	}
	return rd, nil
}
