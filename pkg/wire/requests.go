package wire

import "github.com/arzzra/softcall/pkg/call"

// LocalMedia локальное медиа клиента.
type LocalMedia struct {
	SDP        string `json:"sdp"`
	AudioMuted bool   `json:"audioMuted"`
	VideoMuted bool   `json:"videoMuted"`
}

// NewLocalMedia собирает описание локального медиа для запроса.
func NewLocalMedia(m call.LocalMedia) []LocalMedia {
	return []LocalMedia{{SDP: m.SDP, AudioMuted: m.AudioMuted, VideoMuted: m.VideoMuted}}
}

// Invitee адресат исходящего вызова.
type Invitee struct {
	Address string `json:"address"`
}

// JoinRequest тело запроса на создание вызова или присоединение к сессии.
type JoinRequest struct {
	Invitee     *Invitee     `json:"invitee,omitempty"`
	DeviceURL   string       `json:"deviceUrl"`
	LocalMedias []LocalMedia `json:"localMedias"`
}

// DeviceRequest тело запросов выхода и отклонения.
type DeviceRequest struct {
	DeviceURL string `json:"deviceUrl"`
}

// MediaRequest тело запроса обновления медиа.
type MediaRequest struct {
	LocalMedias []LocalMedia `json:"localMedias"`
}

// DTMF отправляемые тоны.
type DTMF struct {
	CorrelationID int    `json:"correlationId"`
	Tones         string `json:"tones"`
}

// DTMFRequest тело запроса отправки тонов.
type DTMFRequest struct {
	DeviceURL string `json:"deviceUrl"`
	DTMF      DTMF   `json:"dtmf"`
}
