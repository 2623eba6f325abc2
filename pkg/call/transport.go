package call

import "context"

// LocalMedia описание локального медиа, отправляемое серверу.
type LocalMedia struct {
	SDP        string
	AudioMuted bool
	VideoMuted bool
}

// JoinRequest запрос на присоединение к сессии.
// Для исходящего вызова задается Target, для ответа - SessionURL.
type JoinRequest struct {
	Target     string
	SessionURL SessionURL
	Device     DeviceURL
	Media      LocalMedia
}

// Transport сигнальный/REST транспорт, которым пользуется сессия.
//
// Методы блокирующие и вызываются вне исполнителя сессии.
// Таймауты и повторы - ответственность реализации.
type Transport interface {
	Join(ctx context.Context, req JoinRequest) (*SessionSnapshot, error)
	Leave(ctx context.Context, participant ParticipantURL, device DeviceURL) (*SessionSnapshot, error)
	Decline(ctx context.Context, session SessionURL, device DeviceURL) error
	UpdateMedia(ctx context.Context, media MediaURL, local LocalMedia) (*SessionSnapshot, error)
	FetchSnapshot(ctx context.Context, session SessionURL) (*SessionSnapshot, error)
	SendTones(ctx context.Context, participant ParticipantURL, device DeviceURL, tones string, correlationID int) error
}
