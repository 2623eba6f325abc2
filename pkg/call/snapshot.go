package call

// SessionURL адрес серверной сессии вызова (locus).
type SessionURL string

// ParticipantURL адрес участника внутри сессии.
type ParticipantURL string

// DeviceURL адрес зарегистрированного устройства.
type DeviceURL string

// MediaURL адрес медиа ресурса участника.
type MediaURL string

// Aspect независимо обновляемая часть снапшота.
type Aspect string

const (
	AspectState        Aspect = "state"
	AspectParticipants Aspect = "participants"
	AspectMedia        Aspect = "media"
)

// VersionToken набор монотонных счетчиков, по одному на Aspect.
// Отсутствующий счетчик считается равным нулю.
type VersionToken map[Aspect]uint64

// Get возвращает значение счетчика аспекта.
func (v VersionToken) Get(a Aspect) uint64 {
	return v[a]
}

// SessionState состояние серверной сессии целиком.
type SessionState string

const (
	SessionActive SessionState = "ACTIVE"
	SessionEnded  SessionState = "INACTIVE"
)

// ParticipantState состояние участника с точки зрения сервера.
type ParticipantState string

const (
	ParticipantIdle     ParticipantState = "IDLE"
	ParticipantNotified ParticipantState = "NOTIFIED"
	ParticipantJoined   ParticipantState = "JOINED"
	ParticipantLeft     ParticipantState = "LEFT"
	ParticipantDeclined ParticipantState = "DECLINED"
)

// Ended сообщает, покинул ли участник вызов окончательно.
func (s ParticipantState) Ended() bool {
	return s == ParticipantLeft || s == ParticipantDeclined
}

// Participant участник вызова.
type Participant struct {
	URL      ParticipantURL
	Identity string
	State    ParticipantState
	IsSelf   bool
	// DeviceURL устройство, через которое участник присоединился
	DeviceURL DeviceURL
	MediaURL  MediaURL
}

// SessionSnapshot последнее известное состояние сессии, присланное сервером.
//
// Снапшот неизменяем после получения: новый снапшот всегда заменяет
// предыдущий целиком. Код ядра никогда не модифицирует полученные значения.
type SessionSnapshot struct {
	Version      VersionToken
	SessionURL   SessionURL
	State        SessionState
	From         string
	To           string
	Participants []Participant

	RemoteAudioMuted bool
	RemoteVideoMuted bool
	// DTMFEnabled флаг, разрешающий отправку тонов
	DTMFEnabled bool
	RemoteSDP   string
}

// Self возвращает участника, соответствующего локальному пользователю.
func (s *SessionSnapshot) Self() (Participant, bool) {
	if s == nil {
		return Participant{}, false
	}
	for _, p := range s.Participants {
		if p.IsSelf {
			return p, true
		}
	}
	return Participant{}, false
}

// Remotes возвращает всех участников, кроме локального.
func (s *SessionSnapshot) Remotes() []Participant {
	if s == nil {
		return nil
	}
	remotes := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if !p.IsSelf {
			remotes = append(remotes, p)
		}
	}
	return remotes
}

// RequireSessionURL возвращает адрес сессии или ErrMissingResource.
func (s *SessionSnapshot) RequireSessionURL() (SessionURL, error) {
	if s == nil || s.SessionURL == "" {
		return "", &CallError{Code: ErrorCodeMissingResource, Message: "адрес сессии неизвестен"}
	}
	return s.SessionURL, nil
}

// SelfParticipantURL возвращает адрес локального участника или ErrMissingResource.
func (s *SessionSnapshot) SelfParticipantURL() (ParticipantURL, error) {
	self, ok := s.Self()
	if !ok || self.URL == "" {
		return "", &CallError{Code: ErrorCodeMissingResource, Message: "адрес участника неизвестен"}
	}
	return self.URL, nil
}

// SelfMediaURL возвращает адрес медиа ресурса локального участника или ErrMissingResource.
func (s *SessionSnapshot) SelfMediaURL() (MediaURL, error) {
	self, ok := s.Self()
	if !ok || self.MediaURL == "" {
		return "", &CallError{Code: ErrorCodeMissingResource, Message: "адрес медиа ресурса неизвестен"}
	}
	return self.MediaURL, nil
}
