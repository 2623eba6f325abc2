// Package wire описывает JSON представление снапшотов сессии, запросов
// к серверу вызовов и push кадров, а также их преобразование в типы call.
package wire

import (
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/arzzra/softcall/pkg/call"
)

// Snapshot снапшот сессии в том виде, в котором его присылает сервер.
type Snapshot struct {
	URL          string            `json:"url"`
	Version      map[string]uint64 `json:"version"`
	State        string            `json:"state"`
	From         string            `json:"from,omitempty"`
	To           string            `json:"to,omitempty"`
	Participants []Participant     `json:"participants"`
	Media        Media             `json:"media"`
	DTMFEnabled  bool              `json:"dtmfEnabled"`
}

// Participant участник сессии.
type Participant struct {
	URL       string `json:"url"`
	Identity  string `json:"identity,omitempty"`
	State     string `json:"state"`
	IsSelf    bool   `json:"isSelf,omitempty"`
	DeviceURL string `json:"deviceUrl,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
}

// Media состояние медиа удаленной стороны.
type Media struct {
	RemoteAudioMuted bool   `json:"remoteAudioMuted"`
	RemoteVideoMuted bool   `json:"remoteVideoMuted"`
	RemoteSDP        string `json:"remoteSdp,omitempty"`
}

// SnapshotResponse ответ сервера на действие над сессией.
type SnapshotResponse struct {
	Snapshot *Snapshot `json:"locus"`
}

var sessionStates = map[string]call.SessionState{
	string(call.SessionActive): call.SessionActive,
	string(call.SessionEnded):  call.SessionEnded,
}

var participantStates = map[string]call.ParticipantState{
	string(call.ParticipantIdle):     call.ParticipantIdle,
	string(call.ParticipantNotified): call.ParticipantNotified,
	string(call.ParticipantJoined):   call.ParticipantJoined,
	string(call.ParticipantLeft):     call.ParticipantLeft,
	string(call.ParticipantDeclined): call.ParticipantDeclined,
}

// ToCall преобразует снапшот в неизменяемый call.SessionSnapshot.
func (s *Snapshot) ToCall() (*call.SessionSnapshot, error) {
	if s == nil {
		return nil, errors.New("snapshot is empty")
	}
	if s.URL == "" {
		return nil, errors.New("snapshot without session url")
	}
	state, ok := sessionStates[s.State]
	if !ok {
		return nil, errors.Errorf("unknown session state %q", s.State)
	}

	version := make(call.VersionToken, len(s.Version))
	for aspect, counter := range s.Version {
		version[call.Aspect(aspect)] = counter
	}

	participants := make([]call.Participant, 0, len(s.Participants))
	for i, p := range s.Participants {
		pstate, ok := participantStates[p.State]
		if !ok {
			return nil, errors.Errorf("participant %d: unknown state %q", i, p.State)
		}
		participants = append(participants, call.Participant{
			URL:       call.ParticipantURL(p.URL),
			Identity:  p.Identity,
			State:     pstate,
			IsSelf:    p.IsSelf,
			DeviceURL: call.DeviceURL(p.DeviceURL),
			MediaURL:  call.MediaURL(p.MediaURL),
		})
	}

	return &call.SessionSnapshot{
		Version:          version,
		SessionURL:       call.SessionURL(s.URL),
		State:            state,
		From:             s.From,
		To:               s.To,
		Participants:     participants,
		RemoteAudioMuted: s.Media.RemoteAudioMuted,
		RemoteVideoMuted: s.Media.RemoteVideoMuted,
		DTMFEnabled:      s.DTMFEnabled,
		RemoteSDP:        s.Media.RemoteSDP,
	}, nil
}

// FromCall строит JSON представление снапшота.
func FromCall(snap *call.SessionSnapshot) *Snapshot {
	if snap == nil {
		return nil
	}
	version := make(map[string]uint64, len(snap.Version))
	for aspect, counter := range snap.Version {
		version[string(aspect)] = counter
	}
	participants := make([]Participant, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		participants = append(participants, Participant{
			URL:       string(p.URL),
			Identity:  p.Identity,
			State:     string(p.State),
			IsSelf:    p.IsSelf,
			DeviceURL: string(p.DeviceURL),
			MediaURL:  string(p.MediaURL),
		})
	}
	return &Snapshot{
		URL:          string(snap.SessionURL),
		Version:      version,
		State:        string(snap.State),
		From:         snap.From,
		To:           snap.To,
		Participants: participants,
		Media: Media{
			RemoteAudioMuted: snap.RemoteAudioMuted,
			RemoteVideoMuted: snap.RemoteVideoMuted,
			RemoteSDP:        snap.RemoteSDP,
		},
		DTMFEnabled: snap.DTMFEnabled,
	}
}

// DecodeSnapshot разбирает снапшот из тела ответа.
func DecodeSnapshot(data []byte) (*call.SessionSnapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return s.ToCall()
}

// EncodeSnapshot сериализует снапшот.
func EncodeSnapshot(snap *call.SessionSnapshot) ([]byte, error) {
	if snap == nil {
		return nil, errors.New("snapshot is empty")
	}
	return json.Marshal(FromCall(snap))
}
