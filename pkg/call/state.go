package call

// CallState состояние вызова, видимое приложению.
type CallState string

func (s CallState) String() string {
	return string(s)
}

const (
	// Idle - сессия создана, с сервером еще не общались
	Idle CallState = "Idle"
	// Incoming - получен входящий вызов, ждем ответа пользователя
	Incoming CallState = "Incoming"
	// Dialing - исходящий вызов присоединен к сессии, собеседник еще не оповещен
	Dialing CallState = "Dialing"
	// Ringing - собеседник оповещен о вызове
	Ringing CallState = "Ringing"
	// Connected - разговор установлен
	Connected CallState = "Connected"
	// Disconnected - терминальное состояние
	Disconnected CallState = "Disconnected"
)

// AllStates перечисляет все состояния автомата.
var AllStates = []CallState{Idle, Incoming, Dialing, Ringing, Connected, Disconnected}

// IsTerminal сообщает, является ли состояние терминальным.
func (s CallState) IsTerminal() bool {
	return s == Disconnected
}

// Event событие, подаваемое в функцию переходов.
type Event string

func (e Event) String() string {
	return string(e)
}

const (
	EventNone Event = "none"

	// Локальные действия
	EventIncoming Event = "incoming"
	EventDial     Event = "dial"
	EventJoined   Event = "joined"
	EventLeft     Event = "left"
	EventDeclined Event = "declined"

	// Выводятся из примененного снапшота
	EventRemoteAlerting    Event = "remote_alerting"
	EventRemoteJoined      Event = "remote_joined"
	EventRemoteLeft        Event = "remote_left"
	EventRemoteDeclined    Event = "remote_declined"
	EventCallEnded         Event = "call_ended"
	EventAnsweredElsewhere Event = "answered_elsewhere"
)

// AllEvents перечисляет все события автомата.
var AllEvents = []Event{
	EventNone, EventIncoming, EventDial, EventJoined, EventLeft, EventDeclined,
	EventRemoteAlerting, EventRemoteJoined, EventRemoteLeft, EventRemoteDeclined,
	EventCallEnded, EventAnsweredElsewhere,
}

// DisconnectReason причина перехода в Disconnected.
type DisconnectReason string

const (
	ReasonNone              DisconnectReason = ""
	ReasonLocalLeft         DisconnectReason = "LocalLeft"
	ReasonLocalDeclined     DisconnectReason = "LocalDeclined"
	ReasonRemoteLeft        DisconnectReason = "RemoteLeft"
	ReasonRemoteDeclined    DisconnectReason = "RemoteDeclined"
	ReasonCallEnded         DisconnectReason = "CallEnded"
	ReasonAnsweredElsewhere DisconnectReason = "AnsweredElsewhere"
)

// ReasonOf возвращает причину разъединения для события.
func ReasonOf(e Event) DisconnectReason {
	switch e {
	case EventLeft:
		return ReasonLocalLeft
	case EventDeclined:
		return ReasonLocalDeclined
	case EventRemoteLeft:
		return ReasonRemoteLeft
	case EventRemoteDeclined:
		return ReasonRemoteDeclined
	case EventCallEnded:
		return ReasonCallEnded
	case EventAnsweredElsewhere:
		return ReasonAnsweredElsewhere
	default:
		return ReasonNone
	}
}

func isEnding(e Event) bool {
	return ReasonOf(e) != ReasonNone
}

// Transition чистая функция переходов.
//
// Функция тотальная: для любой пары (состояние, событие) возвращается
// определенное состояние. Пары без перехода отображаются сами в себя,
// поэтому повторные события безопасны.
//
//	Idle      -> Incoming | Dialing
//	Incoming  -> Connected | Disconnected
//	Dialing   -> Ringing | Connected | Disconnected
//	Ringing   -> Connected | Disconnected
//	Connected -> Disconnected
func Transition(state CallState, event Event) CallState {
	switch state {
	case Idle:
		switch event {
		case EventIncoming:
			return Incoming
		case EventDial:
			return Dialing
		}
	case Incoming:
		switch {
		case event == EventJoined || event == EventRemoteJoined:
			return Connected
		case isEnding(event):
			return Disconnected
		}
	case Dialing:
		switch {
		case event == EventRemoteAlerting:
			return Ringing
		case event == EventRemoteJoined:
			return Connected
		case isEnding(event):
			return Disconnected
		}
	case Ringing:
		switch {
		case event == EventRemoteJoined:
			return Connected
		case isEnding(event):
			return Disconnected
		}
	case Connected:
		if isEnding(event) {
			return Disconnected
		}
	}
	return state
}

// EventFromSnapshot выводит событие из примененного снапшота.
// device - устройство локального клиента, нужно для распознавания
// ответа на вызов с другого устройства.
func EventFromSnapshot(s *SessionSnapshot, device DeviceURL) Event {
	if s == nil {
		return EventNone
	}
	if s.State == SessionEnded {
		return EventCallEnded
	}

	self, hasSelf := s.Self()
	if hasSelf {
		switch self.State {
		case ParticipantLeft:
			return EventLeft
		case ParticipantDeclined:
			return EventDeclined
		}
	}

	var joined, notified, declined bool
	remotes := s.Remotes()
	ended := len(remotes) > 0
	for _, p := range remotes {
		switch p.State {
		case ParticipantJoined:
			joined = true
		case ParticipantNotified:
			notified = true
		case ParticipantDeclined:
			declined = true
		}
		if !p.State.Ended() {
			ended = false
		}
	}
	if ended {
		if declined {
			return EventRemoteDeclined
		}
		return EventRemoteLeft
	}

	if !hasSelf || self.State != ParticipantJoined {
		return EventNone
	}
	if device != "" && self.DeviceURL != "" && self.DeviceURL != device {
		return EventAnsweredElsewhere
	}
	switch {
	case joined:
		return EventRemoteJoined
	case notified:
		return EventRemoteAlerting
	default:
		return EventJoined
	}
}
