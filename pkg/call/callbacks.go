package call

// RemoteMediaChange изменение медиа удаленной стороны.
type RemoteMediaChange int

const (
	RemoteAudioMuted RemoteMediaChange = iota + 1
	RemoteAudioUnmuted
	RemoteVideoMuted
	RemoteVideoUnmuted
)

func (c RemoteMediaChange) String() string {
	switch c {
	case RemoteAudioMuted:
		return "RemoteAudioMuted"
	case RemoteAudioUnmuted:
		return "RemoteAudioUnmuted"
	case RemoteVideoMuted:
		return "RemoteVideoMuted"
	case RemoteVideoUnmuted:
		return "RemoteVideoUnmuted"
	default:
		return "Unknown"
	}
}

// SessionCallbacks колбэки событий сессии. Все вызываются из исполнителя сессии.
type SessionCallbacks struct {
	// OnStateChanged вызывается после каждого перехода автомата
	OnStateChanged func(from, to CallState, reason DisconnectReason)

	// OnRemoteMediaChanged не более одного раза на обновление снапшота
	OnRemoteMediaChanged func(change RemoteMediaChange)

	// OnCapabilityChanged изменилась возможность отправлять тоны
	OnCapabilityChanged func(toneEnabled bool)

	// OnClosed сессия завершена, все колбэки операций вызваны
	OnClosed func()
}

// remoteMediaChange сравнивает флаги удаленного медиа.
// Изменение видео имеет приоритет: при одновременном изменении
// аудио и видео сообщается только о видео.
func remoteMediaChange(prev, next *SessionSnapshot) (RemoteMediaChange, bool) {
	if prev == nil || next == nil {
		return 0, false
	}
	if prev.RemoteVideoMuted != next.RemoteVideoMuted {
		if next.RemoteVideoMuted {
			return RemoteVideoMuted, true
		}
		return RemoteVideoUnmuted, true
	}
	if prev.RemoteAudioMuted != next.RemoteAudioMuted {
		if next.RemoteAudioMuted {
			return RemoteAudioMuted, true
		}
		return RemoteAudioUnmuted, true
	}
	return 0, false
}
