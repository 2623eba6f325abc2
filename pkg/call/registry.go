package call

import "sync"

// Registry реестр одновременных сессий вызовов.
//
// Принадлежит слою, который управляет несколькими вызовами; сами сессии
// о соседях ничего не знают. Сессия удаляется из реестра, когда закрывается.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
	metrics  *Metrics
}

// NewRegistry создает пустой реестр. metrics может быть nil.
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*CallSession),
		metrics:  metrics,
	}
}

// Add регистрирует сессию. Повторная регистрация игнорируется.
func (r *Registry) Add(s *CallSession) {
	r.mu.Lock()
	if _, exists := r.sessions[s.ID()]; exists {
		r.mu.Unlock()
		return
	}
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	r.metrics.sessionAdded()

	go func() {
		<-s.Done()
		r.Remove(s.ID())
	}()
}

// Get возвращает сессию по идентификатору.
func (r *Registry) Get(id string) (*CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove удаляет сессию из реестра.
func (r *Registry) Remove(id string) (*CallSession, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if ok {
		r.metrics.sessionRemoved()
	}
	return s, ok
}

// FindBySessionURL ищет сессию по адресу серверной сессии.
// Используется для доставки push уведомлений.
func (r *Registry) FindBySessionURL(url SessionURL) (*CallSession, bool) {
	if url == "" {
		return nil, false
	}
	return r.find(func(s *CallSession) bool {
		snap := s.Snapshot()
		return snap != nil && snap.SessionURL == url
	})
}

// Deliver передает снапшот сессии, которой он адресован.
// Возвращает false, если такой сессии нет.
func (r *Registry) Deliver(snapshot *SessionSnapshot) bool {
	if snapshot == nil {
		return false
	}
	s, ok := r.FindBySessionURL(snapshot.SessionURL)
	if !ok {
		return false
	}
	s.UpdateCallInfo(snapshot)
	return true
}

// FindByMedia ищет сессию, которой принадлежит медиа сессия движка.
func (r *Registry) FindByMedia(handle MediaHandle) (*CallSession, bool) {
	return r.find(func(s *CallSession) bool {
		return s.AssociatedWith(handle)
	})
}

// Sessions возвращает все зарегистрированные сессии.
func (r *Registry) Sessions() []*CallSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	return list
}

// Len количество зарегистрированных сессий.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) find(match func(*CallSession) bool) (*CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if match(s) {
			return s, true
		}
	}
	return nil, false
}
