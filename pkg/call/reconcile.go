package call

// Verdict результат сверки входящего снапшота с примененным.
type Verdict int

const (
	// VerdictApply - снапшот новее, применяем
	VerdictApply Verdict = iota
	// VerdictIgnore - эхо уже примененного снапшота
	VerdictIgnore
	// VerdictResync - пропущено обновление, нужен свежий снапшот
	VerdictResync
)

func (v Verdict) String() string {
	switch v {
	case VerdictApply:
		return "apply"
	case VerdictIgnore:
		return "ignore"
	case VerdictResync:
		return "resync"
	default:
		return "unknown"
	}
}

// Reconcile классифицирует входящий снапшот относительно предыдущего.
//
// Функция чистая: она не меняет ни один из аргументов. Счетчики сравниваются
// попарно по объединению аспектов обоих токенов, отсутствующий счетчик равен нулю.
// Любой счетчик меньше предыдущего означает пропущенное обновление (Resync),
// даже если другие счетчики выросли.
func Reconcile(previous, incoming *SessionSnapshot) Verdict {
	if incoming == nil {
		return VerdictIgnore
	}
	if previous == nil {
		return VerdictApply
	}

	advanced := false
	for _, aspect := range unionAspects(previous.Version, incoming.Version) {
		prev, next := previous.Version.Get(aspect), incoming.Version.Get(aspect)
		switch {
		case next < prev:
			return VerdictResync
		case next > prev:
			advanced = true
		}
	}
	if advanced {
		return VerdictApply
	}
	return VerdictIgnore
}

func unionAspects(a, b VersionToken) []Aspect {
	aspects := make([]Aspect, 0, len(a)+len(b))
	for k := range a {
		aspects = append(aspects, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			aspects = append(aspects, k)
		}
	}
	return aspects
}
