package call

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

const maxTransitionHistory = 20

// StateTransition запись о совершенном переходе.
type StateTransition struct {
	From   CallState
	To     CallState
	Event  Event
	Reason DisconnectReason
}

// StateTracker хранит текущее состояние вызова.
//
// Переходы автомата генерируются из Transition, поэтому таблица fsm и
// чистая функция не могут разойтись. Самопереходы в fsm не попадают.
type StateTracker struct {
	fsm      *fsm.FSM
	onChange func(StateTransition)

	mu      sync.Mutex
	history []StateTransition
}

// NewStateTracker создает трекер в состоянии initial.
// onChange вызывается синхронно после каждого реального перехода.
func NewStateTracker(initial CallState, onChange func(StateTransition)) *StateTracker {
	t := &StateTracker{
		onChange: onChange,
		history:  make([]StateTransition, 0, 8),
	}
	t.fsm = fsm.NewFSM(
		string(initial),
		buildEvents(),
		fsm.Callbacks{
			"enter_state": t.enterState,
		},
	)
	return t
}

// buildEvents раскладывает Transition в список событий looplab/fsm.
func buildEvents() fsm.Events {
	events := make(fsm.Events, 0, len(AllStates)*len(AllEvents))
	for _, from := range AllStates {
		for _, ev := range AllEvents {
			to := Transition(from, ev)
			if to == from {
				continue
			}
			events = append(events, fsm.EventDesc{
				Name: string(ev),
				Src:  []string{string(from)},
				Dst:  string(to),
			})
		}
	}
	return events
}

// State возвращает текущее состояние.
func (t *StateTracker) State() CallState {
	return CallState(t.fsm.Current())
}

// Fire подает событие в автомат. Возвращает true, если состояние изменилось.
func (t *StateTracker) Fire(ctx context.Context, event Event) (bool, error) {
	from := t.State()
	if Transition(from, event) == from {
		return false, nil
	}
	if err := t.fsm.Event(ctx, string(event)); err != nil {
		return false, err
	}
	return true, nil
}

func (t *StateTracker) enterState(_ context.Context, e *fsm.Event) {
	tr := StateTransition{
		From:  CallState(e.Src),
		To:    CallState(e.Dst),
		Event: Event(e.Event),
	}
	if tr.To == Disconnected {
		tr.Reason = ReasonOf(tr.Event)
	}

	t.mu.Lock()
	t.history = append(t.history, tr)
	if len(t.history) > maxTransitionHistory {
		t.history = t.history[1:]
	}
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(tr)
	}
}

// History возвращает копию истории переходов.
func (t *StateTracker) History() []StateTransition {
	t.mu.Lock()
	defer t.mu.Unlock()
	history := make([]StateTransition, len(t.history))
	copy(history, t.history)
	return history
}
