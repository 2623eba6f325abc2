package call

import (
	"sync"
	"sync/atomic"
)

// executor последовательный исполнитель обработчиков одной сессии.
//
// Очередь неограниченная, поэтому post никогда не блокируется, в том числе
// из самого исполнителя (колбэк операции может запустить новую операцию).
type executor struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newExecutor() *executor {
	e := &executor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

// post ставит fn в очередь. Возвращает false, если исполнитель остановлен.
func (e *executor) post(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// stop запрещает новые задачи. Уже поставленные задачи будут выполнены.
func (e *executor) stop() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *executor) run() {
	defer close(e.done)
	for range e.wake {
		for {
			e.mu.Lock()
			if len(e.queue) == 0 {
				closed := e.closed
				e.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.mu.Unlock()

			fn()
		}
	}
}

// once гарантирует не более одного вызова колбэка завершения.
func once(fn func(error)) func(error) {
	var fired atomic.Bool
	return func(err error) {
		if fn == nil {
			return
		}
		if fired.CompareAndSwap(false, true) {
			fn(err)
		}
	}
}
