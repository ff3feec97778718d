package service

import (
	"sync"

	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/google/uuid"
)

// sessionSequencer orders the events of a session by the order in which
// their commands persisted. A command persists while holding its
// session's lock and takes the next place in the session's dispatch line
// before releasing it; its dispatch then waits for every earlier place.
type sessionSequencer struct {
	mu    sync.Mutex
	lines map[uuid.UUID]*sessionLine
}

type sessionLine struct {
	persist sync.Mutex
	tail    chan struct{}
	refs    int
}

func newSessionSequencer() *sessionSequencer {
	return &sessionSequencer{lines: make(map[uuid.UUID]*sessionLine)}
}

func (q *sessionSequencer) acquire(sessionID uuid.UUID) *sessionLine {
	q.mu.Lock()
	defer q.mu.Unlock()
	line, ok := q.lines[sessionID]
	if !ok {
		line = &sessionLine{}
		q.lines[sessionID] = line
	}
	line.refs++
	return line
}

func (q *sessionSequencer) release(sessionID uuid.UUID, line *sessionLine) {
	q.mu.Lock()
	defer q.mu.Unlock()
	line.refs--
	if line.refs == 0 {
		delete(q.lines, sessionID)
	}
}

// run calls persist under the session's lock, then hands whatever events
// it returned to dispatch once the earlier commands of the session have
// been dispatched. persist may return events together with an error when
// part of the change was stored.
func (q *sessionSequencer) run(sessionID uuid.UUID, persist func() ([]events.Event, error), dispatch func([]events.Event)) error {
	line := q.acquire(sessionID)
	defer q.release(sessionID, line)

	var (
		evts       []events.Event
		err        error
		prev, done chan struct{}
	)
	func() {
		line.persist.Lock()
		defer line.persist.Unlock()
		evts, err = persist()
		if len(evts) == 0 {
			return
		}
		prev = line.tail
		done = make(chan struct{})
		line.tail = done
	}()
	if done == nil {
		return err
	}

	defer close(done)
	if prev != nil {
		<-prev
	}
	dispatch(evts)
	return err
}
