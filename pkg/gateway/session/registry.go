package session

import (
	"context"
	"sync"

	"github.com/voxdeck-ai/voxdeck/pkg/gateway/protocol"
)

// Registry tracks live sessions so shutdown can warn and drain them.
// It is an explicit dependency handed to the handlers, never a package
// global.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*tracked
	wg       sync.WaitGroup
}

type tracked struct {
	session *Session
	once    sync.Once
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*tracked)}
}

// Register adds a session and returns its unregister func. Registering
// the same ID twice unregisters the older entry.
func (r *Registry) Register(s *Session) (unregister func()) {
	if r == nil || s == nil {
		return func() {}
	}

	entry := &tracked{session: s}

	r.mu.Lock()
	old := r.sessions[s.ID]
	r.sessions[s.ID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		r.unregister(s.ID, old)
	}

	return func() { r.unregister(s.ID, entry) }
}

func (r *Registry) unregister(id string, entry *tracked) {
	entry.once.Do(func() {
		r.mu.Lock()
		if r.sessions[id] == entry {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Get returns the session with the given ID, or nil.
func (r *Registry) Get(id string) *Session {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[id]; ok {
		return entry.session
	}
	return nil
}

// Count reports live sessions.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// DrainAll flips every live session to draining and sends each one a
// draining notice carrying its own resumption token. Returns the number
// of sessions notified.
func (r *Registry) DrainAll(message string) (notified int) {
	if r == nil {
		return 0
	}

	var targets []*Session
	r.mu.Lock()
	for _, entry := range r.sessions {
		targets = append(targets, entry.session)
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.BeginDraining()
		_ = s.SendPriority(protocol.ServerDraining{
			ResumptionToken: s.ResumptionToken(),
			Message:         message,
		})
		notified++
	}
	return notified
}

// CloseAll force-closes every live session. Returns the number closed.
func (r *Registry) CloseAll() (closed int) {
	if r == nil {
		return 0
	}

	var targets []*Session
	r.mu.Lock()
	for _, entry := range r.sessions {
		targets = append(targets, entry.session)
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.Close()
		closed++
	}
	return closed
}

// Wait blocks until every session unregisters or the context ends.
// Reports whether the registry fully drained.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
