package streams

import (
	"context"
	"sync"
)

// live is the in-process state of one open stream.
type live struct {
	id     string
	chunks []string
	subs   map[chan string]struct{}
}

// MemoryRegistry keeps live streams in process memory. It is the default
// registry for single-instance deployments and tests; state does not survive
// a restart, which is exactly the durability the protocol promises.
type MemoryRegistry struct {
	mu    sync.Mutex
	chats map[string]*live
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{chats: make(map[string]*live)}
}

// Open implements Registry.
func (r *MemoryRegistry) Open(_ context.Context, chatID, streamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chats[chatID]; ok {
		return ErrActive
	}
	r.chats[chatID] = &live{
		id:   streamID,
		subs: make(map[chan string]struct{}),
	}
	liveStreams.Inc()
	return nil
}

// Append implements Registry.
func (r *MemoryRegistry) Append(_ context.Context, chatID, streamID, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.chats[chatID]
	if !ok || st.id != streamID {
		return ErrNotCurrent
	}
	st.chunks = append(st.chunks, data)
	for ch := range st.subs {
		select {
		case ch <- data:
		default:
			// A subscriber that stopped draining would otherwise miss this
			// chunk without any signal. Detach it instead: the closed channel
			// tells the client its feed ended early, and every chunk stays in
			// st.chunks for the replay when it re-subscribes.
			delete(st.subs, ch)
			close(ch)
		}
	}
	return nil
}

// Close implements Registry.
func (r *MemoryRegistry) Close(_ context.Context, chatID, streamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.chats[chatID]
	if !ok || st.id != streamID {
		return ErrNotCurrent
	}
	for ch := range st.subs {
		close(ch)
	}
	delete(r.chats, chatID)
	liveStreams.Dec()
	return nil
}

// Current implements Registry.
func (r *MemoryRegistry) Current(_ context.Context, chatID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.chats[chatID]
	if !ok {
		return "", false
	}
	return st.id, true
}

// Subscribe implements Registry.
func (r *MemoryRegistry) Subscribe(_ context.Context, chatID, streamID string) ([]string, <-chan string, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.chats[chatID]
	if !ok || st.id != streamID {
		return nil, nil, nil, ErrNotCurrent
	}

	backlog := make([]string, len(st.chunks))
	copy(backlog, st.chunks)

	ch := make(chan string, 64)
	st.subs[ch] = struct{}{}

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.chats[chatID]; ok && cur.id == streamID {
			if _, attached := cur.subs[ch]; attached {
				delete(cur.subs, ch)
				close(ch)
			}
		}
	}
	return backlog, ch, cancel, nil
}
