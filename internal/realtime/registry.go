package realtime

import "sort"

// Handler receives dispatched messages. Handlers are compared by identity,
// so registering the same *Handler twice under one key is a no-op.
type Handler struct {
	fn func(Message)
}

// NewHandler wraps fn as a Handler.
func NewHandler(fn func(Message)) *Handler {
	return &Handler{fn: fn}
}

// registry maps a key (message type or topic) to an ordered set of handlers.
// Not safe for concurrent use; the client guards it.
type registry struct {
	sets map[string][]*Handler
}

func newRegistry() *registry {
	return &registry{sets: make(map[string][]*Handler)}
}

// add registers h under key. Returns false if h was nil or already present.
func (r *registry) add(key string, h *Handler) bool {
	if h == nil || r.has(key, h) {
		return false
	}
	r.sets[key] = append(r.sets[key], h)
	return true
}

// remove drops h from key, or every handler for key when h is nil.
// The key itself is removed once its set is empty.
func (r *registry) remove(key string, h *Handler) {
	if h == nil {
		delete(r.sets, key)
		return
	}

	set, ok := r.sets[key]
	if !ok {
		return
	}
	for i, existing := range set {
		if existing == h {
			set = append(set[:i:i], set[i+1:]...)
			break
		}
	}
	if len(set) == 0 {
		delete(r.sets, key)
		return
	}
	r.sets[key] = set
}

// handlers returns a snapshot of the handlers for key in registration order.
func (r *registry) handlers(key string) []*Handler {
	set := r.sets[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Handler, len(set))
	copy(out, set)
	return out
}

// has reports whether h is registered under key.
func (r *registry) has(key string, h *Handler) bool {
	for _, existing := range r.sets[key] {
		if existing == h {
			return true
		}
	}
	return false
}

// keys returns all registered keys, sorted.
func (r *registry) keys() []string {
	out := make([]string, 0, len(r.sets))
	for k := range r.sets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
