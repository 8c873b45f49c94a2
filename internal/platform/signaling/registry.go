package signaling

// Binding is the (room, user) pair a connection has joined as.
type Binding struct {
	RoomID string
	UserID string
}

// Registry tracks live connections and their current binding. It is not
// safe for concurrent use; the relay event loop is its only caller.
type Registry struct {
	live     map[*Connection]struct{}
	bindings map[*Connection]Binding
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		live:     make(map[*Connection]struct{}),
		bindings: make(map[*Connection]Binding),
	}
}

// Add records a live connection with no binding.
func (r *Registry) Add(c *Connection) {
	r.live[c] = struct{}{}
}

// Remove forgets the connection and any binding it had.
func (r *Registry) Remove(c *Connection) {
	delete(r.bindings, c)
	delete(r.live, c)
}

// Has reports whether the connection is live.
func (r *Registry) Has(c *Connection) bool {
	_, ok := r.live[c]
	return ok
}

// Bind associates the connection with a room and user, replacing any
// previous binding.
func (r *Registry) Bind(c *Connection, roomID, userID string) {
	r.live[c] = struct{}{}
	r.bindings[c] = Binding{RoomID: roomID, UserID: userID}
}

// Unbind removes and returns the connection's binding. The boolean is false
// when there was none.
func (r *Registry) Unbind(c *Connection) (Binding, bool) {
	b, ok := r.bindings[c]
	if ok {
		delete(r.bindings, c)
	}
	return b, ok
}

// Lookup returns the connection's current binding.
func (r *Registry) Lookup(c *Connection) (Binding, bool) {
	b, ok := r.bindings[c]
	return b, ok
}

// Connections returns every live connection in no particular order.
func (r *Registry) Connections() []*Connection {
	out := make([]*Connection, 0, len(r.live))
	for c := range r.live {
		out = append(out, c)
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.live)
}
