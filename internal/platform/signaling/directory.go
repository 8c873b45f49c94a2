package signaling

import "sort"

// Directory maps room ids to the set of joined connections. Rooms are
// created on first join and deleted as soon as they become empty. Join and
// Leave are the only mutators of membership.
type Directory struct {
	registry *Registry
	rooms    map[string]map[*Connection]struct{}
}

// NewDirectory creates a directory that records bindings in registry.
func NewDirectory(registry *Registry) *Directory {
	return &Directory{
		registry: registry,
		rooms:    make(map[string]map[*Connection]struct{}),
	}
}

// Join adds the connection to roomID as userID and returns the distinct user
// ids of the other members, sorted. A connection bound to a different room
// is moved out of it first.
func (d *Directory) Join(c *Connection, roomID, userID string) []string {
	if prev, ok := d.registry.Lookup(c); ok && prev.RoomID != roomID {
		d.remove(c, prev.RoomID)
	}
	d.registry.Bind(c, roomID, userID)

	members, ok := d.rooms[roomID]
	if !ok {
		members = make(map[*Connection]struct{})
		d.rooms[roomID] = members
	}

	seen := make(map[string]struct{}, len(members))
	others := make([]string, 0, len(members))
	for m := range members {
		if m == c {
			continue
		}
		b, ok := d.registry.Lookup(m)
		if !ok || b.UserID == userID {
			continue
		}
		if _, dup := seen[b.UserID]; dup {
			continue
		}
		seen[b.UserID] = struct{}{}
		others = append(others, b.UserID)
	}
	members[c] = struct{}{}

	sort.Strings(others)
	return others
}

// Leave removes the connection from the room it is bound to. It returns the
// binding that left, or false when the connection was in no room.
func (d *Directory) Leave(c *Connection) (Binding, bool) {
	b, ok := d.registry.Unbind(c)
	if !ok {
		return Binding{}, false
	}
	d.remove(c, b.RoomID)
	return b, true
}

func (d *Directory) remove(c *Connection, roomID string) {
	members, ok := d.rooms[roomID]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(d.rooms, roomID)
	}
}

// Members returns the connections currently joined to roomID.
func (d *Directory) Members(roomID string) []*Connection {
	members := d.rooms[roomID]
	out := make([]*Connection, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// MemberCount returns the number of connections joined to roomID.
func (d *Directory) MemberCount(roomID string) int {
	return len(d.rooms[roomID])
}

// HasUser reports whether any connection in roomID is joined as userID.
func (d *Directory) HasUser(roomID, userID string) bool {
	for c := range d.rooms[roomID] {
		if b, ok := d.registry.Lookup(c); ok && b.UserID == userID {
			return true
		}
	}
	return false
}

// HasRoom reports whether roomID currently exists.
func (d *Directory) HasRoom(roomID string) bool {
	_, ok := d.rooms[roomID]
	return ok
}

// RoomCount returns the number of non-empty rooms.
func (d *Directory) RoomCount() int {
	return len(d.rooms)
}
