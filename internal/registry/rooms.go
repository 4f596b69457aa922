package registry

// JoinRoom adds a uid to a room. Membership has set semantics: joining twice
// reports false the second time and leaves the set unchanged.
func (r *Registry) JoinRoom(roomID, uid string) bool {
	set, _ := r.rooms.LoadOrStore(roomID, newStringSet())
	return set.Add(uid)
}

// LeaveRoom removes a uid from a room; leaving twice is a no-op.
func (r *Registry) LeaveRoom(roomID, uid string) bool {
	set, ok := r.rooms.Load(roomID)
	if !ok {
		return false
	}
	return set.Remove(uid)
}

// RoomMembers returns the member uids of a room.
func (r *Registry) RoomMembers(roomID string) []string {
	set, ok := r.rooms.Load(roomID)
	if !ok {
		return nil
	}
	return set.Values()
}

// InRoom reports whether uid is a member of roomID.
func (r *Registry) InRoom(roomID, uid string) bool {
	set, ok := r.rooms.Load(roomID)
	return ok && set.Contains(uid)
}

// Rooms lists all room ids with at least one member recorded locally.
func (r *Registry) Rooms() []string {
	var out []string
	r.rooms.Range(func(roomID string, set *stringSet) bool {
		if set.Len() > 0 {
			out = append(out, roomID)
		}
		return true
	})
	return out
}

// SendToRoom fans a frame out to every member uid of a room, skipping one
// uid (usually the sender). Returns delivered connection count.
func (r *Registry) SendToRoom(roomID string, f Frame, skipUID string) int {
	delivered := 0
	for _, uid := range r.RoomMembers(roomID) {
		if uid == skipUID {
			continue
		}
		delivered += r.SendToUID(uid, f)
	}
	return delivered
}
