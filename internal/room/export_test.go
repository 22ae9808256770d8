package room

// injectEmptyRoom plants a zero-participant room so sweep behavior can be
// exercised. In production the last Leave deletes the room synchronously; the
// sweep exists to recover from missed cleanup.
func (r *Registry) injectEmptyRoom(roomID string) {
	r.mu.Lock()
	r.rooms[roomID] = &roomState{sessionID: "test-session", lastActivity: r.clock.Now()}
	r.mu.Unlock()
}
