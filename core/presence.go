package core

import "slices"

// Presence is the server-side registry mapping a user identity to its live
// connections. A user may hold any number of concurrent connections;
// registering a new connection never evicts prior ones. Entries are removed
// only when the underlying connection closes.
type Presence struct {
	conns *SyncMap[string, []*Conn]
}

func NewPresence() *Presence {
	return &Presence{
		conns: NewSyncMap[string, []*Conn](),
	}
}

// Register binds a connection to a user. Registering the same connection
// twice is a no-op.
func (p *Presence) Register(username string, conn *Conn) {
	p.conns.LoadAndStore(username, func(conns []*Conn, ok bool) []*Conn {
		if slices.Contains(conns, conn) {
			return conns
		}
		return append(conns, conn)
	})
}

// Unregister removes a connection from a user's entry. The entry is deleted
// when the last connection is removed. It reports whether the user has no
// remaining connections.
func (p *Presence) Unregister(username string, conn *Conn) (offline bool) {
	p.conns.LoadAndDelete(username, func(conns []*Conn, ok bool) ([]*Conn, bool) {
		if !ok {
			offline = true
			return nil, false
		}
		idx := slices.Index(conns, conn)
		if idx != -1 {
			conns = slices.Delete(conns, idx, idx+1)
		}
		if len(conns) == 0 {
			offline = true
			return nil, false
		}
		return conns, true
	})
	return offline
}

// Connections returns a snapshot of the user's live connections.
// A user with no connections yields a nil slice, which is not an error:
// messages to offline users are persisted for later retrieval.
func (p *Presence) Connections(username string) []*Conn {
	conns, ok := p.conns.Load(username)
	if !ok {
		return nil
	}
	return slices.Clone(conns)
}

func (p *Presence) IsOnline(username string) bool {
	conns, ok := p.conns.Load(username)
	return ok && len(conns) > 0
}
