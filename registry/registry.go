package registry

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry tracks, per room, the ordered list of currently connected client
// identities. Rooms are created implicitly on first join and reaped when the
// last member leaves. All mutation is serialized under one mutex; rooms have
// no cross-room invariants.
type Registry struct {
	logger zerolog.Logger
	mx     sync.Mutex
	rooms  map[string][]string
}

func New(logger *zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "registry").Logger(),
		rooms:  make(map[string][]string),
	}
}

// Join appends clientID to the room's member list and returns a snapshot of
// the members as they were before the join. The snapshot is what a newly
// joined client sees as "who else is here" and never contains its own id.
func (r *Registry) Join(roomID, clientID string) []string {
	r.mx.Lock()
	defer r.mx.Unlock()

	members := r.rooms[roomID]
	snapshot := make([]string, len(members))
	copy(snapshot, members)

	r.rooms[roomID] = append(members, clientID)
	r.logger.Debug().
		Str("roomID", roomID).
		Str("clientID", clientID).
		Int("members", len(snapshot)+1).
		Msg("client joined room")
	return snapshot
}

// Leave removes clientID from the room. The room itself is deleted once it
// drains to empty.
func (r *Registry) Leave(roomID, clientID string) {
	r.mx.Lock()
	defer r.mx.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	for i, id := range members {
		if id == clientID {
			members = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(r.rooms, roomID)
		r.logger.Debug().Str("roomID", roomID).Msg("room drained, reaping")
		return
	}
	r.rooms[roomID] = members
	r.logger.Debug().
		Str("roomID", roomID).
		Str("clientID", clientID).
		Msg("client left room")
}

// Members returns a copy of the room's current member list in join order.
func (r *Registry) Members(roomID string) []string {
	r.mx.Lock()
	defer r.mx.Unlock()

	members := r.rooms[roomID]
	out := make([]string, len(members))
	copy(out, members)
	return out
}
