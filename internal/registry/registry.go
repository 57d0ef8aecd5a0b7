// Package registry owns the process-wide directory of connected clients, the
// implicit room-membership view derived from each client's current room, and
// the voice datagram endpoint map. A single coarse-grained mutex guards the
// client directory itself; each Client's current room and voice endpoint are
// guarded by small mutexes held on that Client.
package registry

import (
	"errors"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"

	"chatrelay/internal/protocol"
)

// ErrNameTaken is returned by Register when the name is already claimed.
var ErrNameTaken = errors.New("name already taken")

// ErrInvalidName is returned by Register for an empty or whitespace-only name.
var ErrInvalidName = errors.New("invalid name")

// ErrNotFound is returned by operations addressing an unknown client.
var ErrNotFound = errors.New("client not found")

// DefaultRoom is the room a client is placed in immediately after login.
const DefaultRoom = "lobby"

// Registry is the process-wide client directory.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register claims name for a new client, placing it in DefaultRoom. Rejects
// empty/whitespace names (ErrInvalidName) and names already present
// (ErrNameTaken).
func (r *Registry) Register(name string) (*Client, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidName
	}
	if len(name) > protocol.MaxNameLength {
		return nil, ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[name]; exists {
		return nil, ErrNameTaken
	}
	c := newClient(name, DefaultRoom)
	r.clients[name] = c
	slog.Info("client registered", "client", name, "room", DefaultRoom, "total", len(r.clients))
	return c, nil
}

// Unregister removes name from the Registry if present. Idempotent: a repeat
// call or a call for an unknown name is a silent no-op. The returned bool
// reports whether a client was actually removed, so callers (session
// teardown) only run once-only side effects (call teardown, notifications)
// when something really changed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	c, ok := r.clients[name]
	if ok {
		delete(r.clients, name)
	}
	remaining := len(r.clients)
	r.mu.Unlock()

	if !ok {
		return false
	}
	c.closeMailbox()
	slog.Info("client unregistered", "client", name, "remaining", remaining)
	return true
}

// SetRoom moves name to room and returns the room it was previously in.
// Setting the same room twice is a no-op for the caller to detect (compare
// old == new) and skip spurious join/leave notifications.
func (r *Registry) SetRoom(name, room string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[name]
	if !ok {
		return "", ErrNotFound
	}
	old := c.Room()
	c.setRoom(room)
	return old, nil
}

// Get returns the client record for name, or ErrNotFound.
func (r *Registry) Get(name string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// SetVoiceEndpoint idempotently overwrites name's last-known voice datagram
// source address. A no-op if name is unknown (a stray/spoofed datagram).
func (r *Registry) SetVoiceEndpoint(name string, addr net.Addr) {
	r.mu.RLock()
	c, ok := r.clients[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	c.setVoiceEndpoint(addr)
}

// SnapshotUsers returns every registered name in a stable, sorted order.
func (r *Registry) SnapshotUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SnapshotRoom returns the sorted names of every client currently in room.
func (r *Registry) SnapshotRoom(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var members []string
	for name, c := range r.clients {
		if c.Room() == room {
			members = append(members, name)
		}
	}
	sort.Strings(members)
	return members
}

// SnapshotRooms returns every non-empty room name mapped to its sorted
// membership. A room exists iff at least one client currently names it
// (rooms are implicit, not separately stored).
func (r *Registry) SnapshotRooms() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make(map[string][]string)
	for name, c := range r.clients {
		room := c.Room()
		rooms[room] = append(rooms[room], name)
	}
	for room := range rooms {
		sort.Strings(rooms[room])
	}
	return rooms
}

// Broadcast sends frame to every client currently in room except excludeName.
func (r *Registry) Broadcast(room, excludeName string, frame protocol.Frame) {
	r.mu.RLock()
	var targets []*Client
	for name, c := range r.clients {
		if name == excludeName {
			continue
		}
		if c.Room() == room {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.Send(frame)
	}
}

// BroadcastAll sends frame to every client except excludeName (used for
// global user_list refreshes and chat-wide notifications).
func (r *Registry) BroadcastAll(excludeName string, frame protocol.Frame) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for name, c := range r.clients {
		if name == excludeName {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.Send(frame)
	}
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
