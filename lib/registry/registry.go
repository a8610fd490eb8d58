// Package registry implements the authoritative room, membership, and
// liveness store for the chat broker. All mutation is serialized behind a
// single mutex; operations return snapshots so callers can send datagrams
// without holding any lock.
package registry

import (
	"sync"
	"time"

	"github.com/ocmchat/chat-broker/lib/protocol"
	"github.com/ocmchat/chat-broker/lib/util"
)

// PasswordHasher derives and checks one-way password verifiers.
// Implementations must compare in constant time.
type PasswordHasher interface {
	Hash(password string) ([]byte, error)
	Verify(password string, verifier []byte) bool
}

// TokenSource issues globally unique opaque tokens.
type TokenSource interface {
	NewToken() string
}

// MemberAddr is the datagram address of a member: the IP observed on the
// control connection that issued its token, and the return port the client
// registered at the end of the handshake.
type MemberAddr struct {
	IP   string
	Port uint16
}

// Bound reports whether the member has registered a return port yet.
// Unbound members cannot receive datagrams.
func (a MemberAddr) Bound() bool {
	return a.Port != 0
}

// MemberSnapshot is a point-in-time copy of one member, taken under the
// registry lock and safe to use after it is released.
type MemberSnapshot struct {
	Token    string
	Username string
	Addr     MemberAddr
}

// Sender identifies an authenticated datagram sender.
type Sender struct {
	Username string
	IsHost   bool
}

// ReapAction records what one reap cycle did to one room. If Closed is
// true the room was removed and Members holds every member it contained;
// otherwise Members holds the idle non-host members that were evicted.
type ReapAction struct {
	Room    string
	Closed  bool
	Members []MemberSnapshot
}

type member struct {
	ip   string
	port uint16
}

type room struct {
	hostToken string
	verifier  []byte // nil means open access
	members   map[string]*member
}

type membership struct {
	roomName string
	username string
}

// Registry is the in-memory room store. The zero value is not usable;
// construct with New.
//
// One mutex guards the room table, the token membership index, and the
// liveness index together, so every operation observes all three in a
// consistent state. Write rates are low enough that finer sharding buys
// nothing here.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*room
	members  map[string]membership // token -> (room, username)
	liveness map[string]time.Time  // token -> last activity

	hasher PasswordHasher
	tokens TokenSource
	now    func() time.Time
}

// New creates an empty registry using the given collaborators.
func New(hasher PasswordHasher, tokens TokenSource) *Registry {
	return &Registry{
		rooms:    make(map[string]*room),
		members:  make(map[string]membership),
		liveness: make(map[string]time.Time),
		hasher:   hasher,
		tokens:   tokens,
		now:      time.Now,
	}
}

// CreateRoom creates a room and issues the host token. Returns
// StatusRoomExists if the name is taken. A non-empty password is stored as
// a verifier derived by the password collaborator; an empty password makes
// the room open access. The host is inserted with its return port unbound
// until the handshake registers one.
func (r *Registry) CreateRoom(name, username, password, ip string) (string, protocol.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[name]; exists {
		return "", protocol.StatusRoomExists, nil
	}

	var verifier []byte
	if password != "" {
		v, err := r.hasher.Hash(password)
		if err != nil {
			return "", 0, err
		}
		verifier = v
	}

	token := r.tokens.NewToken()
	r.rooms[name] = &room{
		hostToken: token,
		verifier:  verifier,
		members:   map[string]*member{token: {ip: ip}},
	}
	r.members[token] = membership{roomName: name, username: username}
	r.liveness[token] = r.now()

	return token, protocol.StatusSuccess, nil
}

// JoinRoom adds a member to an existing room and issues its token. Returns
// StatusRoomNotFound if the room does not exist and StatusInvalidPassword
// if the verifier rejects the supplied password. An open room accepts only
// the empty password.
func (r *Registry) JoinRoom(name, username, password, ip string) (string, protocol.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[name]
	if !exists {
		return "", protocol.StatusRoomNotFound, nil
	}

	if rm.verifier == nil {
		if password != "" {
			return "", protocol.StatusInvalidPassword, nil
		}
	} else if !r.hasher.Verify(password, rm.verifier) {
		return "", protocol.StatusInvalidPassword, nil
	}

	token := r.tokens.NewToken()
	rm.members[token] = &member{ip: ip}
	r.members[token] = membership{roomName: name, username: username}
	r.liveness[token] = r.now()

	return token, protocol.StatusSuccess, nil
}

// BindReturnPort records the datagram return port a client announced at the
// end of its handshake.
func (r *Registry) BindReturnPort(token string, port uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ms, ok := r.members[token]
	if !ok {
		return util.ErrUnknownToken
	}
	rm, ok := r.rooms[ms.roomName]
	if !ok {
		return util.ErrRoomNotFound
	}
	m, ok := rm.members[token]
	if !ok {
		return util.ErrUnknownToken
	}

	m.port = port
	return nil
}

// LookupForDatagram authenticates an inbound datagram by the triple
// (room, token, source IP). The room must exist, the token must be a
// current member of it, and the token's recorded IP must equal sourceIP;
// membership alone is not sufficient, which stops stolen-token replay from
// other hosts. On success the token's liveness is bumped and the other
// members' addresses are returned as a snapshot for lock-free fan-out.
func (r *Registry) LookupForDatagram(roomName, token, sourceIP string) (Sender, []MemberAddr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomName]
	if !exists {
		return Sender{}, nil, util.ErrRoomNotFound
	}
	m, ok := rm.members[token]
	if !ok {
		return Sender{}, nil, util.ErrUnknownToken
	}
	if m.ip != sourceIP {
		return Sender{}, nil, util.ErrAddressMismatch
	}
	ms, ok := r.members[token]
	if !ok || ms.roomName != roomName {
		return Sender{}, nil, util.ErrUnknownToken
	}

	r.liveness[token] = r.now()

	recipients := make([]MemberAddr, 0, len(rm.members)-1)
	for t, other := range rm.members {
		if t == token {
			continue
		}
		recipients = append(recipients, MemberAddr{IP: other.ip, Port: other.port})
	}

	return Sender{Username: ms.username, IsHost: token == rm.hostToken}, recipients, nil
}

// RoomMembers returns a snapshot of every current member of the room, or
// nil if the room does not exist.
func (r *Registry) RoomMembers(name string) []MemberSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(name)
}

// CloseRoom removes the room and every token it contained from all
// indices, returning the final member list so the caller can send the
// farewell datagrams. Idempotent: closing an absent room returns nil.
func (r *Registry) CloseRoom(name string) []MemberSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeRoomLocked(name)
}

// Reap applies one liveness sweep: rooms whose host has been silent longer
// than timeout are closed outright, and in every surviving room the idle
// non-host members are evicted. The host is never evicted selectively; an
// idle host always collapses the whole room. Mutation happens atomically
// under the registry lock; the returned actions carry address snapshots so
// the caller can send notices afterwards.
func (r *Registry) Reap(now time.Time, timeout time.Duration) []ReapAction {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := now.Add(-timeout)
	var actions []ReapAction

	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}

	for _, name := range names {
		rm := r.rooms[name]

		if hostSeen, ok := r.liveness[rm.hostToken]; !ok || hostSeen.Before(deadline) {
			members := r.closeRoomLocked(name)
			actions = append(actions, ReapAction{Room: name, Closed: true, Members: members})
			continue
		}

		var evicted []MemberSnapshot
		for token, m := range rm.members {
			if token == rm.hostToken {
				continue
			}
			if seen, ok := r.liveness[token]; ok && !seen.Before(deadline) {
				continue
			}
			ms := r.members[token]
			evicted = append(evicted, MemberSnapshot{
				Token:    token,
				Username: ms.username,
				Addr:     MemberAddr{IP: m.ip, Port: m.port},
			})
			delete(rm.members, token)
			delete(r.members, token)
			delete(r.liveness, token)
		}
		if len(evicted) > 0 {
			actions = append(actions, ReapAction{Room: name, Members: evicted})
		}
	}

	return actions
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// HasRoom reports whether a room with the given name exists.
func (r *Registry) HasRoom(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[name]
	return ok
}

// HasToken reports whether the token is bound to any room.
func (r *Registry) HasToken(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[token]
	return ok
}

// LastActivity returns the token's liveness timestamp.
func (r *Registry) LastActivity(token string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.liveness[token]
	return t, ok
}

// closeRoomLocked removes the room and its tokens from every index.
// Callers must hold r.mu.
func (r *Registry) closeRoomLocked(name string) []MemberSnapshot {
	members := r.snapshotLocked(name)
	rm, exists := r.rooms[name]
	if !exists {
		return nil
	}
	for token := range rm.members {
		delete(r.members, token)
		delete(r.liveness, token)
	}
	delete(r.rooms, name)
	return members
}

// snapshotLocked copies the room's member list. Callers must hold r.mu.
func (r *Registry) snapshotLocked(name string) []MemberSnapshot {
	rm, exists := r.rooms[name]
	if !exists {
		return nil
	}
	members := make([]MemberSnapshot, 0, len(rm.members))
	for token, m := range rm.members {
		ms := r.members[token]
		members = append(members, MemberSnapshot{
			Token:    token,
			Username: ms.username,
			Addr:     MemberAddr{IP: m.ip, Port: m.port},
		})
	}
	return members
}
