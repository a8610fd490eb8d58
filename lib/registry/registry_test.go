package registry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ocmchat/chat-broker/lib/protocol"
	"github.com/ocmchat/chat-broker/lib/util"
)

// plainHasher stores passwords verbatim so tests stay fast and assertable.
type plainHasher struct{}

func (plainHasher) Hash(password string) ([]byte, error) { return []byte(password), nil }

func (plainHasher) Verify(password string, verifier []byte) bool {
	return password == string(verifier)
}

// failingHasher simulates a broken password collaborator.
type failingHasher struct{}

func (failingHasher) Hash(string) ([]byte, error) { return nil, errors.New("hash failed") }
func (failingHasher) Verify(string, []byte) bool  { return false }

// seqTokens issues deterministic tokens.
type seqTokens struct{ n int }

func (s *seqTokens) NewToken() string {
	s.n++
	return fmt.Sprintf("token-%d", s.n)
}

func newTestRegistry() *Registry {
	return New(plainHasher{}, &seqTokens{})
}

func TestRegistry_CreateRoom(t *testing.T) {
	t.Run("create succeeds and populates all indices", func(t *testing.T) {
		r := newTestRegistry()

		token, status, err := r.CreateRoom("lobby", "alice", "", "10.0.0.1")
		if err != nil {
			t.Fatalf("CreateRoom() returned error: %v", err)
		}
		if status != protocol.StatusSuccess {
			t.Fatalf("status = %v, want SUCCESS", status)
		}
		if token == "" {
			t.Fatal("CreateRoom() issued empty token")
		}
		if !r.HasRoom("lobby") {
			t.Error("HasRoom() = false after create")
		}
		if !r.HasToken(token) {
			t.Error("HasToken() = false after create")
		}
		if _, ok := r.LastActivity(token); !ok {
			t.Error("LastActivity() missing after create")
		}

		members := r.RoomMembers("lobby")
		if len(members) != 1 {
			t.Fatalf("RoomMembers() len = %d, want 1", len(members))
		}
		if members[0].Token != token || members[0].Username != "alice" {
			t.Errorf("member = %+v, want host token %q", members[0], token)
		}
		if members[0].Addr.IP != "10.0.0.1" {
			t.Errorf("member IP = %q, want 10.0.0.1", members[0].Addr.IP)
		}
		if members[0].Addr.Bound() {
			t.Error("host return port bound before registration")
		}
	})

	t.Run("duplicate name returns ROOM_EXISTS", func(t *testing.T) {
		r := newTestRegistry()
		if _, _, err := createOpen(r, "lobby", "alice"); err != nil {
			t.Fatal(err)
		}

		token, status, err := r.CreateRoom("lobby", "bob", "", "10.0.0.2")
		if err != nil {
			t.Fatalf("CreateRoom() returned error: %v", err)
		}
		if status != protocol.StatusRoomExists {
			t.Errorf("status = %v, want ROOM_EXISTS", status)
		}
		if token != "" {
			t.Errorf("token = %q, want empty on failure", token)
		}
		if r.RoomCount() != 1 {
			t.Errorf("RoomCount() = %d, want 1", r.RoomCount())
		}
	})

	t.Run("hasher failure propagates", func(t *testing.T) {
		r := New(failingHasher{}, &seqTokens{})
		_, _, err := r.CreateRoom("lobby", "alice", "hunter2", "10.0.0.1")
		if err == nil {
			t.Error("CreateRoom() succeeded with failing hasher")
		}
		if r.HasRoom("lobby") {
			t.Error("room exists after failed create")
		}
	})
}

func TestRegistry_JoinRoom(t *testing.T) {
	t.Run("unknown room returns ROOM_NOT_FOUND", func(t *testing.T) {
		r := newTestRegistry()
		_, status, err := r.JoinRoom("nowhere", "bob", "", "10.0.0.2")
		if err != nil {
			t.Fatalf("JoinRoom() returned error: %v", err)
		}
		if status != protocol.StatusRoomNotFound {
			t.Errorf("status = %v, want ROOM_NOT_FOUND", status)
		}
	})

	t.Run("password room accepts the stored password", func(t *testing.T) {
		r := newTestRegistry()
		if _, _, err := r.CreateRoom("secret", "alice", "hunter2", "10.0.0.1"); err != nil {
			t.Fatal(err)
		}

		token, status, err := r.JoinRoom("secret", "bob", "hunter2", "10.0.0.2")
		if err != nil {
			t.Fatalf("JoinRoom() returned error: %v", err)
		}
		if status != protocol.StatusSuccess {
			t.Fatalf("status = %v, want SUCCESS", status)
		}
		if !r.HasToken(token) {
			t.Error("HasToken() = false after join")
		}
		if got := len(r.RoomMembers("secret")); got != 2 {
			t.Errorf("member count = %d, want 2", got)
		}
	})

	t.Run("password room rejects other passwords", func(t *testing.T) {
		r := newTestRegistry()
		if _, _, err := r.CreateRoom("secret", "alice", "hunter2", "10.0.0.1"); err != nil {
			t.Fatal(err)
		}

		for _, password := range []string{"wrong", ""} {
			_, status, err := r.JoinRoom("secret", "bob", password, "10.0.0.2")
			if err != nil {
				t.Fatalf("JoinRoom(%q) returned error: %v", password, err)
			}
			if status != protocol.StatusInvalidPassword {
				t.Errorf("JoinRoom(%q) status = %v, want INVALID_PASSWORD", password, status)
			}
		}
		if got := len(r.RoomMembers("secret")); got != 1 {
			t.Errorf("member count = %d after rejected joins, want 1", got)
		}
	})

	t.Run("open room accepts only the empty password", func(t *testing.T) {
		r := newTestRegistry()
		if _, _, err := createOpen(r, "lobby", "alice"); err != nil {
			t.Fatal(err)
		}

		if _, status, _ := r.JoinRoom("lobby", "bob", "", "10.0.0.2"); status != protocol.StatusSuccess {
			t.Errorf("empty password status = %v, want SUCCESS", status)
		}
		if _, status, _ := r.JoinRoom("lobby", "eve", "anything", "10.0.0.3"); status != protocol.StatusInvalidPassword {
			t.Errorf("non-empty password status = %v, want INVALID_PASSWORD", status)
		}
	})
}

func TestRegistry_BindReturnPort(t *testing.T) {
	r := newTestRegistry()
	token, _, err := createOpen(r, "lobby", "alice")
	if err != nil {
		t.Fatal(err)
	}

	if err := r.BindReturnPort(token, 40001); err != nil {
		t.Fatalf("BindReturnPort() returned error: %v", err)
	}

	members := r.RoomMembers("lobby")
	if members[0].Addr.Port != 40001 {
		t.Errorf("port = %d, want 40001", members[0].Addr.Port)
	}

	if err := r.BindReturnPort("no-such-token", 40002); !errors.Is(err, util.ErrUnknownToken) {
		t.Errorf("BindReturnPort(unknown) = %v, want ErrUnknownToken", err)
	}
}

func TestRegistry_LookupForDatagram(t *testing.T) {
	setup := func(t *testing.T) (*Registry, string, string) {
		t.Helper()
		r := newTestRegistry()
		host, _, err := createOpen(r, "lobby", "alice")
		if err != nil {
			t.Fatal(err)
		}
		if err := r.BindReturnPort(host, 40001); err != nil {
			t.Fatal(err)
		}
		member, status, err := r.JoinRoom("lobby", "bob", "", "10.0.0.2")
		if err != nil || status != protocol.StatusSuccess {
			t.Fatalf("join failed: %v %v", status, err)
		}
		if err := r.BindReturnPort(member, 40002); err != nil {
			t.Fatal(err)
		}
		return r, host, member
	}

	t.Run("success excludes the sender", func(t *testing.T) {
		r, host, member := setup(t)

		sender, recipients, err := r.LookupForDatagram("lobby", member, "10.0.0.2")
		if err != nil {
			t.Fatalf("LookupForDatagram() returned error: %v", err)
		}
		if sender.Username != "bob" || sender.IsHost {
			t.Errorf("sender = %+v, want non-host bob", sender)
		}
		if len(recipients) != 1 {
			t.Fatalf("recipients len = %d, want 1", len(recipients))
		}
		if recipients[0].IP != "10.0.0.1" || recipients[0].Port != 40001 {
			t.Errorf("recipient = %+v, want host address", recipients[0])
		}

		hostSender, _, err := r.LookupForDatagram("lobby", host, "10.0.0.1")
		if err != nil {
			t.Fatalf("host lookup returned error: %v", err)
		}
		if !hostSender.IsHost {
			t.Error("host lookup not flagged IsHost")
		}
	})

	t.Run("bumps the liveness timestamp", func(t *testing.T) {
		r, _, member := setup(t)

		base := time.Now()
		r.now = func() time.Time { return base.Add(time.Minute) }

		before, _ := r.LastActivity(member)
		if _, _, err := r.LookupForDatagram("lobby", member, "10.0.0.2"); err != nil {
			t.Fatalf("LookupForDatagram() returned error: %v", err)
		}
		after, _ := r.LastActivity(member)
		if !after.After(before) {
			t.Errorf("liveness not bumped: before=%v after=%v", before, after)
		}
	})

	t.Run("rejects mismatched source IP", func(t *testing.T) {
		r, _, member := setup(t)
		_, _, err := r.LookupForDatagram("lobby", member, "10.9.9.9")
		if !errors.Is(err, util.ErrAddressMismatch) {
			t.Errorf("LookupForDatagram() = %v, want ErrAddressMismatch", err)
		}
	})

	t.Run("rejects unknown room and token", func(t *testing.T) {
		r, _, member := setup(t)
		if _, _, err := r.LookupForDatagram("nowhere", member, "10.0.0.2"); !errors.Is(err, util.ErrRoomNotFound) {
			t.Errorf("unknown room: %v, want ErrRoomNotFound", err)
		}
		if _, _, err := r.LookupForDatagram("lobby", "forged", "10.0.0.2"); !errors.Is(err, util.ErrUnknownToken) {
			t.Errorf("unknown token: %v, want ErrUnknownToken", err)
		}
	})

	t.Run("rejects after the room closes", func(t *testing.T) {
		r, host, _ := setup(t)
		r.CloseRoom("lobby")
		if _, _, err := r.LookupForDatagram("lobby", host, "10.0.0.1"); !errors.Is(err, util.ErrRoomNotFound) {
			t.Errorf("after close: %v, want ErrRoomNotFound", err)
		}
	})
}

func TestRegistry_CloseRoom(t *testing.T) {
	r := newTestRegistry()
	host, _, err := createOpen(r, "lobby", "alice")
	if err != nil {
		t.Fatal(err)
	}
	member, _, err := r.JoinRoom("lobby", "bob", "", "10.0.0.2")
	if err != nil {
		t.Fatal(err)
	}

	members := r.CloseRoom("lobby")
	if len(members) != 2 {
		t.Fatalf("CloseRoom() returned %d members, want 2", len(members))
	}

	if r.HasRoom("lobby") {
		t.Error("room still exists after close")
	}
	for _, token := range []string{host, member} {
		if r.HasToken(token) {
			t.Errorf("token %q survived close", token)
		}
		if _, ok := r.LastActivity(token); ok {
			t.Errorf("liveness for %q survived close", token)
		}
	}

	if again := r.CloseRoom("lobby"); len(again) != 0 {
		t.Errorf("second CloseRoom() returned %d members, want 0", len(again))
	}
}

func TestRegistry_Reap(t *testing.T) {
	const timeout = 300 * time.Second

	t.Run("idle host collapses the whole room", func(t *testing.T) {
		r := newTestRegistry()
		base := time.Now()
		r.now = func() time.Time { return base }

		if _, _, err := createOpen(r, "lobby", "alice"); err != nil {
			t.Fatal(err)
		}
		member, _, err := r.JoinRoom("lobby", "bob", "", "10.0.0.2")
		if err != nil {
			t.Fatal(err)
		}

		// Only the member stays active; the host goes silent.
		r.now = func() time.Time { return base.Add(301 * time.Second) }
		if _, _, err := r.LookupForDatagram("lobby", member, "10.0.0.2"); err != nil {
			t.Fatal(err)
		}

		actions := r.Reap(base.Add(301*time.Second), timeout)
		if len(actions) != 1 {
			t.Fatalf("Reap() returned %d actions, want 1", len(actions))
		}
		if !actions[0].Closed {
			t.Error("action not marked Closed for idle host")
		}
		if len(actions[0].Members) != 2 {
			t.Errorf("close snapshot has %d members, want 2", len(actions[0].Members))
		}
		if r.RoomCount() != 0 {
			t.Errorf("RoomCount() = %d after reap, want 0", r.RoomCount())
		}
	})

	t.Run("idle non-host members are evicted, host survives", func(t *testing.T) {
		r := newTestRegistry()
		base := time.Now()
		r.now = func() time.Time { return base }

		host, _, err := createOpen(r, "lobby", "alice")
		if err != nil {
			t.Fatal(err)
		}
		member, _, err := r.JoinRoom("lobby", "bob", "", "10.0.0.2")
		if err != nil {
			t.Fatal(err)
		}
		if err := r.BindReturnPort(member, 40002); err != nil {
			t.Fatal(err)
		}

		// Only the host stays active.
		now := base.Add(301 * time.Second)
		r.now = func() time.Time { return now }
		if _, _, err := r.LookupForDatagram("lobby", host, "10.0.0.1"); err != nil {
			t.Fatal(err)
		}

		actions := r.Reap(now, timeout)
		if len(actions) != 1 {
			t.Fatalf("Reap() returned %d actions, want 1", len(actions))
		}
		if actions[0].Closed {
			t.Error("room closed although the host was active")
		}
		if len(actions[0].Members) != 1 || actions[0].Members[0].Username != "bob" {
			t.Fatalf("evicted = %+v, want bob", actions[0].Members)
		}
		if actions[0].Members[0].Addr.Port != 40002 {
			t.Errorf("evicted address = %+v, want port 40002", actions[0].Members[0].Addr)
		}

		if r.HasToken(member) {
			t.Error("evicted token survived reap")
		}
		if !r.HasToken(host) {
			t.Error("host token removed by reap")
		}
		if !r.HasRoom("lobby") {
			t.Error("room removed although the host was active")
		}
	})

	t.Run("active rooms are untouched", func(t *testing.T) {
		r := newTestRegistry()
		if _, _, err := createOpen(r, "lobby", "alice"); err != nil {
			t.Fatal(err)
		}

		actions := r.Reap(time.Now(), timeout)
		if len(actions) != 0 {
			t.Errorf("Reap() returned %d actions for a fresh room, want 0", len(actions))
		}
		if !r.HasRoom("lobby") {
			t.Error("fresh room removed by reap")
		}
	})
}

func createOpen(r *Registry, name, username string) (string, protocol.Status, error) {
	return r.CreateRoom(name, username, "", "10.0.0.1")
}
