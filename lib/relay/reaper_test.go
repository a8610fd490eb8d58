package relay

import (
	"testing"
	"time"

	"github.com/ocmchat/chat-broker/lib/protocol"
	"github.com/ocmchat/chat-broker/lib/registry"
)

func TestReaper_SweepClosesStaleHostRoom(t *testing.T) {
	reg := registry.New(plainHasher{}, &seqTokens{})
	sender := &recordSender{}
	reaper := NewReaper(reg, sender, testLogger(), time.Minute, 50*time.Millisecond)

	hostToken, _, err := reg.CreateRoom("lobby", "alice", "", "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.BindReturnPort(hostToken, 40001); err != nil {
		t.Fatal(err)
	}
	bobToken, _, err := reg.JoinRoom("lobby", "bob", "", "127.0.0.2")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.BindReturnPort(bobToken, 40002); err != nil {
		t.Fatal(err)
	}

	// Well past the inactivity timeout for everyone, host included.
	reaper.sweep(time.Now().Add(time.Hour))

	if reg.HasRoom("lobby") {
		t.Error("room survived a sweep with an idle host")
	}

	sends := sender.all()
	if len(sends) != 2 {
		t.Fatalf("notice sends = %d, want 2", len(sends))
	}
	ports := map[uint16]bool{}
	for _, s := range sends {
		if s.text != protocol.NoticeRoomClosed {
			t.Errorf("notice = %q, want the closing notice", s.text)
		}
		ports[s.addr.Port] = true
	}
	if !ports[40001] || !ports[40002] {
		t.Errorf("notices went to ports %v, want 40001 and 40002", ports)
	}
}

func TestReaper_SweepEvictsIdleMember(t *testing.T) {
	reg := registry.New(plainHasher{}, &seqTokens{})
	sender := &recordSender{}
	reaper := NewReaper(reg, sender, testLogger(), time.Minute, 15*time.Millisecond)

	hostToken, _, err := reg.CreateRoom("lobby", "alice", "", "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.BindReturnPort(hostToken, 40001); err != nil {
		t.Fatal(err)
	}
	bobToken, _, err := reg.JoinRoom("lobby", "bob", "", "127.0.0.2")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.BindReturnPort(bobToken, 40002); err != nil {
		t.Fatal(err)
	}

	// Let bob go stale, then refresh the host's liveness with a datagram
	// lookup so only bob falls past the timeout.
	time.Sleep(30 * time.Millisecond)
	if _, _, err := reg.LookupForDatagram("lobby", hostToken, "127.0.0.1"); err != nil {
		t.Fatal(err)
	}

	reaper.sweep(time.Now())

	if !reg.HasRoom("lobby") {
		t.Fatal("room closed though the host was active")
	}
	if reg.HasToken(bobToken) {
		t.Error("idle member still registered after sweep")
	}
	if !reg.HasToken(hostToken) {
		t.Error("active host evicted")
	}

	sends := sender.all()
	if len(sends) != 1 {
		t.Fatalf("notice sends = %d, want 1", len(sends))
	}
	if sends[0].text != protocol.NoticeEvicted {
		t.Errorf("notice = %q, want the eviction notice", sends[0].text)
	}
	if sends[0].addr.Port != 40002 {
		t.Errorf("notice went to port %d, want the evicted member's 40002", sends[0].addr.Port)
	}
}

func TestReaper_SweepLeavesFreshRoomAlone(t *testing.T) {
	reg := registry.New(plainHasher{}, &seqTokens{})
	sender := &recordSender{}
	reaper := NewReaper(reg, sender, testLogger(), time.Minute, time.Hour)

	if _, _, err := reg.CreateRoom("lobby", "alice", "", "127.0.0.1"); err != nil {
		t.Fatal(err)
	}

	reaper.sweep(time.Now())

	if !reg.HasRoom("lobby") {
		t.Error("fresh room reaped")
	}
	if got := len(sender.all()); got != 0 {
		t.Errorf("notice sends = %d, want 0", got)
	}
}

func TestReaper_NotifySkipsUnboundMembers(t *testing.T) {
	sender := &recordSender{}
	reaper := NewReaper(registry.New(plainHasher{}, &seqTokens{}), sender, testLogger(), time.Minute, time.Minute)

	reaper.notify("lobby", []registry.MemberSnapshot{
		{Token: "a", Username: "alice", Addr: registry.MemberAddr{IP: "127.0.0.1", Port: 40001}},
		{Token: "b", Username: "bob", Addr: registry.MemberAddr{IP: "127.0.0.1"}},
	}, protocol.NoticeEvicted)

	sends := sender.all()
	if len(sends) != 1 {
		t.Fatalf("notice sends = %d, want 1", len(sends))
	}
	if sends[0].addr.Port != 40001 {
		t.Errorf("notice went to port %d, want the bound member's 40001", sends[0].addr.Port)
	}
}

func TestReaper_StartStop(t *testing.T) {
	reg := registry.New(plainHasher{}, &seqTokens{})
	sender := &recordSender{}

	token, _, err := reg.CreateRoom("lobby", "alice", "", "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.BindReturnPort(token, 40001); err != nil {
		t.Fatal(err)
	}

	reaper := NewReaper(reg, sender, testLogger(), 10*time.Millisecond, time.Nanosecond)
	reaper.Start()

	deadline := time.Now().Add(2 * time.Second)
	for reg.HasRoom("lobby") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reg.HasRoom("lobby") {
		t.Error("running reaper never collected the stale room")
	}

	reaper.Stop()
	reaper.Stop()
}
