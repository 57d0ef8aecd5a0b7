package registry

import (
	"sync"
	"testing"

	"chatrelay/internal/protocol"
)

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := New()
	if _, err := r.Register("alice"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := r.Register("alice"); err != ErrNameTaken {
		t.Fatalf("got %v, want ErrNameTaken", err)
	}
}

func TestRegisterRejectsEmptyOrWhitespaceName(t *testing.T) {
	r := New()
	for _, name := range []string{"", "   ", "\t\n"} {
		if _, err := r.Register(name); err != ErrInvalidName {
			t.Fatalf("Register(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestRegisterPlacesClientInDefaultRoom(t *testing.T) {
	r := New()
	c, err := r.Register("alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if c.Room() != DefaultRoom {
		t.Fatalf("room = %q, want %q", c.Room(), DefaultRoom)
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := New()
	if _, err := r.Register("alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.Unregister("alice") {
		t.Fatal("first Unregister should report removal")
	}
	if r.Unregister("alice") {
		t.Fatal("second Unregister should be a no-op")
	}
	if r.Unregister("nobody") {
		t.Fatal("Unregister of unknown name should be a no-op")
	}
}

func TestUnregisterFreesNameForReuse(t *testing.T) {
	r := New()
	if _, err := r.Register("alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Unregister("alice")
	if _, err := r.Register("alice"); err != nil {
		t.Fatalf("re-Register after Unregister: %v", err)
	}
}

func TestSetRoomReturnsPreviousRoomAndIsIdempotent(t *testing.T) {
	r := New()
	if _, err := r.Register("alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	old, err := r.SetRoom("alice", "general")
	if err != nil {
		t.Fatalf("SetRoom: %v", err)
	}
	if old != DefaultRoom {
		t.Fatalf("old room = %q, want %q", old, DefaultRoom)
	}

	old, err = r.SetRoom("alice", "general")
	if err != nil {
		t.Fatalf("SetRoom (repeat): %v", err)
	}
	if old != "general" {
		t.Fatalf("repeat SetRoom old = %q, want %q (caller detects no-op by old==new)", old, "general")
	}
}

func TestSetRoomUnknownClient(t *testing.T) {
	r := New()
	if _, err := r.SetRoom("ghost", "general"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSnapshotUsersStableSortedOrder(t *testing.T) {
	r := New()
	for _, name := range []string{"carol", "alice", "bob"} {
		if _, err := r.Register(name); err != nil {
			t.Fatalf("Register(%q): %v", name, err)
		}
	}
	got := r.SnapshotUsers()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSnapshotRoomsGroupsByCurrentRoom(t *testing.T) {
	r := New()
	r.Register("alice")
	r.Register("bob")
	r.Register("carol")
	r.SetRoom("bob", "general")

	rooms := r.SnapshotRooms()
	if len(rooms[DefaultRoom]) != 2 {
		t.Fatalf("lobby members = %v, want 2", rooms[DefaultRoom])
	}
	if len(rooms["general"]) != 1 || rooms["general"][0] != "bob" {
		t.Fatalf("general members = %v, want [bob]", rooms["general"])
	}
}

func TestSetVoiceEndpointUnknownClientIsNoop(t *testing.T) {
	r := New()
	r.SetVoiceEndpoint("ghost", nil) // must not panic
}

func TestBroadcastExcludesSenderAndOtherRooms(t *testing.T) {
	r := New()
	alice, _ := r.Register("alice")
	bob, _ := r.Register("bob")
	carol, _ := r.Register("carol")
	r.SetRoom("carol", "other")

	r.Broadcast(DefaultRoom, "alice", protocol.Notification("hi"))

	select {
	case item := <-bob.Mailbox():
		if item.Frame.Type != protocol.TypeNotification {
			t.Fatalf("bob got %v", item.Frame)
		}
	default:
		t.Fatal("bob should have received the broadcast")
	}

	select {
	case <-alice.Mailbox():
		t.Fatal("sender should be excluded from broadcast")
	default:
	}

	select {
	case <-carol.Mailbox():
		t.Fatal("client in a different room should not receive the broadcast")
	default:
	}
}

func TestConcurrentRegisterUnregisterIsRaceFree(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := "user"
			r.Register(name)
			r.SnapshotUsers()
			r.Unregister(name)
		}(i)
	}
	wg.Wait()
	if r.Count() != 0 {
		t.Fatalf("count = %d, want 0 after all unregistered", r.Count())
	}
}
