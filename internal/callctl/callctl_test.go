package callctl

import (
	"sync"
	"testing"

	"chatrelay/internal/protocol"
	"chatrelay/internal/registry"
)

func drain(t *testing.T, c *registry.Client) protocol.Frame {
	t.Helper()
	select {
	case item := <-c.Mailbox():
		return item.Frame
	default:
		t.Fatalf("%s: expected a queued frame, found none", c.Name)
		return protocol.Frame{}
	}
}

func empty(t *testing.T, c *registry.Client) {
	t.Helper()
	select {
	case item := <-c.Mailbox():
		t.Fatalf("%s: expected no frame, got %v", c.Name, item.Frame)
	default:
	}
}

func setup(t *testing.T, names ...string) (*registry.Registry, *Controller, map[string]*registry.Client) {
	t.Helper()
	reg := registry.New()
	clients := make(map[string]*registry.Client)
	for _, n := range names {
		c, err := reg.Register(n)
		if err != nil {
			t.Fatalf("Register(%q): %v", n, err)
		}
		clients[n] = c
	}
	return reg, New(reg), clients
}

func TestCallLifecycleHappyPath(t *testing.T) {
	_, ctl, c := setup(t, "alice", "bob")

	if err := ctl.Request(c["alice"], "bob"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if f := drain(t, c["bob"]); f.Type != protocol.TypeCallIncoming {
		t.Fatalf("bob got %v", f)
	}
	if f := drain(t, c["alice"]); f.Type != protocol.TypeCallRinging {
		t.Fatalf("alice got %v", f)
	}

	if err := ctl.Accept(c["bob"], "alice"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if f := drain(t, c["alice"]); f.Type != protocol.TypeCallStarted {
		t.Fatalf("alice got %v", f)
	}
	if f := drain(t, c["bob"]); f.Type != protocol.TypeCallStarted {
		t.Fatalf("bob got %v", f)
	}

	partner, ok := ctl.Partner("alice")
	if !ok || partner != "bob" {
		t.Fatalf("Partner(alice) = %q, %v", partner, ok)
	}

	if err := ctl.End(c["alice"]); err != nil {
		t.Fatalf("End: %v", err)
	}
	if f := drain(t, c["bob"]); f.Type != protocol.TypeCallEnded {
		t.Fatalf("bob got %v", f)
	}
	if f := drain(t, c["alice"]); f.Type != protocol.TypeCallEnded {
		t.Fatalf("alice got %v", f)
	}

	if len(ctl.ActiveCalls()) != 0 {
		t.Fatalf("active-call map not empty after End: %v", ctl.ActiveCalls())
	}
}

func TestCallEndTwiceIsNoop(t *testing.T) {
	_, ctl, c := setup(t, "alice", "bob")
	ctl.Request(c["alice"], "bob")
	drain(t, c["bob"])
	drain(t, c["alice"])
	ctl.Accept(c["bob"], "alice")
	drain(t, c["alice"])
	drain(t, c["bob"])

	if err := ctl.End(c["alice"]); err != nil {
		t.Fatalf("first End: %v", err)
	}
	drain(t, c["bob"])
	drain(t, c["alice"])

	if err := ctl.End(c["alice"]); err != ErrNotInCall {
		t.Fatalf("second End = %v, want ErrNotInCall", err)
	}
	empty(t, c["bob"])
	empty(t, c["alice"])
}

func TestCallRejectReturnsToIdle(t *testing.T) {
	_, ctl, c := setup(t, "alice", "bob")
	ctl.Request(c["alice"], "bob")
	drain(t, c["bob"])
	drain(t, c["alice"])

	if err := ctl.Reject(c["bob"], "alice"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if f := drain(t, c["alice"]); f.Type != protocol.TypeCallRejected {
		t.Fatalf("alice got %v", f)
	}

	// Both back to Idle: a fresh request should succeed.
	if err := ctl.Request(c["bob"], "alice"); err != nil {
		t.Fatalf("Request after reject: %v", err)
	}
}

func TestCallRequestRejectsWhenEitherPartyBusy(t *testing.T) {
	_, ctl, c := setup(t, "alice", "bob", "carol")
	ctl.Request(c["alice"], "bob")
	drain(t, c["bob"])
	drain(t, c["alice"])

	if err := ctl.Request(c["carol"], "bob"); err != ErrBusy {
		t.Fatalf("Request to ringing callee = %v, want ErrBusy", err)
	}
	if f := drain(t, c["carol"]); f.Type != protocol.TypeError {
		t.Fatalf("carol should get an error frame, got %v", f)
	}

	if err := ctl.Request(c["alice"], "carol"); err != ErrBusy {
		t.Fatalf("Request from ringing caller = %v, want ErrBusy", err)
	}
}

func TestCallRequestRejectsSelfCall(t *testing.T) {
	_, ctl, c := setup(t, "alice")
	if err := ctl.Request(c["alice"], "alice"); err != ErrSelfCall {
		t.Fatalf("got %v, want ErrSelfCall", err)
	}
}

func TestCallRequestTargetAbsent(t *testing.T) {
	_, ctl, c := setup(t, "alice")
	if err := ctl.Request(c["alice"], "ghost"); err != ErrTargetAbsent {
		t.Fatalf("got %v, want ErrTargetAbsent", err)
	}
	if f := drain(t, c["alice"]); f.Type != protocol.TypeError {
		t.Fatalf("alice should get an error frame, got %v", f)
	}
}

func TestDisconnectDuringCallNotifiesPartnerAndClearsMap(t *testing.T) {
	_, ctl, c := setup(t, "alice", "bob")
	ctl.Request(c["alice"], "bob")
	drain(t, c["bob"])
	drain(t, c["alice"])
	ctl.Accept(c["bob"], "alice")
	drain(t, c["alice"])
	drain(t, c["bob"])

	ctl.Disconnect(c["alice"])
	if f := drain(t, c["bob"]); f.Type != protocol.TypeCallEnded {
		t.Fatalf("bob got %v", f)
	}
	if len(ctl.ActiveCalls()) != 0 {
		t.Fatalf("active-call map not empty after Disconnect: %v", ctl.ActiveCalls())
	}
	if _, ok := ctl.Partner("bob"); ok {
		t.Fatal("bob should no longer have a partner")
	}
}

func TestDisconnectWhileRingingClearsPendingSilently(t *testing.T) {
	_, ctl, c := setup(t, "alice", "bob")
	ctl.Request(c["alice"], "bob")
	drain(t, c["bob"])
	drain(t, c["alice"])

	ctl.Disconnect(c["alice"])
	empty(t, c["bob"]) // caller vanished before accept/reject: no call_ended owed

	// Bob should now be free to initiate a call of his own; alice is still
	// registered and Idle, so this must succeed rather than return ErrBusy.
	if err := ctl.Request(c["bob"], "alice"); err != nil {
		t.Fatalf("Request after partner disconnect while ringing: %v", err)
	}
}

// TestActiveCallMapSymmetryUnderConcurrency checks that after many
// concurrent request/accept/end cycles across disjoint pairs, the map
// remains perfectly symmetric (every a->b has a matching b->a) with no stale
// entries left by a racing End/Disconnect.
func TestActiveCallMapSymmetryUnderConcurrency(t *testing.T) {
	names := []string{"a1", "b1", "a2", "b2", "a3", "b3", "a4", "b4"}
	_, ctl, c := setup(t, names...)

	var wg sync.WaitGroup
	for i := 0; i < len(names); i += 2 {
		caller, callee := c[names[i]], c[names[i+1]]
		wg.Add(1)
		go func(caller, callee *registry.Client) {
			defer wg.Done()
			if err := ctl.Request(caller, callee.Name); err != nil {
				return
			}
			if err := ctl.Accept(callee, caller.Name); err != nil {
				return
			}
			ctl.End(caller)
		}(caller, callee)
	}
	wg.Wait()

	active := ctl.ActiveCalls()
	for a, b := range active {
		back, ok := active[b]
		if !ok || back != a {
			t.Fatalf("asymmetric active-call entry: %s -> %s, reverse = %q (ok=%v)", a, b, back, ok)
		}
	}
}
