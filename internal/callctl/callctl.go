// Package callctl implements the voice-call signaling state machine:
// call_request/accept/reject/end and the symmetric active-call map that the
// voice relay consults to route audio datagrams.
package callctl

import (
	"errors"
	"sync"

	"chatrelay/internal/events"
	"chatrelay/internal/protocol"
	"chatrelay/internal/registry"
)

var (
	ErrSelfCall     = errors.New("cannot call self")
	ErrTargetAbsent = errors.New("target not connected")
	ErrBusy         = errors.New("party already engaged in a call")
	ErrNotRinging   = errors.New("no pending call from that caller")
	ErrNotInCall    = errors.New("not currently in a call")
)

// Controller owns the active-call map and the transient ringing state. Per
// client, state is one of Idle, Ringing(as-caller), Ringing(as-callee), or
// InCall(partner) — but only InCall is materialized in a map, since that is
// the only state the voice relay needs to route audio. Ringing state
// lives in two small maps only for the duration between call_request and
// its accept/reject/disconnect.
//
// Lock order: any path holding both the Registry lock and this controller's
// lock must acquire the Registry first. The methods here never
// call back into the Registry while holding mu, so that ordering is
// automatic.
type Controller struct {
	reg *registry.Registry
	hub *events.Hub // optional; nil disables admin event publishing

	mu              sync.Mutex
	pendingByCaller map[string]string // caller -> callee
	pendingByCallee map[string]string // callee -> caller
	active          map[string]string // symmetric: a->b and b->a both present
}

// New returns an empty Controller bound to reg for target lookups and
// delivery, with no admin event publishing.
func New(reg *registry.Registry) *Controller {
	return NewWithHub(reg, nil)
}

// NewWithHub is like New but publishes call lifecycle events to hub for the
// admin surface's live feed.
func NewWithHub(reg *registry.Registry, hub *events.Hub) *Controller {
	return &Controller{
		reg:             reg,
		hub:             hub,
		pendingByCaller: make(map[string]string),
		pendingByCallee: make(map[string]string),
		active:          make(map[string]string),
	}
}

func (c *Controller) publish(evt events.Event) {
	if c.hub != nil {
		c.hub.Publish(evt)
	}
}

func (c *Controller) busyLocked(name string) bool {
	if _, ok := c.active[name]; ok {
		return true
	}
	if _, ok := c.pendingByCaller[name]; ok {
		return true
	}
	if _, ok := c.pendingByCallee[name]; ok {
		return true
	}
	return false
}

// Request handles call_request(target) from caller. On any failure it sends
// an error frame to caller itself and returns a sentinel error for the
// session handler to log; on success it sends call_incoming to target and
// call_ringing to caller.
func (c *Controller) Request(caller *registry.Client, target string) error {
	if caller.Name == target {
		caller.Send(protocol.ErrorFrame("cannot call yourself"))
		return ErrSelfCall
	}
	callee, err := c.reg.Get(target)
	if err != nil {
		caller.Send(protocol.ErrorFrame("no such user: " + target))
		return ErrTargetAbsent
	}

	c.mu.Lock()
	if c.busyLocked(caller.Name) || c.busyLocked(target) {
		c.mu.Unlock()
		caller.Send(protocol.ErrorFrame(target + " is already on a call"))
		return ErrBusy
	}
	c.pendingByCaller[caller.Name] = target
	c.pendingByCallee[target] = caller.Name
	c.mu.Unlock()

	callee.Send(protocol.CallIncomingOut(caller.Name))
	caller.Send(protocol.CallRingingOut())
	return nil
}

// Accept handles call_accept(callerName) sent by callee. Promotes both
// parties to InCall and records the pair symmetrically in the active-call
// map before either call_started frame goes out.
func (c *Controller) Accept(callee *registry.Client, callerName string) error {
	c.mu.Lock()
	expected, ok := c.pendingByCallee[callee.Name]
	if !ok || expected != callerName {
		c.mu.Unlock()
		callee.Send(protocol.ErrorFrame("no pending call from " + callerName))
		return ErrNotRinging
	}
	delete(c.pendingByCaller, callerName)
	delete(c.pendingByCallee, callee.Name)
	c.active[callerName] = callee.Name
	c.active[callee.Name] = callerName
	c.mu.Unlock()

	caller, err := c.reg.Get(callerName)
	if err != nil {
		c.mu.Lock()
		delete(c.active, callerName)
		delete(c.active, callee.Name)
		c.mu.Unlock()
		callee.Send(protocol.ErrorFrame(callerName + " is no longer connected"))
		return ErrTargetAbsent
	}

	caller.Send(protocol.CallStartedOut(callee.Name))
	callee.Send(protocol.CallStartedOut(callerName))
	c.publish(events.Event{Type: events.TypeCallStarted, Data: map[string]string{"caller": callerName, "callee": callee.Name}})
	return nil
}

// Reject handles call_reject(callerName) sent by callee.
func (c *Controller) Reject(callee *registry.Client, callerName string) error {
	c.mu.Lock()
	expected, ok := c.pendingByCallee[callee.Name]
	if !ok || expected != callerName {
		c.mu.Unlock()
		return ErrNotRinging
	}
	delete(c.pendingByCaller, callerName)
	delete(c.pendingByCallee, callee.Name)
	c.mu.Unlock()

	if caller, err := c.reg.Get(callerName); err == nil {
		caller.Send(protocol.CallRejectedOut(callee.Name + " declined the call"))
	}
	return nil
}

// End handles call_end from either party while InCall. The caller's payload
// naming a partner is advisory only and ignored — the real partner is always
// whatever the active-call map records for self. A second call_end for an
// already-Idle client is a no-op.
func (c *Controller) End(self *registry.Client) error {
	c.mu.Lock()
	partnerName, ok := c.active[self.Name]
	if !ok {
		c.mu.Unlock()
		return ErrNotInCall
	}
	delete(c.active, self.Name)
	delete(c.active, partnerName)
	c.mu.Unlock()

	if partner, err := c.reg.Get(partnerName); err == nil {
		partner.Send(protocol.CallEndedOut(self.Name + " ended the call"))
	}
	self.Send(protocol.CallEndedOut("Call ended"))
	c.publish(events.Event{Type: events.TypeCallEnded, Data: map[string]string{"a": self.Name, "b": partnerName}})
	return nil
}

// Disconnect tears down any call state for self on session teardown. If self
// was InCall, the partner is notified with call_ended and both active-call
// entries are removed atomically; if self was only Ringing, the pending
// entry is dropped silently since no partner has committed to anything yet.
// Safe to call on an already-Idle client.
func (c *Controller) Disconnect(self *registry.Client) {
	c.mu.Lock()
	partnerName, wasInCall := c.active[self.Name]
	if wasInCall {
		delete(c.active, self.Name)
		delete(c.active, partnerName)
	}
	if target, ok := c.pendingByCaller[self.Name]; ok {
		delete(c.pendingByCaller, self.Name)
		delete(c.pendingByCallee, target)
	}
	if caller, ok := c.pendingByCallee[self.Name]; ok {
		delete(c.pendingByCallee, self.Name)
		delete(c.pendingByCaller, caller)
	}
	c.mu.Unlock()

	if wasInCall {
		if partner, err := c.reg.Get(partnerName); err == nil {
			partner.Send(protocol.CallEndedOut(self.Name + " disconnected"))
		}
		c.publish(events.Event{Type: events.TypeCallEnded, Data: map[string]string{"a": self.Name, "b": partnerName}})
	}
}

// Partner returns the name self is currently InCall with, for voice-relay
// routing. ok is false when self is Idle or merely Ringing.
func (c *Controller) Partner(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.active[name]
	return p, ok
}

// ActiveCalls returns a snapshot of the active-call map. Each established
// call appears as two entries, one per direction, mirroring the symmetry the
// map itself maintains.
func (c *Controller) ActiveCalls() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := make(map[string]string, len(c.active))
	for k, v := range c.active {
		snap[k] = v
	}
	return snap
}

// CallPair names one established call by its two participants.
type CallPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Snapshot returns each established call exactly once, for the admin
// surface's read-only /api/calls view.
func (c *Controller) Snapshot() []CallPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	pairs := make([]CallPair, 0, len(c.active)/2)
	seen := make(map[string]bool, len(c.active))
	for a, b := range c.active {
		if seen[a] || seen[b] {
			continue
		}
		seen[a], seen[b] = true, true
		pairs = append(pairs, CallPair{A: a, B: b})
	}
	return pairs
}
