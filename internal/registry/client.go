package registry

import (
	"log/slog"
	"net"
	"sync"

	"chatrelay/internal/protocol"
)

// mailboxSize bounds the number of outbound frames queued for one client
// before the sender is considered unresponsive (see §9 backpressure).
const mailboxSize = 256

// Client is the Registry's record for one connected, logged-in session. All
// mutation of Room/VoiceEndpoint happens through Registry methods; Client
// itself only owns the single-writer outbound mailbox and the voice
// datagram sender.
type Client struct {
	Name string

	mu   sync.Mutex
	room string // current room name; protected by mu

	voiceMu  sync.Mutex
	voiceEP  net.Addr // last-known voice endpoint; nil until learned

	// mailbox is drained by this client's own session goroutine so that a
	// slow client's control write never blocks the broadcaster holding the
	// Registry lock (§5 per-channel writer discipline, §9 backpressure). A
	// single goroutine draining one channel in order is what gives the
	// file-relay item its atomicity: nothing else can interleave a
	// write onto the connection between the header frame and the blob.
	mailbox chan Outbound
	closeMu sync.Mutex
	closed  bool
}

// Outbound is one unit of work for a client's writer goroutine: a control
// frame, optionally followed by a length-prefixed binary blob. Queuing both
// together as one item guarantees they reach the wire back-to-back.
type Outbound struct {
	Frame protocol.Frame
	Blob  []byte // nil unless Frame is a file_incoming header
	HasBlob bool
}

// newClient constructs a Client with an open mailbox.
func newClient(name, room string) *Client {
	return &Client{
		Name:    name,
		room:    room,
		mailbox: make(chan Outbound, mailboxSize),
	}
}

// Room returns the client's current room name.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(room string) {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
}

// VoiceEndpoint returns the last-known voice datagram source address, or nil
// if the client has never sent one.
func (c *Client) VoiceEndpoint() net.Addr {
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()
	return c.voiceEP
}

func (c *Client) setVoiceEndpoint(addr net.Addr) {
	c.voiceMu.Lock()
	c.voiceEP = addr
	c.voiceMu.Unlock()
}

// Mailbox returns the channel the client's session writer goroutine should
// range over to emit frames (and occasional blobs) to the control channel.
func (c *Client) Mailbox() <-chan Outbound {
	return c.mailbox
}

// Send enqueues a frame for delivery. It never blocks the caller: if the
// mailbox is full the frame is dropped and logged, treating the recipient as
// unresponsive rather than stalling unrelated routing (§9).
func (c *Client) Send(f protocol.Frame) {
	c.enqueue(Outbound{Frame: f})
}

// SendFile enqueues a file_incoming header frame together with its raw blob
// as a single atomic unit: the writer goroutine emits the frame, then
// the length-prefixed blob, with nothing else able to interleave.
func (c *Client) SendFile(header protocol.Frame, blob []byte) {
	c.enqueue(Outbound{Frame: header, Blob: blob, HasBlob: true})
}

func (c *Client) enqueue(item Outbound) {
	c.closeMu.Lock()
	closed := c.closed
	c.closeMu.Unlock()
	if closed {
		return
	}
	select {
	case c.mailbox <- item:
	default:
		slog.Warn("client mailbox full, dropping frame", "client", c.Name, "type", item.Frame.Type)
	}
}

// closeMailbox closes the mailbox exactly once so the writer goroutine exits.
func (c *Client) closeMailbox() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.mailbox)
}
