// Package session implements one logical worker per accepted control
// connection: login, frame dispatch, file relay, and teardown.
package session

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"chatrelay/internal/callctl"
	"chatrelay/internal/events"
	"chatrelay/internal/metrics"
	"chatrelay/internal/protocol"
	"chatrelay/internal/ratelimit"
	"chatrelay/internal/registry"
)

// loginTimeout bounds how long a freshly accepted connection has to send a
// valid login frame before the handler gives up.
const loginTimeout = 30 * time.Second

// maxFileSize bounds an in-memory file relay buffer; large enough for the
// attachments this relay is meant for, small enough to bound one client's
// worst-case footprint.
const maxFileSize = 64 << 20 // 64 MiB

// Handler holds the collaborators shared by every session; each Serve call
// runs one accepted net.Conn for that connection's entire lifetime.
type Handler struct {
	reg     *registry.Registry
	calls   *callctl.Controller
	limiter *ratelimit.Limiter
	hub     *events.Hub // optional; nil is valid and simply disables admin event publishing
}

// NewHandler binds a Handler to the shared Registry and Controller. hub may
// be nil, in which case join/leave/room-change events are not published to
// the admin feed.
func NewHandler(reg *registry.Registry, calls *callctl.Controller, limiter *ratelimit.Limiter, hub *events.Hub) *Handler {
	return &Handler{reg: reg, calls: calls, limiter: limiter, hub: hub}
}

func (h *Handler) publish(evt events.Event) {
	if h.hub != nil {
		h.hub.Publish(evt)
	}
}

// Serve runs one session to completion: login, dispatch loop, teardown.
// It blocks until the connection closes or the handler ends it.
func (h *Handler) Serve(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer conn.Close()

	r := protocol.NewReader(conn)

	client, err := h.login(conn, r, remote)
	if err != nil {
		slog.Debug("session login failed", "remote", remote, "err", err)
		return
	}

	writerDone := make(chan struct{})
	go h.runWriter(conn, client, writerDone)

	slog.Info("session authenticated", "client", client.Name, "remote", remote)
	h.dispatchLoop(conn, r, client)

	h.teardown(client)
	<-writerDone
}

// login reads exactly one frame within loginTimeout and expects
// login{payload: name}.
func (h *Handler) login(conn net.Conn, r *protocol.Reader, remote string) (*registry.Client, error) {
	_ = conn.SetReadDeadline(time.Now().Add(loginTimeout))
	f, err := r.ReadFrame()
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, err
	}
	if f.Type != protocol.TypeLogin {
		protocol.WriteFrame(conn, protocol.ErrorFrame("first frame must be login"))
		return nil, errors.New("first frame was not login")
	}
	name, ok := f.PayloadString()
	if !ok {
		protocol.WriteFrame(conn, protocol.ErrorFrame("login payload must be a name string"))
		return nil, errors.New("login payload not a string")
	}

	client, err := h.reg.Register(name)
	if err != nil {
		reason := "name already taken"
		if errors.Is(err, registry.ErrInvalidName) {
			reason = "invalid name"
		}
		protocol.WriteFrame(conn, protocol.ErrorFrame(reason))
		return nil, err
	}

	room := client.Room()
	client.Send(protocol.LoginSuccess())
	client.Send(protocol.RoomInfoOut(room, h.reg.SnapshotRoom(room)))
	h.reg.BroadcastAll("", protocol.UserListOut(h.reg.SnapshotUsers()))
	h.reg.Broadcast(room, client.Name, protocol.Notification(client.Name+" joined the chat!"))
	h.publish(events.Event{Type: events.TypeUserJoined, Data: client.Name})
	return client, nil
}

// runWriter drains client's mailbox onto conn until the mailbox is closed or
// a write fails. It is the sole writer to conn, so a queued
// file_incoming header and its length-prefixed blob always reach the wire
// back-to-back with nothing else interleaved.
func (h *Handler) runWriter(conn net.Conn, client *registry.Client, done chan<- struct{}) {
	defer close(done)
	for item := range client.Mailbox() {
		if err := protocol.WriteFrame(conn, item.Frame); err != nil {
			slog.Debug("session write failed", "client", client.Name, "err", err)
			conn.Close()
			continue
		}
		if item.HasBlob {
			if err := protocol.WriteLengthPrefixed(conn, item.Blob); err != nil {
				slog.Debug("session blob write failed", "client", client.Name, "err", err)
				conn.Close()
			}
		}
	}
}

func (h *Handler) dispatchLoop(conn net.Conn, r *protocol.Reader, client *registry.Client) {
	for {
		f, err := r.ReadFrame()
		if err != nil {
			var malformed *protocol.MalformedFrameError
			if errors.As(err, &malformed) {
				slog.Debug("skipping malformed control frame", "client", client.Name, "err", err)
				continue
			}
			if err != io.EOF {
				slog.Debug("session read ended", "client", client.Name, "err", err)
			}
			return
		}
		if err := f.Validate(); err != nil {
			slog.Debug("rejecting malformed control frame", "client", client.Name, "type", f.Type, "err", err)
			client.Send(protocol.ErrorFrame("malformed frame"))
			continue
		}
		if h.limiter != nil && !h.limiter.Allow(client.Name) {
			client.Send(protocol.ErrorFrame("rate limit exceeded"))
			continue
		}
		h.dispatch(conn, r, client, f)
	}
}

func (h *Handler) dispatch(conn net.Conn, r *protocol.Reader, client *registry.Client, f protocol.Frame) {
	switch f.Type {
	case protocol.TypeMessage:
		payload, _ := f.PayloadString()
		if payload == "" {
			return
		}
		h.reg.Broadcast(client.Room(), client.Name, protocol.MessageOut(client.Name, client.Room(), payload))

	case protocol.TypePrivateMessage:
		payload, _ := f.PayloadString()
		target, err := h.reg.Get(f.Target)
		if err != nil {
			client.Send(protocol.ErrorFrame("no such user: " + f.Target))
			return
		}
		target.Send(protocol.PrivateMessageOut(client.Name, payload))
		client.Send(protocol.PrivateSentOut(f.Target, payload))

	case protocol.TypeJoinRoom:
		room, ok := f.PayloadString()
		if !ok || room == "" {
			client.Send(protocol.ErrorFrame("join_room payload must be a room name"))
			return
		}
		h.handleJoinRoom(client, room)

	case protocol.TypeListRooms:
		client.Send(protocol.RoomListOut(h.reg.SnapshotRooms()))

	case protocol.TypeCallRequest:
		target, _ := f.PayloadString()
		if err := h.calls.Request(client, target); err != nil {
			slog.Debug("call_request rejected", "caller", client.Name, "target", target, "err", err)
		}

	case protocol.TypeCallAccept:
		caller, _ := f.PayloadString()
		if err := h.calls.Accept(client, caller); err != nil {
			slog.Debug("call_accept rejected", "callee", client.Name, "caller", caller, "err", err)
		}

	case protocol.TypeCallReject:
		caller, _ := f.PayloadString()
		if err := h.calls.Reject(client, caller); err != nil {
			slog.Debug("call_reject rejected", "callee", client.Name, "caller", caller, "err", err)
		}

	case protocol.TypeCallEnd:
		if err := h.calls.End(client); err != nil {
			slog.Debug("call_end no-op", "client", client.Name, "err", err)
		}

	case protocol.TypeFileTransfer:
		h.relayFile(conn, r, client, f)

	default:
		slog.Debug("ignoring unknown frame type", "client", client.Name, "type", f.Type)
	}
}

func (h *Handler) handleJoinRoom(client *registry.Client, room string) {
	old, err := h.reg.SetRoom(client.Name, room)
	if err != nil {
		return
	}
	if old == room {
		return
	}
	h.reg.Broadcast(old, client.Name, protocol.Notification(client.Name+" left the room"))
	h.reg.Broadcast(room, client.Name, protocol.Notification(client.Name+" joined the room"))
	client.Send(protocol.RoomInfoOut(room, h.reg.SnapshotRoom(room)))
	h.reg.BroadcastAll("", protocol.UserListOut(h.reg.SnapshotUsers()))
	h.publish(events.Event{Type: events.TypeRoomChanged, Data: map[string]string{"client": client.Name, "from": old, "to": room}})
}

// relayFile runs the file relay sub-protocol for one file_transfer request.
// The full payload is buffered in memory, then forwarded to the target or
// broadcast to the sender's room as a single atomic file_incoming+length+bytes
// unit per recipient.
func (h *Handler) relayFile(conn net.Conn, r *protocol.Reader, client *registry.Client, f protocol.Frame) {
	if f.Filesize < 0 || f.Filesize > maxFileSize {
		client.Send(protocol.ErrorFrame("file too large"))
		return
	}

	transferID := f.TransferID
	if transferID == "" {
		transferID = protocol.NewTransferID()
	}
	client.Send(protocol.FileTransferReady(transferID))

	declaredLen, err := r.ReadLengthPrefix()
	if err != nil {
		slog.Debug("file transfer length prefix read failed", "client", client.Name, "err", err)
		return
	}
	if int64(declaredLen) != f.Filesize {
		slog.Warn("file transfer length mismatch, aborting this request",
			"client", client.Name, "declared", f.Filesize, "prefix", declaredLen)
		return
	}

	blob, err := r.ReadExact(int(declaredLen))
	if err != nil {
		slog.Debug("file transfer payload read failed, aborting", "client", client.Name, "err", err)
		client.Send(protocol.ErrorFrame("file transfer interrupted"))
		return
	}

	client.Send(protocol.FileSentConfirm(transferID))

	header := protocol.FileIncomingOut(client.Name, f.Filename, f.Filesize, f.Target, transferID)

	if f.Target != "" {
		target, err := h.reg.Get(f.Target)
		if err != nil {
			client.Send(protocol.ErrorFrame("no such user: " + f.Target))
			return
		}
		target.SendFile(header, blob)
		metrics.FileTransfersTotal.Inc()
		return
	}

	room := client.Room()
	for _, name := range h.reg.SnapshotRoom(room) {
		if name == client.Name {
			continue
		}
		target, err := h.reg.Get(name)
		if err != nil {
			continue
		}
		target.SendFile(header, blob)
	}
	metrics.FileTransfersTotal.Inc()
}

// teardown runs unregistration and the associated notifications exactly
// once for a session that has stopped reading. Call teardown
// happens first so the active-call map never outlives the Registry entry it
// routes for.
func (h *Handler) teardown(client *registry.Client) {
	h.calls.Disconnect(client)
	if removed := h.reg.Unregister(client.Name); !removed {
		return
	}
	if h.limiter != nil {
		h.limiter.Forget(client.Name)
	}
	h.reg.BroadcastAll(client.Name, protocol.Notification(client.Name+" left the chat!"))
	h.reg.BroadcastAll("", protocol.UserListOut(h.reg.SnapshotUsers()))
	h.publish(events.Event{Type: events.TypeUserLeft, Data: client.Name})
	slog.Info("session ended", "client", client.Name)
}
