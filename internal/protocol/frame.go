// Package protocol defines the control-frame wire format, the voice datagram
// header layout, and the bounded-read primitives both are built from.
package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Frame type discriminators. Inbound types are sent by clients; outbound types
// are sent by the server. A few names are reused in both directions.
const (
	TypeLogin          = "login"
	TypeMessage        = "message"
	TypePrivateMessage = "private_message"
	TypeJoinRoom       = "join_room"
	TypeListRooms      = "list_rooms"
	TypeFileTransfer   = "file_transfer"
	TypeCallRequest    = "call_request"
	TypeCallAccept     = "call_accept"
	TypeCallReject     = "call_reject"
	TypeCallEnd        = "call_end"

	TypeLoginSuccess      = "login_success"
	TypeError             = "error"
	TypeNotification      = "notification"
	TypePrivateSent       = "private_sent"
	TypeRoomInfo          = "room_info"
	TypeRoomList          = "room_list"
	TypeUserList          = "user_list"
	TypeFileIncoming      = "file_incoming"
	TypeFileTransferReady = "file_transfer_ready"
	TypeFileSentConfirm   = "file_sent_confirm"
	TypeCallIncoming      = "call_incoming"
	TypeCallRinging       = "call_ringing"
	TypeCallStarted       = "call_started"
	TypeCallRejected      = "call_rejected"
	TypeCallEnded         = "call_ended"
)

// MaxNameLength bounds a client's display name, in bytes of UTF-8.
const MaxNameLength = 64

// RoomInfo is the payload shape of a room_info frame.
type RoomInfo struct {
	Room    string   `json:"room"`
	Members []string `json:"members"`
}

// Frame is the JSON control envelope exchanged over the control channel, one
// object per newline-terminated line. Payload is deliberately untyped
// (json.RawMessage): depending on Type it carries a bare string, an object, or
// an array — mirroring the wire contract exactly rather than forcing every
// shape through one Go field type.
type Frame struct {
	Type       string          `json:"type" validate:"required"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Target     string          `json:"target,omitempty" validate:"omitempty,max=64"`
	Sender     string          `json:"sender,omitempty"`
	Room       string          `json:"room,omitempty"`
	Filename   string          `json:"filename,omitempty" validate:"omitempty,max=255"`
	Filesize   int64           `json:"filesize,omitempty" validate:"omitempty,min=0"`
	TransferID string          `json:"transfer_id,omitempty"`
}

// NewTransferID generates a fresh identifier for one file relay request, so a
// client running several transfers at once can match each file_transfer_ready
// and file_incoming frame back to the upload that produced it.
func NewTransferID() string {
	return uuid.New().String()
}

func stringPayload(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// PayloadString decodes Payload as a bare string. Used by login, message,
// join_room, and the call_* signaling frames.
func (f Frame) PayloadString() (string, bool) {
	var s string
	if err := json.Unmarshal(f.Payload, &s); err != nil {
		return "", false
	}
	return s, true
}

// PayloadRoomInfo decodes Payload as a {room, members[]} object.
func (f Frame) PayloadRoomInfo() (RoomInfo, bool) {
	var ri RoomInfo
	if err := json.Unmarshal(f.Payload, &ri); err != nil {
		return RoomInfo{}, false
	}
	return ri, true
}

// PayloadRoomList decodes Payload as a room name -> member list map.
func (f Frame) PayloadRoomList() (map[string][]string, bool) {
	var m map[string][]string
	if err := json.Unmarshal(f.Payload, &m); err != nil {
		return nil, false
	}
	return m, true
}

// PayloadUserList decodes Payload as a list of names.
func (f Frame) PayloadUserList() ([]string, bool) {
	var names []string
	if err := json.Unmarshal(f.Payload, &names); err != nil {
		return nil, false
	}
	return names, true
}

// --- Outbound frame constructors ---

// LoginSuccess acknowledges a successful login.
func LoginSuccess() Frame { return Frame{Type: TypeLoginSuccess} }

// ErrorFrame reports a recoverable protocol or routing error to one client.
func ErrorFrame(reason string) Frame { return Frame{Type: TypeError, Payload: stringPayload(reason)} }

// Notification carries a human-readable system message (join/leave/room-change).
func Notification(text string) Frame { return Frame{Type: TypeNotification, Payload: stringPayload(text)} }

// MessageOut is a room broadcast relayed to every other member.
func MessageOut(sender, room, payload string) Frame {
	return Frame{Type: TypeMessage, Sender: sender, Room: room, Payload: stringPayload(payload)}
}

// PrivateMessageOut is delivered to the DM target.
func PrivateMessageOut(sender, payload string) Frame {
	return Frame{Type: TypePrivateMessage, Sender: sender, Payload: stringPayload(payload)}
}

// PrivateSentOut confirms delivery back to the DM sender.
func PrivateSentOut(target, payload string) Frame {
	return Frame{Type: TypePrivateSent, Target: target, Payload: stringPayload(payload)}
}

// RoomInfoOut reports a client's current room and its membership.
func RoomInfoOut(room string, members []string) Frame {
	b, _ := json.Marshal(RoomInfo{Room: room, Members: members})
	return Frame{Type: TypeRoomInfo, Payload: b}
}

// RoomListOut reports every room and its membership.
func RoomListOut(rooms map[string][]string) Frame {
	b, _ := json.Marshal(rooms)
	return Frame{Type: TypeRoomList, Payload: b}
}

// UserListOut reports every connected client's name.
func UserListOut(names []string) Frame {
	b, _ := json.Marshal(names)
	return Frame{Type: TypeUserList, Payload: b}
}

// FileIncomingOut precedes the 4-byte length prefix and raw payload bytes on
// the recipient's control channel.
func FileIncomingOut(sender, filename string, filesize int64, target, transferID string) Frame {
	return Frame{Type: TypeFileIncoming, Sender: sender, Filename: filename, Filesize: filesize, Target: target, TransferID: transferID}
}

// FileTransferReady tells the sender to start writing the length-prefixed
// blob for the request identified by transferID.
func FileTransferReady(transferID string) Frame {
	return Frame{Type: TypeFileTransferReady, TransferID: transferID}
}

// FileSentConfirm acknowledges the sender's completed upload of transferID.
func FileSentConfirm(transferID string) Frame {
	return Frame{Type: TypeFileSentConfirm, TransferID: transferID}
}

// CallIncomingOut notifies a callee of an incoming call.
func CallIncomingOut(caller string) Frame {
	return Frame{Type: TypeCallIncoming, Payload: stringPayload(caller)}
}

// CallRingingOut confirms to the caller that signaling is in flight.
func CallRingingOut() Frame { return Frame{Type: TypeCallRinging} }

// CallStartedOut notifies one party that the call is live, naming the partner.
func CallStartedOut(partner string) Frame {
	return Frame{Type: TypeCallStarted, Payload: stringPayload(partner)}
}

// CallRejectedOut notifies the caller that the callee declined.
func CallRejectedOut(reason string) Frame {
	return Frame{Type: TypeCallRejected, Payload: stringPayload(reason)}
}

// CallEndedOut notifies a party that the call ended, with a reason string.
func CallEndedOut(reason string) Frame {
	return Frame{Type: TypeCallEnded, Payload: stringPayload(reason)}
}

// --- Inbound frame constructors (used by tests and any in-process client) ---

// Login claims a display name.
func Login(name string) Frame { return Frame{Type: TypeLogin, Payload: stringPayload(name)} }

// Message broadcasts payload to the sender's current room.
func Message(payload string) Frame { return Frame{Type: TypeMessage, Payload: stringPayload(payload)} }

// PrivateMessage sends payload to target.
func PrivateMessage(target, payload string) Frame {
	return Frame{Type: TypePrivateMessage, Target: target, Payload: stringPayload(payload)}
}

// JoinRoom requests a room switch.
func JoinRoom(room string) Frame { return Frame{Type: TypeJoinRoom, Payload: stringPayload(room)} }

// ListRooms requests the room directory.
func ListRooms() Frame { return Frame{Type: TypeListRooms} }

// FileTransfer announces an upcoming file blob; target is optional (empty =
// room broadcast). transferID should come from NewTransferID.
func FileTransfer(filename string, filesize int64, target, transferID string) Frame {
	return Frame{Type: TypeFileTransfer, Filename: filename, Filesize: filesize, Target: target, TransferID: transferID}
}

// CallRequest initiates a call with target.
func CallRequest(target string) Frame { return Frame{Type: TypeCallRequest, Payload: stringPayload(target)} }

// CallAccept accepts a pending call from caller.
func CallAccept(caller string) Frame { return Frame{Type: TypeCallAccept, Payload: stringPayload(caller)} }

// CallReject declines a pending call from caller.
func CallReject(caller string) Frame { return Frame{Type: TypeCallReject, Payload: stringPayload(caller)} }

// CallEnd hangs up; the payload name is advisory only.
func CallEnd(partner string) Frame { return Frame{Type: TypeCallEnd, Payload: stringPayload(partner)} }
