package protocol

import (
	"encoding/binary"
	"fmt"
)

// voiceHeaderMin is the minimum datagram size: a 2-byte name length prefix
// plus at least an empty name.
const voiceHeaderMin = 2

// MaxVoiceDatagramSize bounds a single voice datagram (header + audio), large
// enough for a generous Opus frame with headroom.
const MaxVoiceDatagramSize = 4096

// VoiceDatagram is a parsed inbound voice packet: [2B name_length][name][audio].
type VoiceDatagram struct {
	Name  string
	Audio []byte
}

// DecodeVoiceDatagram parses the voice datagram wire layout:
// uint16_be name_length || UTF-8 name || opaque audio bytes.
func DecodeVoiceDatagram(data []byte) (VoiceDatagram, error) {
	if len(data) < voiceHeaderMin {
		return VoiceDatagram{}, fmt.Errorf("voice datagram too short: %d bytes", len(data))
	}
	nameLen := int(binary.BigEndian.Uint16(data[:2]))
	if nameLen > len(data)-voiceHeaderMin {
		return VoiceDatagram{}, fmt.Errorf("voice datagram name_length %d exceeds payload", nameLen)
	}
	name := string(data[voiceHeaderMin : voiceHeaderMin+nameLen])
	audio := data[voiceHeaderMin+nameLen:]
	return VoiceDatagram{Name: name, Audio: audio}, nil
}

// EncodeVoiceDatagram packs name and audio into the wire layout. Used by test
// harnesses that simulate a client's voice sender.
func EncodeVoiceDatagram(name string, audio []byte) []byte {
	out := make([]byte, voiceHeaderMin+len(name)+len(audio))
	binary.BigEndian.PutUint16(out[:2], uint16(len(name)))
	copy(out[voiceHeaderMin:], name)
	copy(out[voiceHeaderMin+len(name):], audio)
	return out
}
