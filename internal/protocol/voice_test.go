package protocol

import "testing"

func TestEncodeDecodeVoiceDatagramRoundTrip(t *testing.T) {
	audio := []byte{1, 2, 3, 4, 5}
	data := EncodeVoiceDatagram("alice", audio)

	got, err := DecodeVoiceDatagram(data)
	if err != nil {
		t.Fatalf("DecodeVoiceDatagram: %v", err)
	}
	if got.Name != "alice" {
		t.Fatalf("name = %q, want alice", got.Name)
	}
	if string(got.Audio) != string(audio) {
		t.Fatalf("audio = %v, want %v", got.Audio, audio)
	}
}

func TestDecodeVoiceDatagramTooShort(t *testing.T) {
	if _, err := DecodeVoiceDatagram([]byte{0}); err == nil {
		t.Fatal("expected error for too-short datagram")
	}
}

func TestDecodeVoiceDatagramNameLengthOverflow(t *testing.T) {
	// name_length = 100 but only 2 bytes of payload follow.
	data := []byte{0, 100, 'a', 'b'}
	if _, err := DecodeVoiceDatagram(data); err == nil {
		t.Fatal("expected error for name_length overflow")
	}
}

func TestDecodeVoiceDatagramEmptyName(t *testing.T) {
	data := EncodeVoiceDatagram("", []byte{9, 9})
	got, err := DecodeVoiceDatagram(data)
	if err != nil {
		t.Fatalf("DecodeVoiceDatagram: %v", err)
	}
	if got.Name != "" {
		t.Fatalf("name = %q, want empty", got.Name)
	}
	if len(got.Audio) != 2 {
		t.Fatalf("audio len = %d, want 2", len(got.Audio))
	}
}
