package voicerelay

import (
	"context"
	"net"
	"testing"
	"time"

	"chatrelay/internal/callctl"
	"chatrelay/internal/protocol"
	"chatrelay/internal/registry"
)

func TestRelayForwardsAudioToActiveCallPartner(t *testing.T) {
	reg := registry.New()
	calls := callctl.New(reg)
	alice, _ := reg.Register("alice")
	bob, _ := reg.Register("bob")

	if err := calls.Request(alice, "bob"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := calls.Accept(bob, "alice"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	relay, err := Listen("127.0.0.1:0", reg, calls)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer relay.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Serve(ctx)

	relayAddr := relay.conn.LocalAddr().(*net.UDPAddr)

	aliceSock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("alice socket: %v", err)
	}
	defer aliceSock.Close()
	bobSock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("bob socket: %v", err)
	}
	defer bobSock.Close()

	// Bob speaks first so the relay learns his return address.
	bobDatagram := protocol.EncodeVoiceDatagram("bob", []byte("bob-audio"))
	if _, err := bobSock.WriteToUDP(bobDatagram, relayAddr); err != nil {
		t.Fatalf("bob write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// Now alice speaks; the relay should forward stripped audio to bob.
	aliceDatagram := protocol.EncodeVoiceDatagram("alice", []byte("alice-audio"))
	if _, err := aliceSock.WriteToUDP(aliceDatagram, relayAddr); err != nil {
		t.Fatalf("alice write: %v", err)
	}

	bobSock.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, _, err := bobSock.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("bob did not receive forwarded audio: %v", err)
	}
	if string(buf[:n]) != "alice-audio" {
		t.Fatalf("got %q, want stripped audio %q", buf[:n], "alice-audio")
	}
}

func TestRelayDropsDatagramWithNoActiveCall(t *testing.T) {
	reg := registry.New()
	calls := callctl.New(reg)
	reg.Register("alice")

	relay, err := Listen("127.0.0.1:0", reg, calls)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer relay.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Serve(ctx)

	relayAddr := relay.conn.LocalAddr().(*net.UDPAddr)
	sock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	defer sock.Close()

	datagram := protocol.EncodeVoiceDatagram("alice", []byte("lonely-audio"))
	if _, err := sock.WriteToUDP(datagram, relayAddr); err != nil {
		t.Fatalf("write: %v", err)
	}

	// No partner exists, so nothing should ever arrive back on this socket;
	// a short deadline proves silence rather than hanging the test suite.
	sock.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 64)
	if _, _, err := sock.ReadFromUDP(buf); err == nil {
		t.Fatal("expected no datagram to be forwarded without an active call")
	}
}
