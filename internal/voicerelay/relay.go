// Package voicerelay runs the single worker bound to the voice datagram
// socket: it learns each client's return address from traffic,
// looks up the active call partner, and forwards stripped audio bytes.
package voicerelay

import (
	"context"
	"log/slog"
	"net"

	"chatrelay/internal/callctl"
	"chatrelay/internal/metrics"
	"chatrelay/internal/protocol"
	"chatrelay/internal/registry"
)

// Relay owns the UDP voice socket for the process lifetime.
type Relay struct {
	conn  *net.UDPConn
	reg   *registry.Registry
	calls *callctl.Controller
}

// Listen binds addr (e.g. ":5556") and returns a Relay ready to Serve.
func Listen(addr string, reg *registry.Registry, calls *callctl.Controller) (*Relay, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Relay{conn: conn, reg: reg, calls: calls}, nil
}

// Close releases the voice socket.
func (r *Relay) Close() error {
	return r.conn.Close()
}

// Serve reads datagrams until ctx is canceled or the socket closes. It never
// returns an error for a single bad datagram — per spec, voice is
// best-effort and drops are silent (bar a debug log).
func (r *Relay) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	buf := make([]byte, protocol.MaxVoiceDatagramSize)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("voice relay read error", "err", err)
			continue
		}
		r.handleDatagram(buf[:n], src)
	}
}

func (r *Relay) handleDatagram(data []byte, src *net.UDPAddr) {
	dg, err := protocol.DecodeVoiceDatagram(data)
	if err != nil {
		metrics.VoiceDropsTotal.Inc()
		slog.Debug("voice relay malformed datagram", "src", src, "err", err)
		return
	}
	if dg.Name == "" {
		metrics.VoiceDropsTotal.Inc()
		return
	}

	r.reg.SetVoiceEndpoint(dg.Name, src)

	partnerName, ok := r.calls.Partner(dg.Name)
	if !ok {
		metrics.VoiceDropsTotal.Inc()
		return
	}
	partner, err := r.reg.Get(partnerName)
	if err != nil {
		metrics.VoiceDropsTotal.Inc()
		return
	}
	dst := partner.VoiceEndpoint()
	if dst == nil {
		metrics.VoiceDropsTotal.Inc()
		return
	}
	udpDst, ok := dst.(*net.UDPAddr)
	if !ok {
		metrics.VoiceDropsTotal.Inc()
		return
	}

	if _, err := r.conn.WriteToUDP(dg.Audio, udpDst); err != nil {
		slog.Debug("voice relay forward failed", "to", partnerName, "err", err)
		return
	}
	metrics.VoiceDatagramsTotal.Inc()
	metrics.AddVoiceBytes(len(dg.Audio))
}
