// Package discovery advertises a running relay on the local network via
// mDNS, so clients can find it without being told its address. Purely
// additive: the wire protocol and every invariant it upholds are unaffected
// whether or not this is enabled.
package discovery

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type relays advertise under.
const ServiceType = "_chatrelay._tcp"

// Advertisement wraps a registered mDNS service record.
type Advertisement struct {
	svc *zeroconf.Server
}

// Advertise registers a service record for the relay listening on
// controlPort/voicePort. instance names the service; if empty, a name is
// derived from the local hostname. The control and voice ports are carried
// as TXT record key=value pairs so a discovering client need only dial this
// one advertised instance.
func Advertise(instance string, controlPort, voicePort int) (*Advertisement, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "relay"
		}
		instance = fmt.Sprintf("chatrelay-%s", host)
	}

	txt := []string{
		"control_port=" + strconv.Itoa(controlPort),
		"voice_port=" + strconv.Itoa(voicePort),
	}

	svc, err := zeroconf.Register(instance, ServiceType, "local.", controlPort, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	return &Advertisement{svc: svc}, nil
}

// Shutdown unregisters the service record. Safe to call once; the caller is
// expected to run it at process shutdown alongside every other listener
// teardown.
func (a *Advertisement) Shutdown() {
	if a == nil || a.svc == nil {
		return
	}
	a.svc.Shutdown()
	time.Sleep(50 * time.Millisecond)
}

// Run registers the advertisement and unregisters it automatically when ctx
// is cancelled, matching the lifecycle of the control/voice listeners it
// advertises.
func Run(ctx context.Context, instance string, controlPort, voicePort int) (*Advertisement, error) {
	adv, err := Advertise(instance, controlPort, voicePort)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		adv.Shutdown()
	}()
	return adv, nil
}
