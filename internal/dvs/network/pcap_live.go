//go:build pcap

package network

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/pcap"
)

// OpenLiveCapture captures event datagrams from a network interface. It
// needs libpcap and the pcap build tag.
func OpenLiveCapture(device string, cfg PCAPConfig) (*PCAPSource, error) {
	handle, err := pcap.OpenLive(device, 65536, false, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("open interface %s: %w", device, err)
	}
	if cfg.Port != 0 {
		filter := fmt.Sprintf("udp dst port %d", cfg.Port)
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("set BPF filter %q: %w", filter, err)
		}
	}
	// Live frames arrive in real time already.
	cfg.Speed = 0
	src := newCaptureSource(handle, handle.LinkType(), cfg)
	src.isTimeout = func(err error) bool { return errors.Is(err, pcap.NextErrorTimeoutExpired) }
	src.closer = func() error {
		handle.Close()
		return nil
	}
	return src, nil
}
