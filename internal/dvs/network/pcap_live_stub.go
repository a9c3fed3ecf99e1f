//go:build !pcap

package network

import "github.com/banshee-data/eventstream/internal/dvs"

// OpenLiveCapture is unavailable without the pcap build tag.
func OpenLiveCapture(device string, cfg PCAPConfig) (*PCAPSource, error) {
	return nil, &dvs.UnsupportedBackendError{Backend: "pcap", Hint: "rebuild with -tags=pcap to enable live capture"}
}
