//go:build !pcap

package network

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/eventstream/internal/dvs"
)

func TestOpenLiveCaptureStub(t *testing.T) {
	src, err := OpenLiveCapture("eth0", PCAPConfig{Port: 3333})
	assert.Nil(t, src)
	assert.ErrorIs(t, err, dvs.ErrUnsupportedBackend)
	assert.Contains(t, err.Error(), "pcap support not enabled")
}
