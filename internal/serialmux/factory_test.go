package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRealSerialMux_MissingDevice(t *testing.T) {
	mux, err := NewRealSerialMux("/dev/nonexistent-pointing-device-12345", PortOptions{})
	assert.Error(t, err)
	assert.Nil(t, mux)
}

func TestNewRealSerialMux_InvalidOptions(t *testing.T) {
	_, err := NewRealSerialMux("/dev/null", PortOptions{DataBits: 12})
	assert.ErrorContains(t, err, "data bits")
}
