package serialmux

import "io"

// SerialPorter is the part of a serial port the mux needs.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
