package serial

import (
	"fmt"
	"io"

	"github.com/tarm/serial"
)

// OpenPort opens the physical serial device. The returned connection blocks
// on reads; the channel's read loop owns it until Close.
func OpenPort(device string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	return port, nil
}
