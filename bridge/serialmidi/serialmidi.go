// Package serialmidi reads a DIN MIDI byte stream from a serial device
// and feeds the framed packets to the firmware.
package serialmidi

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/user-none/psgmidi/bridge"
	"github.com/user-none/psgmidi/firmware"
)

// DefaultBaudRate is the DIN MIDI line rate.
const DefaultBaudRate = 31250

// readTimeout bounds each read so cancellation is noticed.
const readTimeout = 100 * time.Millisecond

// Ports lists the serial devices present on the host.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	return ports, errors.Wrap(err, "list serial ports")
}

// Open opens a serial device at baud. A zero baud uses DefaultBaudRate.
func Open(name string, baud int) (serial.Port, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial device %s", name)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "set read timeout on %s", name)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "reset input buffer on %s", name)
	}
	return port, nil
}

// Pump reads r until it is exhausted, ctx is cancelled or the sink
// reports that the firmware halted. Each read is framed and delivered as
// one burst. A read that returns no data is treated as a timeout.
func Pump(ctx context.Context, r io.Reader, sink bridge.Sink, log *slog.Logger) error {
	framer := bridge.NewFramer(0)
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := r.Read(buf)
		if n > 0 {
			framer.Write(buf[:n])
			if pkts := framer.Packets(); len(pkts) > 0 {
				if herr := sink.HandlePackets(pkts...); herr != nil {
					if errors.Is(herr, firmware.ErrHalted) {
						log.Info("firmware halted, closing serial input")
						return nil
					}
					return herr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read serial")
		}
	}
}
