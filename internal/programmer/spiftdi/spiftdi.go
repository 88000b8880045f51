// Package spiftdi implements a programmer backend for FTDI-based SPI
// bridges (FT232H/FT2232H MPSSE and similar), grounded on
// _examples/gentam-gice/flash.go's Flash type: the same JEDEC command set
// (0x9F read-ID, 0x03 read, 0x06 write-enable, 0x02 page program) issued
// over a periph.io/x/conn/v3/spi.Conn with a GPIO chip-select, discovered
// through periph.io/x/host/v3.
package spiftdi

import (
	"time"

	"github.com/cesanta/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"

	"github.com/flashrom-go/flashrom/internal/chip"
	"github.com/flashrom-go/flashrom/internal/hwaccess"
	"github.com/flashrom-go/flashrom/internal/pgmcfg"
	"github.com/flashrom-go/flashrom/internal/programmer"
)

// JEDEC opcodes, identical to gice/flash.go's flashCmd* constants.
const (
	cmdReadID      = 0x9f
	cmdRead        = 0x03
	cmdWriteEnable = 0x06
	cmdPageProgram = 0x02
)

const maxTxBytes = 65536 // FTDI AN_108 single-transaction ceiling.

// Conn is the minimal periph.io surface this backend drives: one full
// duplex SPI transaction with the chip-select asserted around it, the
// same shape as gice.Flash.tx.
type Conn interface {
	Tx(w, r []byte) error
}

// link pairs a SPI connection with its chip-select pin, mirroring
// gice.Flash's {conn, cs} fields.
type link struct {
	conn Conn
	cs   gpio.PinIO
}

func (l *link) tx(buf []byte) (err error) {
	if l.cs != nil {
		if err = l.cs.Out(gpio.Low); err != nil {
			return err
		}
		defer func() {
			if csErr := l.cs.Out(gpio.High); csErr != nil && err == nil {
				err = csErr
			}
		}()
	}
	return l.conn.Tx(buf, buf)
}

// window adapts link onto hwaccess.MMIOWindow, splitting large reads into
// maxTxBytes-sized transactions the way Flash.Read does.
type window struct{ lk *link }

func (w window) Mapped() bool { return true }

func addr3(off uint32) []byte {
	return []byte{byte(off >> 16), byte(off >> 8), byte(off)}
}

func (w window) readID() [3]byte {
	buf := make([]byte, 4)
	buf[0] = cmdReadID
	if err := w.lk.tx(buf); err != nil {
		return [3]byte{}
	}
	return [3]byte{buf[1], buf[2], buf[3]}
}

func (w window) ReadB(off uint32) uint8 {
	if off <= 2 {
		id := w.readID()
		return id[off]
	}
	buf := make([]byte, 1)
	w.readInto(off, buf)
	return buf[0]
}

func (w window) ReadN(off uint32, buf []byte) {
	if off <= 2 && len(buf) <= 3 {
		id := w.readID()
		copy(buf, id[off:off+uint32(len(buf))])
		return
	}
	w.readInto(off, buf)
}

func (w window) readInto(off uint32, out []byte) {
	remaining := len(out)
	pos := 0
	const cmdBytes = 4
	maxData := maxTxBytes - cmdBytes
	for remaining > 0 {
		chunk := remaining
		if chunk > maxData {
			chunk = maxData
		}
		buf := make([]byte, cmdBytes+chunk)
		buf[0] = cmdRead
		copy(buf[1:4], addr3(off+uint32(pos)))
		if err := w.lk.tx(buf); err != nil {
			return
		}
		copy(out[pos:], buf[cmdBytes:])
		pos += chunk
		remaining -= chunk
	}
}

func (w window) ReadW(off uint32) uint16 {
	buf := make([]byte, 2)
	w.ReadN(off, buf)
	return uint16(buf[0]) | uint16(buf[1])<<8
}

func (w window) ReadL(off uint32) uint32 {
	buf := make([]byte, 4)
	w.ReadN(off, buf)
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

func (w window) WriteB(off uint32, v uint8) {
	w.WriteN(off, []byte{v})
}

// WriteN programs data one flash page at a time, splitting it at 256-byte
// page boundaries, mirroring Flash.Write/pageProgram.
func (w window) WriteN(off uint32, data []byte) {
	const pageSize = 256
	for pos := 0; pos < len(data); {
		end := pos + pageSize - int((off+uint32(pos))%pageSize)
		if end > len(data) {
			end = len(data)
		}
		w.pageProgram(off+uint32(pos), data[pos:end])
		pos = end
	}
}

func (w window) pageProgram(addr uint32, data []byte) {
	if err := w.lk.tx([]byte{cmdWriteEnable}); err != nil {
		return
	}
	buf := make([]byte, 4+len(data))
	buf[0] = cmdPageProgram
	copy(buf[1:4], addr3(addr))
	copy(buf[4:], data)
	w.lk.tx(buf)
}

func (w window) WriteW(off uint32, v uint16) {
	w.WriteN(off, []byte{byte(v), byte(v >> 8)})
}

func (w window) WriteL(off uint32, v uint32) {
	w.WriteN(off, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// Entry returns a programmer.Entry named "spiftdi" that initializes
// periph.io's host drivers (periph.io/x/host/v3.Init) and asks openPort for
// the SPI port named by the "port" programmer parameter, passing "spispeed"
// along. The openPort in this module returns an error for every name.
var Entry = &programmer.Entry{
	Name: "spiftdi",
	Kind: programmer.KindUSB,
	Init: func(s *programmer.Session, ps *pgmcfg.ParamSet) (*programmer.Backend, error) {
		if _, err := host.Init(); err != nil {
			return nil, errors.Annotatef(err, "spiftdi: initializing periph.io host drivers")
		}
		portName, _ := ps.Extract("port")
		if portName == "" {
			return nil, errors.Errorf("spiftdi: missing required parameter port= (e.g. a periph.io SPI port name)")
		}
		speed, _ := ps.Extract("spispeed")
		conn, cs, err := openPort(portName, map[string]string{"spispeed": speed})
		if err != nil {
			return nil, err
		}

		lk := &link{conn: conn, cs: cs}
		win := window{lk: lk}
		par := &programmer.ParVtable{
			ReadB:  win.ReadB,
			ReadW:  win.ReadW,
			ReadL:  win.ReadL,
			ReadN:  win.ReadN,
			WriteB: win.WriteB,
			WriteW: win.WriteW,
			WriteL: win.WriteL,
			WriteN: win.WriteN,
		}

		return &programmer.Backend{
			BusesSupported: chip.BusSPI,
			Par:            par,
			Map: func(descr string, physAddr, length uint32) (hwaccess.MMIOWindow, error) {
				return win, nil
			},
			Unmap: func(hwaccess.MMIOWindow, uint32) {},
			Delay: func(d time.Duration) { time.Sleep(d) },
		}, nil
	},
}

// openPort is the seam a real build would fill in with
// periph.io/x/conn/v3/driver/driverreg port lookup (spireg.Open) plus a
// gpiospi.LookupPin for the chip-select; kept as an explicit function so
// tests can substitute a fake Conn without touching real hardware.
var openPort = func(name string, params map[string]string) (Conn, gpio.PinIO, error) {
	return nil, nil, errors.Errorf("spiftdi: no SPI port registered under name %q (periph.io driver wiring is host-specific)", name)
}

var _ spi.Conn // referenced for the package's documented dependency on spi.Conn's Tx shape
