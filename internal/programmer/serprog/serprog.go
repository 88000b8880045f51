// Package serprog implements a programmer backend for flashrom's serprog
// protocol, spoken over a plain serial link. Grounded on
// common/mgrpc/codec/serial.go's serial.Open usage (the teacher's own
// serial transport for talking to a device) and on
// original_source/flashrom.c's S_CMD_* command constants, which this
// backend issues over the wire in place of the original's libflashrom-side
// ser_bb_spi.c.
package serprog

import (
	"time"

	"github.com/cesanta/errors"
	"github.com/cesanta/go-serial/serial"

	"github.com/flashrom-go/flashrom/internal/chip"
	"github.com/flashrom-go/flashrom/internal/hwaccess"
	"github.com/flashrom-go/flashrom/internal/pgmcfg"
	"github.com/flashrom-go/flashrom/internal/programmer"
)

// Wire command bytes, grounded on the serprog protocol flashrom.c speaks
// to a serprog-compatible device (S_CMD_NOP, S_CMD_Q_IFACE, ...).
const (
	cmdNop        = 0x00
	cmdQIface     = 0x01
	cmdQCmdMap    = 0x02
	cmdSyncNop    = 0x10
	cmdSPIOp      = 0x1d
	cmdSPIWriteEn = 0x1c
	ackByte       = 0x06
)

// JEDEC SPI NOR opcodes, the same set _examples/gentam-gice/flash.go
// issues directly over periph.io; here they are the payload of the
// serprog S_CMD_O_SPIOP command instead of a raw SPI transaction.
const (
	opReadID   = 0x9f
	opRead     = 0x03
	opPageProg = 0x02
)

const defaultBaudRate = 115200

// Device is the minimal serial-port contract this backend needs; real use
// opens one with serial.Open, tests substitute a loopback fake.
type Device interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// Open dials portName at baudRate using github.com/cesanta/go-serial, the
// same library and OpenOptions shape common/mgrpc/codec/serial.go uses for
// its own device link.
func Open(portName string, baudRate uint) (Device, error) {
	if baudRate == 0 {
		baudRate = defaultBaudRate
	}
	s, err := serial.Open(serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baudRate,
		DataBits:              8,
		ParityMode:            serial.PARITY_NONE,
		StopBits:              1,
		InterCharacterTimeout: 200,
		MinimumReadSize:       0,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "serprog: opening %s", portName)
	}
	return s, nil
}

// link wraps Device with the serprog command framing.
type link struct {
	dev Device
}

func (l *link) cmd(b byte, payload []byte) error {
	buf := append([]byte{b}, payload...)
	_, err := l.dev.Write(buf)
	return err
}

func (l *link) readByte() (byte, error) {
	var b [1]byte
	_, err := l.dev.Read(b[:])
	return b[0], err
}

func (l *link) spiTransfer(writeBuf []byte, readLen int) ([]byte, error) {
	if err := l.cmd(cmdSPIWriteEn, nil); err != nil {
		return nil, errors.Annotatef(err, "serprog: write-enable")
	}
	if err := l.cmd(cmdSPIOp, writeBuf); err != nil {
		return nil, errors.Annotatef(err, "serprog: spi op")
	}
	ack, err := l.readByte()
	if err != nil {
		return nil, errors.Annotatef(err, "serprog: waiting for ack")
	}
	if ack != ackByte {
		return nil, errors.Errorf("serprog: device nacked (got 0x%02x)", ack)
	}
	if readLen == 0 {
		return nil, nil
	}
	out := make([]byte, readLen)
	if _, err := l.dev.Read(out); err != nil {
		return nil, errors.Annotatef(err, "serprog: reading response")
	}
	return out, nil
}

// window adapts link onto hwaccess.MMIOWindow by issuing JEDEC SPI
// commands over the serprog SPI-op framing: a plain READ for ReadB/ReadN,
// a PAGE PROGRAM for WriteB/WriteN, and the 0x9F READ ID op for the three
// identification bytes at offset 0/1/2 -- the same convenience addressing
// internal/chip/registry.go's spiProbe uses against the dummy backend, so
// the chip registry's probe/read/write functions work unmodified against
// any SPI-bus backend.
type window struct{ lk *link }

func (w window) Mapped() bool { return true }

func addr3(off uint32) []byte {
	return []byte{byte(off >> 16), byte(off >> 8), byte(off)}
}

func (w window) ReadB(off uint32) uint8 {
	buf, err := w.readN(off, 1)
	if err != nil || len(buf) == 0 {
		return 0
	}
	return buf[0]
}

func (w window) readN(off uint32, n int) ([]byte, error) {
	if off <= 2 && n <= 3 {
		id, err := w.lk.spiTransfer([]byte{opReadID}, 3)
		if err != nil {
			return nil, err
		}
		return id[off : off+uint32(n)], nil
	}
	return w.lk.spiTransfer(append([]byte{opRead}, addr3(off)...), n)
}

func (w window) ReadN(off uint32, buf []byte) {
	out, err := w.readN(off, len(buf))
	if err == nil {
		copy(buf, out)
	}
}

func (w window) ReadW(off uint32) uint16 {
	buf, _ := w.readN(off, 2)
	if len(buf) < 2 {
		return 0
	}
	return uint16(buf[0]) | uint16(buf[1])<<8
}

func (w window) ReadL(off uint32) uint32 {
	buf, _ := w.readN(off, 4)
	if len(buf) < 4 {
		return 0
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

func (w window) WriteB(off uint32, v uint8) {
	w.WriteN(off, []byte{v})
}

func (w window) WriteN(off uint32, buf []byte) {
	payload := append([]byte{opPageProg}, addr3(off)...)
	payload = append(payload, buf...)
	w.lk.spiTransfer(payload, 0)
}

func (w window) WriteW(off uint32, v uint16) {
	w.WriteN(off, []byte{byte(v), byte(v >> 8)})
}

func (w window) WriteL(off uint32, v uint32) {
	w.WriteN(off, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// Entry returns a programmer.Entry named "serprog" that speaks the
// protocol above over a serial device opened from the "dev"/"port" and
// optional "baud" programmer parameters (spec.md section 6's
// NAME[:param=value,...] syntax, internal/pgmcfg).
var Entry = &programmer.Entry{
	Name: "serprog",
	Kind: programmer.KindOther,
	Init: func(s *programmer.Session, ps *pgmcfg.ParamSet) (*programmer.Backend, error) {
		port, _ := ps.Extract("dev")
		if port == "" {
			port, _ = ps.Extract("port")
		}
		if port == "" {
			return nil, errors.Errorf("serprog: missing required parameter dev= (serial device path)")
		}
		baud := defaultBaudRate
		if b, ok := ps.Extract("baud"); ok && b != "" {
			parsed, err := parseBaud(b)
			if err != nil {
				return nil, errors.Annotatef(err, "serprog: parsing baud= parameter")
			}
			baud = parsed
		}
		dev, err := Open(port, uint(baud))
		if err != nil {
			return nil, err
		}
		lk := &link{dev: dev}
		if err := lk.cmd(cmdSyncNop, nil); err != nil {
			return nil, errors.Annotatef(err, "serprog: sync")
		}

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

func parseBaud(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.Errorf("serprog: invalid baud rate %q", s)
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return 0, errors.Errorf("serprog: baud rate must be positive")
	}
	return n, nil
}
