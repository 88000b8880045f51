package serprog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice is an in-memory Device loopback: every spiTransfer round trip
// is answered with canned bytes queued by the test, letting us drive the
// window without a real serial port.
type fakeDevice struct {
	written [][]byte
	reads   [][]byte
}

func (f *fakeDevice) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	f.written = append(f.written, cp)
	return len(p), nil
}

func (f *fakeDevice) Read(p []byte) (int, error) {
	if len(f.reads) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	next := f.reads[0]
	f.reads = f.reads[1:]
	n := copy(p, next)
	return n, nil
}

func (f *fakeDevice) Close() error { return nil }

func newFakeLink(ackAndData ...[]byte) (*link, *fakeDevice) {
	dev := &fakeDevice{}
	for _, chunk := range ackAndData {
		dev.reads = append(dev.reads, chunk)
	}
	return &link{dev: dev}, dev
}

func TestSpiTransferRequiresAck(t *testing.T) {
	lk, _ := newFakeLink([]byte{0x06})
	_, err := lk.spiTransfer([]byte{opRead, 0, 0, 0}, 0)
	require.NoError(t, err)
}

func TestSpiTransferRejectsNack(t *testing.T) {
	lk, _ := newFakeLink([]byte{0x00})
	_, err := lk.spiTransfer([]byte{opRead, 0, 0, 0}, 0)
	assert.Error(t, err)
}

func TestWindowReadBUsesReadIDAtLowOffsets(t *testing.T) {
	lk, dev := newFakeLink([]byte{0x06}, []byte{0x20, 0x20, 0x19})
	w := window{lk: lk}
	assert.Equal(t, uint8(0x20), w.ReadB(0))
	// dev.written[0] is the write-enable command; [1] is cmdSPIOp followed
	// by the JEDEC opcode byte and any address/payload bytes.
	require.Len(t, dev.written, 2)
	assert.Equal(t, byte(cmdSPIOp), dev.written[1][0])
	assert.Equal(t, byte(opReadID), dev.written[1][1])
}

func TestWindowReadNAtHighOffsetIssuesReadCommand(t *testing.T) {
	lk, dev := newFakeLink([]byte{0x06}, []byte{0xAA, 0xBB})
	w := window{lk: lk}
	buf := make([]byte, 2)
	w.ReadN(0x1000, buf)
	assert.Equal(t, []byte{0xAA, 0xBB}, buf)
	require.Len(t, dev.written, 2)
	assert.Equal(t, byte(opRead), dev.written[1][1])
	assert.Equal(t, addr3(0x1000), dev.written[1][2:5])
}

func TestWindowWriteNIssuesPageProgram(t *testing.T) {
	lk, dev := newFakeLink([]byte{0x06})
	w := window{lk: lk}
	w.WriteN(0x2000, []byte{0x11, 0x22})
	require.Len(t, dev.written, 2)
	assert.Equal(t, byte(opPageProg), dev.written[1][1])
	assert.Equal(t, addr3(0x2000), dev.written[1][2:5])
	assert.Equal(t, []byte{0x11, 0x22}, dev.written[1][5:])
}

func TestParseBaud(t *testing.T) {
	n, err := parseBaud("115200")
	require.NoError(t, err)
	assert.Equal(t, 115200, n)

	_, err = parseBaud("not-a-number")
	assert.Error(t, err)

	_, err = parseBaud("0")
	assert.Error(t, err)
}
