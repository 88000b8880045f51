package spiftdi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeConn is an in-memory full-duplex loopback: Tx overwrites rw with the
// next queued response, recording what was sent for assertions.
type fakeConn struct {
	sent      [][]byte
	responses [][]byte
}

func (f *fakeConn) Tx(w, r []byte) error {
	cp := append([]byte(nil), w...)
	f.sent = append(f.sent, cp)
	if len(f.responses) > 0 {
		resp := f.responses[0]
		f.responses = f.responses[1:]
		copy(r, resp)
	}
	return nil
}

func TestWindowReadBLowOffsetUsesReadID(t *testing.T) {
	conn := &fakeConn{responses: [][]byte{{0x9f, 0xEF, 0x40, 0x18}}}
	w := window{lk: &link{conn: conn}}
	assert.Equal(t, uint8(0xEF), w.ReadB(0))
	assert.Equal(t, uint8(cmdReadID), conn.sent[0][0])
}

func TestWindowReadNHighOffsetIssuesReadCommand(t *testing.T) {
	resp := make([]byte, 4+8)
	copy(resp[4:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	conn := &fakeConn{responses: [][]byte{resp}}
	w := window{lk: &link{conn: conn}}
	buf := make([]byte, 8)
	w.ReadN(0x1000, buf)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf)
	assert.Equal(t, uint8(cmdRead), conn.sent[0][0])
	assert.Equal(t, addr3(0x1000), conn.sent[0][1:4])
}

func TestWindowWriteNIssuesWriteEnableThenPageProgram(t *testing.T) {
	conn := &fakeConn{}
	w := window{lk: &link{conn: conn}}
	w.WriteN(0x300, []byte{0xAB, 0xCD})
	// One write-enable + one page-program transaction per page.
	if len(conn.sent) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(conn.sent))
	}
	assert.Equal(t, uint8(cmdWriteEnable), conn.sent[0][0])
	assert.Equal(t, uint8(cmdPageProgram), conn.sent[1][0])
	assert.Equal(t, addr3(0x300), conn.sent[1][1:4])
	assert.Equal(t, []byte{0xAB, 0xCD}, conn.sent[1][4:])
}

func TestWriteNSplitsIntoPages(t *testing.T) {
	conn := &fakeConn{}
	w := window{lk: &link{conn: conn}}
	w.WriteN(0, make([]byte, 300)) // spans two 256-byte pages
	// 2 pages * (write-enable + page-program) = 4 transactions.
	if len(conn.sent) != 4 {
		t.Fatalf("expected 4 transactions for a 300-byte write, got %d", len(conn.sent))
	}
}
