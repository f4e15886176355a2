package panda

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pandacan/panda-server/internal/can"
)

func TestEncodeStandardFrame(t *testing.T) {
	var c Codec
	f := can.Frame{CANID: 0x123, Len: 4}
	copy(f.Data[:], []byte{1, 2, 3, 4})

	msg := c.Encode(f)
	if len(msg) != MessageSize {
		t.Fatalf("len = %d, want %d", len(msg), MessageSize)
	}
	rir := binary.LittleEndian.Uint32(msg[0:4])
	if want := uint32(0x123<<21 | 1); rir != want {
		t.Fatalf("rir = 0x%X, want 0x%X", rir, want)
	}
	word1 := binary.LittleEndian.Uint32(msg[4:8])
	if word1&0x0F != 4 {
		t.Fatalf("dlc nibble = %d, want 4", word1&0x0F)
	}
	if !bytes.Equal(msg[8:12], []byte{1, 2, 3, 4}) {
		t.Fatalf("payload = % X", msg[8:12])
	}
	if !bytes.Equal(msg[12:16], []byte{0, 0, 0, 0}) {
		t.Fatalf("padding not zeroed: % X", msg[12:16])
	}
}

func TestEncodeExtendedFrame(t *testing.T) {
	var c Codec
	f := can.Frame{CANID: can.CAN_EFF_FLAG | 0x1ABCDE, Len: 8}
	copy(f.Data[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	msg := c.Encode(f)
	rir := binary.LittleEndian.Uint32(msg[0:4])
	if want := uint32(0x1ABCDE<<3 | 1 | 4); rir != want {
		t.Fatalf("rir = 0x%X, want 0x%X", rir, want)
	}
	if word1 := binary.LittleEndian.Uint32(msg[4:8]); word1&0x0F != 8 {
		t.Fatalf("dlc nibble = %d, want 8", word1&0x0F)
	}
}

func TestEncodeToZeroesReusedBuffer(t *testing.T) {
	var c Codec
	buf := make([]byte, MessageSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	f := can.Frame{CANID: 0x7F, Len: 2}
	copy(f.Data[:], []byte{0xAA, 0xBB})
	c.EncodeTo(buf, f)
	if !bytes.Equal(buf[10:16], make([]byte, 6)) {
		t.Fatalf("stale bytes beyond dlc: % X", buf[10:16])
	}
}

func TestRoundTrip(t *testing.T) {
	var c Codec
	cases := []can.Frame{
		{CANID: 0x0, Len: 0},
		{CANID: 0x123, Len: 4, Data: [8]byte{1, 2, 3, 4}},
		{CANID: 0x7FF, Len: 8, Data: [8]byte{8, 7, 6, 5, 4, 3, 2, 1}},
		{CANID: can.CAN_EFF_FLAG | 0x1ABCDE, Len: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{CANID: can.CAN_EFF_FLAG | 0x1FFFFFFF, Len: 1, Data: [8]byte{0x55}},
		{CANID: can.CAN_EFF_FLAG | 0x1, Len: 3, Data: [8]byte{0xDE, 0xAD, 0xBE}},
	}
	for _, f := range cases {
		got := c.Decode(c.Encode(f))
		if got.CANID != f.CANID {
			t.Fatalf("CANID = 0x%X, want 0x%X", got.CANID, f.CANID)
		}
		if got.Len != f.Len {
			t.Fatalf("Len = %d, want %d", got.Len, f.Len)
		}
		if got.Data != f.Data {
			t.Fatalf("Data = % X, want % X", got.Data, f.Data)
		}
	}
}

func TestDecodeClampsDLC(t *testing.T) {
	var c Codec
	msg := make([]byte, MessageSize)
	binary.LittleEndian.PutUint32(msg[0:4], 0x123<<21|1)
	binary.LittleEndian.PutUint32(msg[4:8], 0x0F) // nibble says 15
	f := c.Decode(msg)
	if f.Len != can.MaxDataLen {
		t.Fatalf("Len = %d, want %d", f.Len, can.MaxDataLen)
	}
}

func TestDecodeStream(t *testing.T) {
	var c Codec
	frames := []can.Frame{
		{CANID: 0x100, Len: 1, Data: [8]byte{0xA1}},
		{CANID: 0x200, Len: 2, Data: [8]byte{0xB1, 0xB2}},
		{CANID: can.CAN_EFF_FLAG | 0x12345, Len: 3, Data: [8]byte{0xC1, 0xC2, 0xC3}},
	}
	var buf []byte
	for _, f := range frames {
		buf = append(buf, c.Encode(f)...)
	}

	var got []can.Frame
	if err := c.DecodeStream(buf, func(f can.Frame) { got = append(got, f) }); err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(got) != len(frames) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(frames))
	}
	for i := range frames {
		if got[i] != frames[i] {
			t.Fatalf("frame %d = %+v, want %+v", i, got[i], frames[i])
		}
	}
}

func TestDecodeStreamPartialTail(t *testing.T) {
	var c Codec
	frames := []can.Frame{
		{CANID: 0x100, Len: 8, Data: [8]byte{1, 1, 1, 1, 1, 1, 1, 1}},
		{CANID: 0x200, Len: 8, Data: [8]byte{2, 2, 2, 2, 2, 2, 2, 2}},
		{CANID: 0x300, Len: 8, Data: [8]byte{3, 3, 3, 3, 3, 3, 3, 3}},
	}
	var buf []byte
	for _, f := range frames {
		buf = append(buf, c.Encode(f)...)
	}
	buf = append(buf, 0xDE, 0xAD, 0xBE, 0xEF, 0x01) // 5 trailing bytes

	var n int
	err := c.DecodeStream(buf, func(can.Frame) { n++ })
	if err == nil {
		t.Fatalf("DecodeStream accepted a partial tail")
	}
	if n != 3 {
		t.Fatalf("decoded %d frames before the tail, want 3", n)
	}
}

func TestDecodeStreamEmpty(t *testing.T) {
	var c Codec
	if err := c.DecodeStream(nil, func(can.Frame) { t.Fatal("emit on empty buffer") }); err != nil {
		t.Fatalf("DecodeStream(nil): %v", err)
	}
}
