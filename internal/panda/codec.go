// Package panda implements the driver core for the comma.ai panda USB-CAN
// adapter: the 16-byte wire codec, the bounded pool of outbound transfer
// contexts, and the asynchronous transmit/receive pipeline with its
// backpressure coupling to the host transmit queue.
package panda

import (
	"encoding/binary"
	"fmt"

	"github.com/pandacan/panda-server/internal/can"
)

// Wire message layout (16 bytes, two little-endian words + payload):
//
//	word0 (rir):  extended frames pack (id<<3)|TRANSMIT|EXTENDED,
//	              standard frames pack (id<<21)|TRANSMIT
//	word1:        bits 0..3 DLC, bits 4.. bus index
//	bytes 8..15:  payload, zero padded beyond the DLC
const (
	MessageSize = 16

	flagTransmit = 0x01
	flagExtended = 0x04

	extendedShift = 3
	standardShift = 21

	dlcMask   = 0x0F
	busOffset = 4
	busIndex  = 0 // single-bus wiring; the field is reserved on this unit
)

// Codec translates between can.Frame and the adapter's wire message.
// Stateless; the zero value is ready to use.
type Codec struct{}

// EncodeTo writes the 16-byte wire message for f into dst[:MessageSize].
// The frame must have passed Validate; in particular f.Len <= 8.
func (Codec) EncodeTo(dst []byte, f can.Frame) {
	var rir uint32
	if f.IsExtended() {
		rir = (f.CANID&can.CAN_EFF_MASK)<<extendedShift | flagTransmit | flagExtended
	} else {
		rir = (f.CANID&can.CAN_SFF_MASK)<<standardShift | flagTransmit
	}
	binary.LittleEndian.PutUint32(dst[0:4], rir)
	binary.LittleEndian.PutUint32(dst[4:8], busIndex<<busOffset|uint32(f.Len)&dlcMask)
	n := copy(dst[8:MessageSize], f.Data[:f.Len])
	for i := 8 + n; i < MessageSize; i++ {
		dst[i] = 0
	}
}

// Encode returns a freshly allocated wire message for f.
func (c Codec) Encode(f can.Frame) []byte {
	buf := make([]byte, MessageSize)
	c.EncodeTo(buf, f)
	return buf
}

// Decode parses one complete wire message. The DLC nibble is clamped to
// the classic CAN maximum before the payload copy; the clamp is the bounds
// check protecting the copy.
func (Codec) Decode(msg []byte) can.Frame {
	var f can.Frame
	rir := binary.LittleEndian.Uint32(msg[0:4])
	if rir&flagExtended != 0 {
		f.CANID = (rir >> extendedShift) | can.CAN_EFF_FLAG
	} else {
		f.CANID = rir >> standardShift
	}
	dlc := binary.LittleEndian.Uint32(msg[4:8]) & dlcMask
	if dlc > can.MaxDataLen {
		dlc = can.MaxDataLen
	}
	f.Len = uint8(dlc)
	copy(f.Data[:f.Len], msg[8:8+f.Len])
	return f
}

// DecodeStream walks buf in MessageSize strides, emitting each decoded
// frame. The adapter batches whole messages per interrupt read, so a
// non-empty tail shorter than a full message is a format error; the
// complete messages before it have already been emitted when the error is
// returned.
func (c Codec) DecodeStream(buf []byte, emit func(can.Frame)) error {
	for len(buf) >= MessageSize {
		emit(c.Decode(buf[:MessageSize]))
		buf = buf[MessageSize:]
	}
	if len(buf) != 0 {
		return fmt.Errorf("panda: message format error: %d trailing bytes", len(buf))
	}
	return nil
}
