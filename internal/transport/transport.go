// Package transport holds the pieces shared by every frame path in the
// bridge: the pausable transmit queue and the small codec capabilities the
// TCP server programs against.
package transport

import (
	"io"

	"github.com/pandacan/panda-server/internal/can"
	"github.com/pandacan/panda-server/internal/cnl"
)

// FrameDecoder decodes a single CAN frame from a stream.
type FrameDecoder interface {
	Decode(r io.Reader) (can.Frame, error)
}

// MultiFrameDecoder drains several frames per read, which keeps syscall
// counts down on busy client connections.
type MultiFrameDecoder interface {
	DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error)
}

// FrameBatchEncoder encodes frame batches, either to a byte slice or
// straight into a writer.
type FrameBatchEncoder interface {
	Encode([]can.Frame) []byte
	EncodeTo(w io.Writer, frames []can.Frame) (int, error)
}

// FrameSink accepts frames for transmission. The adapter transmit queue
// and the SocketCAN mirror both satisfy it.
type FrameSink interface {
	SendFrame(can.Frame) error
}

var (
	_ FrameDecoder      = (*cnl.Codec)(nil)
	_ MultiFrameDecoder = (*cnl.Codec)(nil)
	_ FrameBatchEncoder = (*cnl.Codec)(nil)
	_ FrameSink         = (*Queue)(nil)
)
