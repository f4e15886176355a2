package can

import "fmt"

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxDataLen is the classic CAN payload limit. The panda adapter speaks
// classic CAN only.
const MaxDataLen = 8

// Frame is a classic CAN frame holder used across the bridge.
// CANID contains EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is payload length (0..8); only the first Len bytes are valid.
//
// Note: This is a convenience type. Codecs map this to/from their wires.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [MaxDataLen]byte
}

// IsExtended reports whether the frame carries a 29-bit identifier.
func (f Frame) IsExtended() bool { return f.CANID&CAN_EFF_FLAG != 0 }

// ID returns the identifier with the flag bits stripped.
func (f Frame) ID() uint32 {
	if f.IsExtended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

// Validate reports whether the frame can be handed to the adapter:
// payload within classic CAN bounds, identifier in range for its format,
// no remote or error frames.
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return fmt.Errorf("can: payload length %d exceeds %d", f.Len, MaxDataLen)
	}
	if f.CANID&CAN_ERR_FLAG != 0 {
		return fmt.Errorf("can: error frame")
	}
	if f.CANID&CAN_RTR_FLAG != 0 {
		return fmt.Errorf("can: remote frames not supported")
	}
	if !f.IsExtended() && f.CANID&CAN_EFF_MASK > CAN_SFF_MASK {
		return fmt.Errorf("can: standard identifier 0x%X exceeds 11 bits", f.CANID&CAN_EFF_MASK)
	}
	return nil
}
