package can

import "testing"

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		f    Frame
		ok   bool
	}{
		{"std", Frame{CANID: 0x123, Len: 8}, true},
		{"std max id", Frame{CANID: 0x7FF, Len: 0}, true},
		{"ext", Frame{CANID: CAN_EFF_FLAG | 0x1ABCDE, Len: 3}, true},
		{"ext max id", Frame{CANID: CAN_EFF_FLAG | CAN_EFF_MASK, Len: 1}, true},
		{"len too big", Frame{CANID: 0x123, Len: 9}, false},
		{"std id too big", Frame{CANID: 0x800, Len: 1}, false},
		{"rtr", Frame{CANID: CAN_RTR_FLAG | 0x123, Len: 0}, false},
		{"err frame", Frame{CANID: CAN_ERR_FLAG | 0x20, Len: 8}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.f.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
		})
	}
}

func TestIDStripsFlags(t *testing.T) {
	ext := Frame{CANID: CAN_EFF_FLAG | 0x1ABCDE}
	if got := ext.ID(); got != 0x1ABCDE {
		t.Fatalf("ext ID() = 0x%X, want 0x1ABCDE", got)
	}
	if !ext.IsExtended() {
		t.Fatalf("IsExtended() = false for EFF frame")
	}
	std := Frame{CANID: 0x123}
	if got := std.ID(); got != 0x123 {
		t.Fatalf("std ID() = 0x%X, want 0x123", got)
	}
	if std.IsExtended() {
		t.Fatalf("IsExtended() = true for SFF frame")
	}
}
