package gateway

import "testing"

func TestOpcodeString(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		name string
		op   Opcode
		want string
	}{
		{name: "identify", op: OpcodeIdentify, want: "IDENTIFY"},
		{name: "ready", op: OpcodeReady, want: "READY"},
		{name: "message create", op: OpcodeMessageCreate, want: "MESSAGE_CREATE"},
		{name: "channel create", op: OpcodeChannelCreate, want: "CHANNEL_CREATE"},
		{name: "custom", op: OpcodeCustom, want: "CUSTOM"},
		{name: "out of table", op: Opcode(42), want: "UNKNOWN"},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.op.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseOpcode(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		name    string
		v       int64
		want    Opcode
		wantErr bool
	}{
		{name: "identify", v: 0, want: OpcodeIdentify},
		{name: "ready", v: 1, want: OpcodeReady},
		{name: "message create", v: 2, want: OpcodeMessageCreate},
		{name: "channel create", v: 3, want: OpcodeChannelCreate},
		{name: "custom is outbound only", v: 4, wantErr: true},
		{name: "negative", v: -1, wantErr: true},
		{name: "out of range", v: 255, wantErr: true},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseOpcode(tt.v)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseOpcode(%d) expected error, got %v", tt.v, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOpcode(%d) unexpected error: %v", tt.v, err)
			}
			if got != tt.want {
				t.Errorf("ParseOpcode(%d) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}
