package protocol

import (
	"bytes"
	"testing"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		typ  Type
		args Args
	}{
		{"submit_job", TypeSubmitJob, Args{"task": []byte("reverse"), "unique": []byte("u1"), "data": []byte("abc")}},
		{"job_created", TypeJobCreated, Args{"job_handle": []byte("H:1")}},
		{"no_job", TypeNoJob, Args{}},
		{"work_status", TypeWorkStatus, Args{"job_handle": []byte("H:1"), "numerator": []byte("3"), "denominator": []byte("10")}},
		{"embedded_nul_in_data", TypeWorkComplete, Args{"job_handle": []byte("H:1"), "data": []byte("a\x00b\x00c")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			framed, err := SerializeBinary(MagicReq, tc.typ, tc.args)
			if err != nil {
				t.Fatalf("SerializeBinary: %v", err)
			}

			cmd, n, err := ParseBinary(framed)
			if err != nil {
				t.Fatalf("ParseBinary: %v", err)
			}
			if n != len(framed) {
				t.Fatalf("consumed %d, want %d", n, len(framed))
			}
			if cmd.Type != tc.typ {
				t.Fatalf("type = %v, want %v", cmd.Type, tc.typ)
			}
			for k, v := range tc.args {
				if !bytes.Equal(cmd.Args[k], v) {
					t.Fatalf("arg %q = %q, want %q", k, cmd.Args[k], v)
				}
			}
		})
	}
}

func TestMagicBytesMatchWireProtocol(t *testing.T) {
	framed, err := SerializeBinary(MagicReq, TypeNoop, Args{})
	if err != nil {
		t.Fatalf("SerializeBinary: %v", err)
	}
	if !bytes.Equal(framed[:4], []byte("\x00REQ")) {
		t.Fatalf("REQ magic = %q, want \\x00REQ", framed[:4])
	}

	framed, err = SerializeBinary(MagicRes, TypeNoop, Args{})
	if err != nil {
		t.Fatalf("SerializeBinary: %v", err)
	}
	if !bytes.Equal(framed[:4], []byte("\x00RES")) {
		t.Fatalf("RES magic = %q, want \\x00RES", framed[:4])
	}
}

func TestParseBinaryPartialFrame(t *testing.T) {
	framed, err := SerializeBinary(MagicReq, TypeSubmitJob, Args{"task": []byte("t"), "unique": []byte("u"), "data": []byte("d")})
	if err != nil {
		t.Fatalf("SerializeBinary: %v", err)
	}

	for i := 0; i < len(framed); i++ {
		cmd, n, err := ParseBinary(framed[:i])
		if err != nil {
			t.Fatalf("ParseBinary(partial %d): %v", i, err)
		}
		if cmd != nil || n != 0 {
			t.Fatalf("ParseBinary(partial %d) = %v, %d, want nil, 0", i, cmd, n)
		}
	}
}

func TestParseBinaryOneByteAtATime(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 10*1024*1024)
	framed, err := SerializeBinary(MagicReq, TypeWorkComplete, Args{"job_handle": []byte("H:1"), "data": payload})
	if err != nil {
		t.Fatalf("SerializeBinary: %v", err)
	}

	var buf []byte
	var got *Command
	for _, b := range framed {
		buf = append(buf, b)
		cmd, n, err := ParseBinary(buf)
		if err != nil {
			t.Fatalf("ParseBinary: %v", err)
		}
		if cmd != nil {
			got = cmd
			buf = buf[n:]
		}
	}

	if got == nil {
		t.Fatal("never parsed a complete command")
	}
	if !bytes.Equal(got.Args["data"], payload) {
		t.Fatal("payload mismatch after byte-at-a-time parse")
	}
}

func TestParseBinaryBadMagic(t *testing.T) {
	buf := make([]byte, frameHeaderLen)
	copy(buf, "\x00BAD\x00\x00\x00\x01\x00\x00\x00\x00")

	_, _, err := ParseBinary(buf)
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("error type = %T, want *ProtocolError", err)
	}
}

func TestParseBinaryUnknownType(t *testing.T) {
	buf := make([]byte, frameHeaderLen)
	copy(buf[0:4], []byte{0, 'R', 'E', 'Q'})
	buf[7] = 250 // unknown type, low byte

	_, _, err := ParseBinary(buf)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestSerializeBinaryMissingField(t *testing.T) {
	_, err := SerializeBinary(MagicReq, TypeSubmitJob, Args{"task": []byte("t")})
	if err == nil {
		t.Fatal("expected error for missing field")
	}
}

func TestSerializeBinaryUnknownType(t *testing.T) {
	_, err := SerializeBinary(MagicReq, Type(99999), Args{})
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestSubmitType(t *testing.T) {
	cases := []struct {
		bg   bool
		p    Priority
		want Type
	}{
		{false, PriorityNormal, TypeSubmitJob},
		{false, PriorityHigh, TypeSubmitJobHigh},
		{false, PriorityLow, TypeSubmitJobLow},
		{true, PriorityNormal, TypeSubmitJobBG},
		{true, PriorityHigh, TypeSubmitJobHighBG},
		{true, PriorityLow, TypeSubmitJobLowBG},
	}
	for _, tc := range cases {
		if got := SubmitType(tc.bg, tc.p); got != tc.want {
			t.Errorf("SubmitType(%v, %v) = %v, want %v", tc.bg, tc.p, got, tc.want)
		}
	}
}
