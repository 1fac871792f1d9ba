package cog

import (
	"bytes"
	"testing"
)

func TestDefaultEncoderIsIdentity(t *testing.T) {
	enc := DefaultEncoder()
	in := []byte("payload")

	encoded, err := enc.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(encoded, in) {
		t.Fatalf("expected identity encode, got %q", encoded)
	}

	decoded, err := enc.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded, in) {
		t.Fatalf("expected identity decode, got %q", decoded)
	}
}

type upperEncoder struct{}

func (upperEncoder) Encode(data []byte) ([]byte, error) { return bytes.ToUpper(data), nil }
func (upperEncoder) Decode(data []byte) ([]byte, error) { return bytes.ToLower(data), nil }

func TestWithEncoderOverridesDefault(t *testing.T) {
	o := defaultFacadeOptions()
	WithEncoder(upperEncoder{})(&o)

	encoded, _ := o.encoder.Encode([]byte("abc"))
	if string(encoded) != "ABC" {
		t.Fatalf("expected custom encoder to run, got %q", encoded)
	}
}

func TestWithEncoderNilIsNoOp(t *testing.T) {
	o := defaultFacadeOptions()
	original := o.encoder
	WithEncoder(nil)(&o)
	if o.encoder != original {
		t.Fatal("expected a nil encoder option to leave the default in place")
	}
}
