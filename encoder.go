package cog

// DataEncoder is the pluggable payload codec spec.md §6 describes:
// encode() runs over outbound job data before it is framed on the wire,
// decode() runs over inbound job data before a callback or JobRequest
// field sees it. The default is identity on opaque byte strings; a caller
// wanting JSON, msgpack, or similar supplies their own.
type DataEncoder interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

type identityEncoder struct{}

func (identityEncoder) Encode(data []byte) ([]byte, error) { return data, nil }
func (identityEncoder) Decode(data []byte) ([]byte, error) { return data, nil }

// DefaultEncoder is the identity DataEncoder used when a façade is
// constructed without WithEncoder.
func DefaultEncoder() DataEncoder { return identityEncoder{} }
