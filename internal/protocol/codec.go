package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Args is the argument-map half of a Command: named fields to byte-string
// values, per the ordered schema registered for a command's Type.
type Args map[string][]byte

// Command is a parsed (type, arg-map) pair.
type Command struct {
	Type Type
	Args Args
}

// ProtocolError reports a malformed frame or an unknown/missing schema
// field. Aborts the connection that raised it.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Msg }

func protoErrf(format string, args ...interface{}) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

const frameHeaderLen = 12 // 4 magic + 4 type + 4 length

// ParseBinary attempts to parse one binary frame off the front of buf.
// Returns (nil, 0, nil) if a full frame is not yet present. A malformed
// frame returns a *ProtocolError.
func ParseBinary(buf []byte) (*Command, int, error) {
	if len(buf) < frameHeaderLen {
		return nil, 0, nil
	}

	magic := Magic(binary.BigEndian.Uint32(buf[0:4]))
	if magic != MagicReq && magic != MagicRes {
		return nil, 0, protoErrf("bad magic: %08x", uint32(magic))
	}

	typ := Type(binary.BigEndian.Uint32(buf[4:8]))
	length := binary.BigEndian.Uint32(buf[8:12])

	total := frameHeaderLen + int(length)
	if len(buf) < total {
		return nil, 0, nil
	}

	payload := buf[frameHeaderLen:total]
	fields, ok := schema[typ]
	if !ok {
		return nil, 0, protoErrf("unknown command type %d", typ)
	}

	args, err := splitPayload(payload, fields)
	if err != nil {
		return nil, 0, err
	}

	return &Command{Type: typ, Args: args}, total, nil
}

// splitPayload splits payload into len(fields) NUL-separated parts; the
// last field absorbs every remaining byte (including embedded NULs).
func splitPayload(payload []byte, fields []string) (Args, error) {
	args := make(Args, len(fields))
	if len(fields) == 0 {
		return args, nil
	}

	rest := payload
	for i, name := range fields {
		if i == len(fields)-1 {
			args[name] = rest
			break
		}

		idx := bytes.IndexByte(rest, 0)
		if idx < 0 {
			return nil, protoErrf("missing NUL separator for field %q", name)
		}

		args[name] = rest[:idx]
		rest = rest[idx+1:]
	}

	return args, nil
}

// SerializeBinary packs (typ, args) into a framed binary command. magic
// selects REQ (client/worker -> server) or RES (server -> client/worker).
func SerializeBinary(magic Magic, typ Type, args Args) ([]byte, error) {
	fields, ok := schema[typ]
	if !ok {
		return nil, protoErrf("unknown command type: %d", typ)
	}

	parts := make([][]byte, len(fields))
	for i, name := range fields {
		v, ok := args[name]
		if !ok {
			return nil, protoErrf("%s: missing required field %q", Name(typ), name)
		}
		parts[i] = v
	}

	payload := bytes.Join(parts, []byte{0})

	out := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(magic))
	binary.BigEndian.PutUint32(out[4:8], uint32(typ))
	binary.BigEndian.PutUint32(out[8:12], uint32(len(payload)))
	copy(out[frameHeaderLen:], payload)

	return out, nil
}
