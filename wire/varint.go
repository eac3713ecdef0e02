// Package wire implements the length-delimited, protocol-buffer-compatible
// framing used for every message exchanged between two nearby-share peers,
// plus hand-written marshal/unmarshal code for each message type. There is
// no .proto/protoc step: each message implements its own encode/decode using
// the wire primitives below, the same way the reference codebase hand-rolls
// its handshake packet encoding instead of depending on generated code.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol buffer wire types used by this package. Only varint and
// length-delimited fields are needed; this protocol carries no floats,
// fixed-width integers, or groups.
const (
	wireVarint = 0
	wireBytes  = 2
)

// ErrMalformed is returned when a message's encoded bytes do not form a
// valid sequence of protobuf-wire-format fields.
var ErrMalformed = errors.New("wire: malformed message")

// putTag appends a protobuf field tag (field number + wire type).
func putTag(buf []byte, fieldNum int, wireType uint64) []byte {
	tag := uint64(fieldNum)<<3 | wireType
	return binary.AppendUvarint(buf, tag)
}

// putVarintField appends a varint-encoded field (bool, uint64, enum).
func putVarintField(buf []byte, fieldNum int, v uint64) []byte {
	buf = putTag(buf, fieldNum, wireVarint)
	return binary.AppendUvarint(buf, v)
}

// putBytesField appends a length-delimited field (bytes or string).
func putBytesField(buf []byte, fieldNum int, v []byte) []byte {
	buf = putTag(buf, fieldNum, wireBytes)
	buf = binary.AppendUvarint(buf, uint64(len(v)))
	return append(buf, v...)
}

// putStringField appends a length-delimited string field.
func putStringField(buf []byte, fieldNum int, v string) []byte {
	return putBytesField(buf, fieldNum, []byte(v))
}

// fieldVisitor is called once per decoded field. varint holds the value
// for wireVarint fields (data is nil); data holds the raw bytes for
// wireBytes fields. Returning a non-nil error aborts decoding.
type fieldVisitor func(fieldNum int, wireType uint64, varint uint64, data []byte) error

// decodeFields walks buf as a sequence of protobuf-wire-format fields,
// invoking visit for each one. Unknown field numbers are still visited;
// callers ignore the ones they don't recognize, matching the wire format's
// forward-compatibility rule.
func decodeFields(buf []byte, visit fieldVisitor) error {
	for len(buf) > 0 {
		tag, n := binary.Uvarint(buf)
		if n <= 0 {
			return fmt.Errorf("%w: bad tag varint", ErrMalformed)
		}
		buf = buf[n:]
		fieldNum := int(tag >> 3)
		wireType := tag & 0x7

		switch wireType {
		case wireVarint:
			v, n := binary.Uvarint(buf)
			if n <= 0 {
				return fmt.Errorf("%w: bad varint value for field %d", ErrMalformed, fieldNum)
			}
			buf = buf[n:]
			if err := visit(fieldNum, wireType, v, nil); err != nil {
				return err
			}
		case wireBytes:
			length, n := binary.Uvarint(buf)
			if n <= 0 {
				return fmt.Errorf("%w: bad length varint for field %d", ErrMalformed, fieldNum)
			}
			buf = buf[n:]
			if uint64(len(buf)) < length {
				return fmt.Errorf("%w: truncated bytes field %d", ErrMalformed, fieldNum)
			}
			data := buf[:length]
			buf = buf[length:]
			if err := visit(fieldNum, wireType, 0, data); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unsupported wire type %d", ErrMalformed, wireType)
		}
	}
	return nil
}
