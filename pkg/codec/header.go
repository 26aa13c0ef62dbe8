package codec

import (
	"encoding/binary"
	"fmt"
)

// All consensus protocol messages share a fixed 8-byte header followed by a
// fixed-size body block and optional variable-length fields. Every field is
// little-endian so that all cluster members decode identically regardless of
// host architecture or implementation language.
const (
	HeaderLength = 8

	SchemaID      = 111
	SchemaVersion = 1
)

// Template identifiers for the message bodies defined by this schema.
const (
	TemplateSessionOpen       = 3
	TemplateSessionClose      = 4
	TemplateClusterAction     = 5
	TemplateNewLeadershipTerm = 24
	TemplateCanvassPosition   = 25
)

// Header describes the body that follows it: the block length of the
// fixed-size part, the template that lays it out, and the schema/version that
// produced it. Decoders use the acting block length from the header, not their
// own compiled-in constant, so newer peers with longer blocks remain readable.
type Header struct {
	BlockLength uint16
	TemplateID  uint16
	SchemaID    uint16
	Version     uint16
}

// EncodeHeader writes h at the start of buf. buf must hold HeaderLength bytes.
func EncodeHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint16(buf[0:2], h.BlockLength)
	binary.LittleEndian.PutUint16(buf[2:4], h.TemplateID)
	binary.LittleEndian.PutUint16(buf[4:6], h.SchemaID)
	binary.LittleEndian.PutUint16(buf[6:8], h.Version)
}

// DecodeHeader reads a header from the start of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLength {
		return Header{}, fmt.Errorf("codec: buffer too short for header: %d", len(buf))
	}
	h := Header{
		BlockLength: binary.LittleEndian.Uint16(buf[0:2]),
		TemplateID:  binary.LittleEndian.Uint16(buf[2:4]),
		SchemaID:    binary.LittleEndian.Uint16(buf[4:6]),
		Version:     binary.LittleEndian.Uint16(buf[6:8]),
	}
	if h.SchemaID != SchemaID {
		return Header{}, fmt.Errorf("codec: unexpected schema id %d, want %d", h.SchemaID, SchemaID)
	}
	return h, nil
}

func putBool(buf []byte, v bool) {
	if v {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
}

func getBool(buf []byte) bool { return buf[0] == 1 }

// putString writes a u32 length-prefixed string and returns bytes written.
func putString(buf []byte, s string) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(s)))
	copy(buf[4:], s)
	return 4 + len(s)
}

// getString reads a u32 length-prefixed string and returns it with the number
// of bytes consumed.
func getString(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, fmt.Errorf("codec: buffer too short for string length")
	}
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	if len(buf) < 4+n {
		return "", 0, fmt.Errorf("codec: buffer too short for string of %d bytes", n)
	}
	return string(buf[4 : 4+n]), 4 + n, nil
}
