// Package segment implements the 8-byte multiplex header the muxer and
// demuxer speak, adapted from the teacher's NetworkEnvelope codec: a
// fixed-layout header is written field by field with encoding/binary and
// read back with io.ReadFull, but the layout and byte order are the
// Ouroboros ones (big-endian, timestamp+protocol+length) rather than
// Bitcoin's (little-endian magic+command+checksum).
package segment

import (
	"encoding/binary"
	"fmt"
	"io"

	"ouroboros/internal/protocol"
)

// HeaderLen is the fixed size of a segment header in bytes.
const HeaderLen = 8

// MaxPayload is the largest payload a single segment may carry: the
// length field is a 16-bit unsigned integer.
const MaxPayload = 1<<16 - 1

// roleBit is the top bit of the mode_and_protocol field.
const roleBit = 1 << 15

// Segment is one frame of the multiplex wire format: an 8-byte header
// (timestamp, mode+protocol, length) followed by length bytes of payload.
type Segment struct {
	TimestampUs uint32
	Protocol    protocol.Num
	Role        protocol.Role
	Payload     []byte
}

// Encode serializes s into its wire representation. It fails if the
// payload exceeds MaxPayload.
func Encode(s Segment) ([]byte, error) {
	if len(s.Payload) > MaxPayload {
		return nil, fmt.Errorf("segment: payload of %d bytes exceeds max %d", len(s.Payload), MaxPayload)
	}
	buf := make([]byte, HeaderLen+len(s.Payload))
	binary.BigEndian.PutUint32(buf[0:4], s.TimestampUs)

	modeAndProtocol := uint16(s.Protocol)
	if s.Role == protocol.RoleResponder {
		modeAndProtocol |= roleBit
	}
	binary.BigEndian.PutUint16(buf[4:6], modeAndProtocol)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(s.Payload)))
	copy(buf[8:], s.Payload)
	return buf, nil
}

// Decode reads one full segment from r, blocking until the header and
// payload have both arrived or an error (including io.EOF) occurs.
func Decode(r io.Reader) (Segment, error) {
	header := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return Segment{}, err
	}

	timestampUs := binary.BigEndian.Uint32(header[0:4])
	modeAndProtocol := binary.BigEndian.Uint16(header[4:6])
	length := binary.BigEndian.Uint16(header[6:8])

	role := protocol.RoleInitiator
	if modeAndProtocol&roleBit != 0 {
		role = protocol.RoleResponder
	}
	protoNum := protocol.Num(modeAndProtocol &^ roleBit)

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Segment{}, fmt.Errorf("segment: short payload for protocol %d: %w", protoNum, err)
		}
	}

	return Segment{
		TimestampUs: timestampUs,
		Protocol:    protoNum,
		Role:        role,
		Payload:     payload,
	}, nil
}
