package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/statesync/internal/protocol/packet"
)

// LengthPrefixLen is the size of the int32 content-length header.
const LengthPrefixLen = 4

var (
	ErrFrameTooLarge = errors.New("frame: declared length exceeds limit")
	ErrShortDatagram = errors.New("frame: datagram shorter than 4 bytes")
)

// Limits constrains frame decode memory use.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 1 << 20,
	}
}

// Encode prefixes content ([packetType][payload]) with its int32 length.
func Encode(content []byte) []byte {
	out := make([]byte, LengthPrefixLen+len(content))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(content)))
	copy(out[LengthPrefixLen:], content)
	return out
}

// EncodeAuthorityDatagram builds a peer->authority datagram:
// [int32 senderPeerId][int32 len][content].
func EncodeAuthorityDatagram(peerID int32, content []byte) []byte {
	out := make([]byte, 4+LengthPrefixLen+len(content))
	binary.LittleEndian.PutUint32(out[0:4], uint32(peerID))
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(content)))
	copy(out[8:], content)
	return out
}

// EncodePunch builds the id-only datagram a peer sends so the authority
// learns its UDP endpoint.
func EncodePunch(peerID int32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(peerID))
	return out
}

// SplitAuthorityDatagram parses a datagram received by the authoritative side.
// A datagram holding only the sender id is a punch and yields nil content.
func SplitAuthorityDatagram(b []byte) (int32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, ErrShortDatagram
	}
	p := packet.FromBytes(b)
	peerID, _ := p.ReadInt32()
	if p.UnreadLen() == 0 {
		return peerID, nil, nil
	}
	content, err := readContent(p)
	if err != nil {
		return peerID, nil, err
	}
	return peerID, content, nil
}

// SplitPeerDatagram parses a datagram received by a peer from the authority.
func SplitPeerDatagram(b []byte) ([]byte, error) {
	if len(b) < 4 {
		return nil, ErrShortDatagram
	}
	return readContent(packet.FromBytes(b))
}

func readContent(p *packet.Packet) ([]byte, error) {
	n, err := p.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: content length %d", packet.ErrInvalidLength, n)
	}
	return p.ReadBytes(int(n))
}
