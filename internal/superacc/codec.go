package superacc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	codecMagic   = "XACC"
	codecVersion = 1
	headerSize   = 16
)

// EncodedSize is the length of one marshaled accumulator.
const EncodedSize = headerSize + NumBins*8

// ErrCodec reports a malformed encoded accumulator.
var ErrCodec = errors.New("superacc: malformed encoding")

// MarshalBinary encodes s as a fixed-size little-endian record.
func (s *Superaccumulator) MarshalBinary() ([]byte, error) {
	return s.AppendBinary(make([]byte, 0, EncodedSize))
}

// AppendBinary appends the encoding of s to b.
func (s *Superaccumulator) AppendBinary(b []byte) ([]byte, error) {
	b = append(b, codecMagic...)
	b = append(b, codecVersion, s.special, 0, 0)
	b = binary.LittleEndian.AppendUint64(b, uint64(s.pending))
	for _, v := range s.bins {
		b = binary.LittleEndian.AppendUint64(b, uint64(v))
	}
	return b, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (s *Superaccumulator) UnmarshalBinary(data []byte) error {
	if len(data) != EncodedSize {
		return fmt.Errorf("%w: length %d, want %d", ErrCodec, len(data), EncodedSize)
	}
	if string(data[:4]) != codecMagic {
		return fmt.Errorf("%w: bad magic %q", ErrCodec, data[:4])
	}
	if data[4] != codecVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCodec, data[4])
	}
	special := data[5]
	if special&^(flagNaN|flagPosInf|flagNegInf) != 0 {
		return fmt.Errorf("%w: unknown special flags %#x", ErrCodec, special)
	}
	pending := int64(binary.LittleEndian.Uint64(data[8:16]))
	if pending < 0 || pending > maxPending {
		return fmt.Errorf("%w: pending count %d out of range", ErrCodec, pending)
	}

	s.special = special
	s.pending = pending
	for i := range s.bins {
		s.bins[i] = int64(binary.LittleEndian.Uint64(data[headerSize+8*i:]))
	}
	return nil
}

// MarshalBatch encodes accs back to back.
func MarshalBatch(accs []Superaccumulator) []byte {
	b := make([]byte, 0, len(accs)*EncodedSize)
	for i := range accs {
		b, _ = accs[i].AppendBinary(b)
	}
	return b
}

// UnmarshalBatch decodes a MarshalBatch payload into accs, which must have
// the matching length.
func UnmarshalBatch(data []byte, accs []Superaccumulator) error {
	if len(data) != len(accs)*EncodedSize {
		return fmt.Errorf("%w: batch length %d, want %d", ErrCodec, len(data), len(accs)*EncodedSize)
	}
	for i := range accs {
		if err := accs[i].UnmarshalBinary(data[i*EncodedSize : (i+1)*EncodedSize]); err != nil {
			return fmt.Errorf("accumulator %d: %w", i, err)
		}
	}
	return nil
}
