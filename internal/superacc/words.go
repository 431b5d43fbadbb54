package superacc

import "fmt"

// WordsPerAcc is the length of the word form of one accumulator: its
// carried bins followed by one word of special flags.
const WordsPerAcc = NumBins + 1

// AppendWords carries s and appends its word form to dst. Word forms of
// different accumulators combine element-wise with AddWords, so a reduction
// may split them at any word boundary.
func (s *Superaccumulator) AppendWords(dst []int64) []int64 {
	s.carry()
	dst = append(dst, s.bins[:]...)
	return append(dst, int64(s.special))
}

// AddWords adds src into dst element-wise. off is the position of dst[0]
// within the concatenated word forms; flag words are ORed, bin words added.
func AddWords(dst, src []int64, off int) {
	for i, w := range src {
		if (off+i)%WordsPerAcc == NumBins {
			dst[i] |= w
			continue
		}
		dst[i] += w
	}
}

// SetWords loads a word form that is the AddWords combination of n word
// forms produced by AppendWords.
func (s *Superaccumulator) SetWords(words []int64, n int) error {
	if len(words) != WordsPerAcc {
		return fmt.Errorf("%w: %d words, want %d", ErrCodec, len(words), WordsPerAcc)
	}
	if n < 1 || n > maxPending {
		return fmt.Errorf("%w: combination of %d word forms", ErrCodec, n)
	}
	flags := words[NumBins]
	if flags&^int64(flagNaN|flagPosInf|flagNegInf) != 0 {
		return fmt.Errorf("%w: unknown special flags %#x", ErrCodec, flags)
	}

	copy(s.bins[:], words[:NumBins])
	s.special = uint8(flags)
	// Each carried bin is below 2^BinBits in magnitude, so n word forms
	// count as n deposits.
	s.pending = int64(n)
	return nil
}
