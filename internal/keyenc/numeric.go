// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package keyenc

import "errors"

// Numeric key layout. A value encodes as a header byte carrying sign and
// decimal exponent, a run of digit-pair bytes, and numEnd. Negative values
// are the byte-wise complement of their magnitude. All bytes are non-zero.
const (
	numZero = 0x80
	numEnd  = 0x01

	// Exponents up to inlineExponent live in the header byte itself.
	inlineExponent = 61
	intHeaderBase  = 0xC0 // + e, for 1 <= e <= 61
	intOverflow    = 0xFE // followed by overflow bytes
	fracHeaderBase = 0xBF // - m, for 0 <= m <= 61
	fracOverflow   = 0x81 // followed by complemented overflow bytes

	overflowCont = 0xFE
	overflowSpan = 253

	// MaxExponent is the largest decimal exponent the encoding can carry.
	MaxExponent = inlineExponent + 1 + 2*overflowSpan - 1
)

// Out-of-range sentinels. Each repeats the continuation byte where an
// in-range header must carry its final overflow byte, so it sorts beyond
// every representable value on its side of zero and is never a prefix of
// another encoding, also once complemented for negative values. Fraction
// headers store their overflow bytes complemented, hence 0x01.
var (
	hugeSentinel = []byte{intOverflow, overflowCont, overflowCont}
	tinySentinel = []byte{fracOverflow, 0x01, 0x01}
)

// ErrNumericOverflow reports a number whose decimal exponent exceeds
// MaxExponent. The key still gets a sentinel that orders it beyond every
// representable value of the same sign.
var ErrNumericOverflow = errors.New("numeric field exponent out of range")

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// AppendNumber appends the byte-comparable encoding of the leading decimal
// number in field to dst. Leading blanks are skipped, an optional '-' sign is
// honoured, and anything that is not a number encodes as zero. With reverse
// the encoding is complemented.
func AppendNumber(dst, field []byte, reverse bool) ([]byte, error) {
	mark := len(dst)
	dst, err := appendSigned(dst, field)
	if reverse {
		complement(dst[mark:])
	}
	return dst, err
}

func appendSigned(dst, s []byte) ([]byte, error) {
	i := skipBlanks(s, 0)
	neg := false
	if i < len(s) && s[i] == '-' {
		neg = true
		i++
	}
	for i < len(s) && s[i] == '0' {
		i++
	}
	intStart := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	intDigits := s[intStart:i]
	var frac []byte
	if i < len(s) && s[i] == '.' {
		i++
		fs := i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		frac = s[fs:i]
	}

	mark := len(dst)
	if len(intDigits) > 0 {
		e := len(intDigits)
		if e > MaxExponent {
			return appendSentinel(dst, hugeSentinel, neg), ErrNumericOverflow
		}
		dst = appendIntHeader(dst, e)
		dst = appendMantissa(dst, intDigits, frac)
	} else {
		m := 0
		for m < len(frac) && frac[m] == '0' {
			m++
		}
		rest := trimZeros(frac[m:])
		if len(rest) == 0 {
			return append(dst, numZero), nil
		}
		if m > MaxExponent {
			// Too small to represent: order just beside zero.
			return appendSentinel(dst, tinySentinel, neg), ErrNumericOverflow
		}
		dst = appendFracHeader(dst, m)
		dst = appendMantissa(dst, rest, nil)
	}
	if neg {
		complement(dst[mark:])
	}
	return dst, nil
}

func appendSentinel(dst, sentinel []byte, neg bool) []byte {
	mark := len(dst)
	dst = append(dst, sentinel...)
	if neg {
		complement(dst[mark:])
	}
	return dst
}

func appendIntHeader(dst []byte, e int) []byte {
	if e <= inlineExponent {
		return append(dst, byte(intHeaderBase+e))
	}
	dst = append(dst, intOverflow)
	return appendOverflow(dst, e-inlineExponent-1)
}

func appendFracHeader(dst []byte, m int) []byte {
	if m <= inlineExponent {
		return append(dst, byte(fracHeaderBase-m))
	}
	dst = append(dst, fracOverflow)
	mark := len(dst)
	dst = appendOverflow(dst, m-inlineExponent-1)
	complement(dst[mark:])
	return dst
}

// appendOverflow writes r as at most one continuation byte and a final byte
// in 1..overflowSpan.
func appendOverflow(dst []byte, r int) []byte {
	if r >= overflowSpan {
		dst = append(dst, overflowCont)
		r -= overflowSpan
	}
	return append(dst, byte(r%overflowSpan+1))
}

// appendMantissa packs the significant digits of a followed by b two per
// byte, trailing zeros dropped, then numEnd.
func appendMantissa(dst, a, b []byte) []byte {
	n := len(a) + len(b)
	at := func(i int) byte {
		if i < len(a) {
			return a[i] - '0'
		}
		return b[i-len(a)] - '0'
	}
	for n > 0 && at(n-1) == 0 {
		n--
	}
	for i := 0; i < n; i += 2 {
		hi := at(i)
		var lo byte
		if i+1 < n {
			lo = at(i + 1)
		}
		dst = append(dst, 2+10*hi+lo)
	}
	return append(dst, numEnd)
}

func trimZeros(s []byte) []byte {
	n := len(s)
	for n > 0 && s[n-1] == '0' {
		n--
	}
	return s[:n]
}

func complement(b []byte) {
	for i := range b {
		b[i] = ^b[i]
	}
}
