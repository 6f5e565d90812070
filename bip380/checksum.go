package bip380

import (
	"fmt"
	"strings"
)

// The descriptor character set and the bech32-style checksum alphabet,
// per the descriptor specification. Each input character contributes a
// 5-bit symbol class and a 3-bit group class; groups are folded into an
// extra symbol every three characters to double-encode the input.
const (
	alphabet         = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	checksumAlphabet = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	checksumLen      = 8
)

// generator of the degree-5 BCH code over GF(32) the descriptor
// checksum is built on.
var generator = [5]uint64{0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd}

// expandSymbols maps s to checksum symbols. It fails on characters
// outside the descriptor character set.
func expandSymbols(s string) ([]byte, error) {
	groups := make([]byte, 0, 3)
	syms := make([]byte, 0, len(s)+len(s)/3+checksumLen)
	for i := range len(s) {
		idx := strings.IndexByte(alphabet, s[i])
		if idx == -1 {
			return nil, fmt.Errorf("bip380: character %q outside descriptor charset: %w", s[i], ErrInvalidExpression)
		}
		syms = append(syms, byte(idx)&31)
		groups = append(groups, byte(idx)>>5)
		if len(groups) == 3 {
			syms = append(syms, groups[0]*9+groups[1]*3+groups[2])
			groups = groups[:0]
		}
	}
	switch len(groups) {
	case 1:
		syms = append(syms, groups[0])
	case 2:
		syms = append(syms, groups[0]*3+groups[1])
	}
	return syms, nil
}

// polymod is the 40-bit rolling polynomial over the symbol stream.
func polymod(syms []byte) uint64 {
	chk := uint64(1)
	for _, v := range syms {
		top := chk >> 35
		chk = (chk&0x7ffffffff)<<5 ^ uint64(v)
		for i := range generator {
			if (top>>i)&1 != 0 {
				chk ^= generator[i]
			}
		}
	}
	return chk
}

// Checksum computes the 8-character checksum of the expression. The
// expression must not already carry a checksum; the result is a pure
// function of the given prefix bytes and is independent of wildcard
// substitution.
func Checksum(desc string) (string, error) {
	syms, err := expandSymbols(desc)
	if err != nil {
		return "", err
	}
	syms = append(syms, make([]byte, checksumLen)...)
	sum := polymod(syms) ^ 1
	var res [checksumLen]byte
	for i := range res {
		res[i] = checksumAlphabet[(sum>>(5*(checksumLen-1-byte(i))))&31]
	}
	return string(res[:]), nil
}

// validChecksum reports whether c is the checksum of s.
func validChecksum(s, c string) bool {
	if len(c) != checksumLen {
		return false
	}
	syms, err := expandSymbols(s)
	if err != nil {
		return false
	}
	for i := range len(c) {
		idx := strings.IndexByte(checksumAlphabet, c[i])
		if idx == -1 {
			return false
		}
		syms = append(syms, byte(idx))
	}
	return polymod(syms) == 1
}

// Canonical returns the expression with a freshly computed checksum
// appended, replacing any checksum already present.
func Canonical(desc string) (string, error) {
	if i := strings.LastIndexByte(desc, '#'); i != -1 {
		desc = desc[:i]
	}
	sum, err := Checksum(desc)
	if err != nil {
		return "", err
	}
	return desc + "#" + sum, nil
}
