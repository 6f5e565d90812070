package bip380

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// ExpansionMap binds positional variables to resolved keys: the key at
// position k is the one every @k token stands for. Positions reflect
// first appearance in the original policy, so the map is dense and
// insertion-ordered by construction.
type ExpansionMap []Key

// PubKeys returns the SEC-serialized public keys in variable order.
func (m ExpansionMap) PubKeys() [][]byte {
	keys := make([][]byte, len(m))
	for i, k := range m {
		keys[i] = k.PubKey
	}
	return keys
}

// IndexOf returns the variable index bound to pub, or -1.
func (m ExpansionMap) IndexOf(pub []byte) int {
	for i, k := range m {
		if bytes.Equal(k.PubKey, pub) {
			return i
		}
	}
	return -1
}

// expandMiniscript rewrites the policy with every key expression
// replaced by its positional variable. Repeated occurrences of one
// expression share a variable; two distinct expressions resolving to
// the same public key are rejected.
func expandMiniscript(ms string, network *chaincfg.Params, segwit bool) (string, ExpansionMap, error) {
	var out strings.Builder
	var expansion ExpansionMap
	byToken := make(map[string]int)
	for i := 0; i < len(ms); {
		j := i
		for j < len(ms) && !isDelimiter(ms[j]) {
			j++
		}
		if j == i {
			out.WriteByte(ms[i])
			i++
			continue
		}
		tok := ms[i:j]
		i = j
		if !keyExprRe.MatchString(tok) {
			out.WriteString(tok)
			continue
		}
		idx, seen := byToken[tok]
		if !seen {
			key, err := ParseKey(tok, network, segwit)
			if err != nil {
				return "", nil, err
			}
			if dup := expansion.IndexOf(key.PubKey); dup != -1 {
				return "", nil, fmt.Errorf("bip380: %q and %q: %w", expansion[dup].String(), tok, ErrDuplicateKey)
			}
			idx = len(expansion)
			byToken[tok] = idx
			expansion = append(expansion, key)
		}
		fmt.Fprintf(&out, "@%d", idx)
	}
	return out.String(), expansion, nil
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', ',', ' ', '\t':
		return true
	}
	return false
}
