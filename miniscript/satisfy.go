package miniscript

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Signature pairs a SEC-serialized public key with a signature over it.
// For satisfier probing the signature may be fake; see FakeSignature.
type Signature struct {
	PubKey    []byte
	Signature []byte
}

// FakeSignature returns a 64-byte zero signature for pub, used to probe
// the satisfier for reachable branches before real signatures exist.
func FakeSignature(pub []byte) Signature {
	return Signature{PubKey: pub, Signature: make([]byte, 64)}
}

// Satisfy searches for a non-malleable satisfaction of the expanded
// policy given the signatures and preimages, and materializes it into
// script bytes. keys[k] is the public key bound to @k. Signatures whose
// key does not appear in keys are ignored; they cannot satisfy this
// policy. Without within, the first (cheapest) solution is chosen; with
// within, the solution must match its locktime and sequence exactly,
// since existing signatures commit to those fields.
func Satisfy(e Engine, expanded string, keys [][]byte, sigs []Signature, preimages []Preimage, within *Constraints) (Satisfaction, error) {
	knowns := make(map[string]string)
	for _, p := range preimages {
		if err := p.Check(); err != nil {
			return Satisfaction{}, err
		}
		knowns[p.knownKey()] = p.knownValue()
	}
	for _, sig := range sigs {
		k := keyIndex(keys, sig.PubKey)
		if k == -1 {
			continue
		}
		knowns[fmt.Sprintf("<sig(@%d)>", k)] = "<" + hex.EncodeToString(sig.Signature) + ">"
	}
	keyList := make([]string, 0, len(knowns))
	for k := range knowns {
		keyList = append(keyList, k)
	}
	sols, err := e.Satisfy(expanded, keyList)
	if err != nil {
		return Satisfaction{}, fmt.Errorf("miniscript: satisfy: %w", err)
	}
	sol, err := choose(sols, within)
	if err != nil {
		return Satisfaction{}, err
	}
	asm := sol.ASM
	for k, v := range knowns {
		asm = strings.ReplaceAll(asm, k, v)
	}
	asm, err = substituteKeys(asm, keys)
	if err != nil {
		return Satisfaction{}, err
	}
	script, err := Assemble(asm)
	if err != nil {
		return Satisfaction{}, err
	}
	return Satisfaction{
		Script:   script,
		LockTime: sol.LockTime,
		Sequence: sol.Sequence,
	}, nil
}

// choose selects the satisfaction to materialize. Engines return
// solutions cheapest first.
func choose(sols []Solution, within *Constraints) (Solution, error) {
	if within == nil {
		if len(sols) == 0 {
			return Solution{}, ErrUnresolvable
		}
		return sols[0], nil
	}
	for _, s := range sols {
		if s.LockTime == within.LockTime && s.Sequence == within.Sequence {
			return s, nil
		}
	}
	return Solution{}, ErrConstraintsUnmet
}

func keyIndex(keys [][]byte, pub []byte) int {
	for i, k := range keys {
		if bytes.Equal(k, pub) {
			return i
		}
	}
	return -1
}
