package miniscript

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/ripemd160"
)

// Preimage binds a hash digest appearing in a policy to its 32-byte
// preimage. Digest is a textual hash call such as "sha256(cdab…)" or
// "hash160(90ab…)"; Preimage is the preimage in hex.
type Preimage struct {
	Digest   string
	Preimage string
}

// digest hex lengths per hash function.
var digestLen = map[string]int{
	"sha256":    64,
	"hash256":   64,
	"ripemd160": 40,
	"hash160":   40,
}

// Check validates the digest shape and recomputes it from the preimage.
func (p Preimage) Check() error {
	fn, arg, err := p.split()
	if err != nil {
		return err
	}
	pre, err := hex.DecodeString(p.Preimage)
	if err != nil || len(pre) != 32 {
		return fmt.Errorf("miniscript: preimage must be 32 hex bytes: %q", p.Preimage)
	}
	var sum []byte
	switch fn {
	case "sha256":
		h := sha256.Sum256(pre)
		sum = h[:]
	case "hash256":
		h := sha256.Sum256(pre)
		h = sha256.Sum256(h[:])
		sum = h[:]
	case "ripemd160":
		sum = ripemd(pre)
	case "hash160":
		h := sha256.Sum256(pre)
		sum = ripemd(h[:])
	}
	if !strings.EqualFold(hex.EncodeToString(sum), arg) {
		return fmt.Errorf("miniscript: preimage does not hash to %s", p.Digest)
	}
	return nil
}

// split validates and splits the digest into hash function and hex
// argument.
func (p Preimage) split() (fn, arg string, err error) {
	open := strings.IndexByte(p.Digest, '(')
	if open == -1 || !strings.HasSuffix(p.Digest, ")") {
		return "", "", fmt.Errorf("miniscript: malformed digest %q", p.Digest)
	}
	fn, arg = p.Digest[:open], p.Digest[open+1:len(p.Digest)-1]
	want, ok := digestLen[fn]
	if !ok {
		return "", "", fmt.Errorf("miniscript: unknown hash function %q", fn)
	}
	if _, err := hex.DecodeString(arg); err != nil || len(arg) != want {
		return "", "", fmt.Errorf("miniscript: %s digest must be %d hex chars: %q", fn, want, arg)
	}
	return fn, arg, nil
}

// knownKey is the satisfier token for the preimage, formed by rewriting
// the digest call to its preimage form: sha256(H) → <sha256_preimage(H)>.
func (p Preimage) knownKey() string {
	return "<" + strings.Replace(p.Digest, "(", "_preimage(", 1) + ">"
}

func (p Preimage) knownValue() string {
	return "<" + p.Preimage + ">"
}

func ripemd(b []byte) []byte {
	h := ripemd160.New()
	h.Write(b)
	return h.Sum(nil)
}
