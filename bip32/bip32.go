// package bip32 contains helper functions for operating on bitcoin bip32
// extended keys and derivation paths.
package bip32

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ErrHardenedFromPublic is reported when a hardened child is requested
// from a neutered (public-only) extended key.
var ErrHardenedFromPublic = errors.New("bip32: hardened derivation from public key")

// Path is a bip32 derivation path. Hardened elements carry the
// hardening offset.
type Path []uint32

func (p Path) String() string {
	return "m" + p.Encode()
}

// Encode returns the path in descriptor form, without the leading "m".
func (p Path) Encode() string {
	var b strings.Builder
	for _, e := range p {
		suffix := ""
		if e >= hdkeychain.HardenedKeyStart {
			e -= hdkeychain.HardenedKeyStart
			suffix = "h"
		}
		fmt.Fprintf(&b, "/%d%s", e, suffix)
	}
	return b.String()
}

// ParsePathElement parses a single path element with an optional
// "h" or "'" hardening suffix.
func ParsePathElement(p string) (uint32, error) {
	offset := uint32(0)
	if strings.HasSuffix(p, "h") || strings.HasSuffix(p, "H") || strings.HasSuffix(p, "'") {
		offset = hdkeychain.HardenedKeyStart
		p = p[:len(p)-1]
	}
	if strings.HasPrefix(p, "-") {
		return 0, fmt.Errorf("bip32: invalid path element: %q", p)
	}
	idx, err := strconv.ParseInt(p, 10, 0)
	if err != nil {
		return 0, fmt.Errorf("bip32: invalid path element: %q", p)
	}
	iu32 := uint32(idx)
	if int64(iu32) != idx || iu32+offset < iu32 {
		return 0, fmt.Errorf("bip32: path element out of range: %q", p)
	}
	return iu32 + offset, nil
}

// ParsePath parses a derivation path such as "49h/0h/0h" or "m/49h/0h/0h".
// The leading "m" is optional.
func ParsePath(path string) (Path, error) {
	parts := strings.Split(path, "/")
	if len(parts) > 0 && parts[0] == "m" {
		parts = parts[1:]
	}
	var res Path
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("bip32: empty path element in %q", path)
		}
		e, err := ParsePathElement(p)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// Fingerprint identifies a key by the leading 4 bytes of its hash160,
// read big-endian.
func Fingerprint(pkey *secp256k1.PublicKey) uint32 {
	h := btcutil.Hash160(pkey.SerializeCompressed())
	return binary.BigEndian.Uint32(h[:4])
}

// Derive walks path from key. Deriving a hardened child of a neutered
// key reports ErrHardenedFromPublic.
func Derive(key *hdkeychain.ExtendedKey, path Path) (*hdkeychain.ExtendedKey, error) {
	for _, p := range path {
		if p >= hdkeychain.HardenedKeyStart && !key.IsPrivate() {
			return nil, ErrHardenedFromPublic
		}
		child, err := key.Derive(p)
		if err != nil {
			if errors.Is(err, hdkeychain.ErrDeriveHardFromPublic) {
				return nil, ErrHardenedFromPublic
			}
			return nil, err
		}
		key = child
	}
	return key, nil
}

// DerivePub is Derive followed by neutering, yielding the public
// extended key at path.
func DerivePub(key *hdkeychain.ExtendedKey, path Path) (*hdkeychain.ExtendedKey, error) {
	key, err := Derive(key, path)
	if err != nil {
		return nil, err
	}
	return key.Neuter()
}

// NetworkFor reports the network the extended key is serialized for.
func NetworkFor(xpub *hdkeychain.ExtendedKey) (*chaincfg.Params, error) {
	networks := []*chaincfg.Params{
		&chaincfg.MainNetParams,
		&chaincfg.TestNet3Params,
		&chaincfg.RegressionNetParams,
		&chaincfg.SimNetParams,
	}
	for _, n := range networks {
		if xpub.IsForNet(n) {
			return n, nil
		}
	}
	return nil, errors.New("bip32: unknown network")
}
