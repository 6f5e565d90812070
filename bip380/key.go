package bip380

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"descriptors.dev/bip32"
)

// ErrHardenedFromXpub is reported when a public extended key is asked
// to derive through a hardened step.
var ErrHardenedFromXpub = bip32.ErrHardenedFromPublic

// Key is a resolved key expression.
type Key struct {
	Network *chaincfg.Params

	// PubKey is the SEC serialization of the resolved public key,
	// 33 bytes compressed or 65 bytes uncompressed.
	PubKey []byte

	// MasterFingerprint and OriginPath are the key origin from the
	// [fpr/path] prefix, if present.
	MasterFingerprint uint32
	OriginPath        bip32.Path

	// KeyPath is the derivation walked below the extended key.
	KeyPath bip32.Path

	// XPub is the extended key the expression named, nil for raw and
	// WIF keys. Private extended keys are kept as given.
	XPub *hdkeychain.ExtendedKey

	// WIF is set for WIF-encoded private keys.
	WIF *btcutil.WIF
}

const (
	originPat = `\[[0-9a-fA-F]{8}(?:/[0-9]+[hH']?)*\]`
	hexKeyPat = `0[23][0-9a-fA-F]{64}|04[0-9a-fA-F]{128}`
	wifPat    = `[5KL9c][1-9A-HJ-NP-Za-km-z]{50,51}`
	xkeyPat   = `[xt](?:pub|prv)[1-9A-HJ-NP-Za-km-z]{100,120}(?:/[0-9]+[hH']?)*`
)

// keyExprRe recognizes a complete key expression: an optional origin
// followed by a raw hex key, a WIF key, or an extended key with an
// optional unhardened or hardened child path. Wildcards are substituted
// before key expressions are parsed, so paths are purely numeric here.
var keyExprRe = regexp.MustCompile(`^(?:` + originPat + `)?(?:` + hexKeyPat + `|` + wifPat + `|` + xkeyPat + `)$`)

var (
	hexKeyRe = regexp.MustCompile(`^(?:` + hexKeyPat + `)$`)
	wifRe    = regexp.MustCompile(`^(?:` + wifPat + `)$`)
)

// ParseKey resolves a single key expression for the given network.
// Uncompressed keys are rejected when segwit is set: segwit outputs
// commit to compressed keys only.
func ParseKey(token string, network *chaincfg.Params, segwit bool) (Key, error) {
	key := Key{Network: network}
	rest := token
	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return Key{}, fmt.Errorf("bip380: missing ']' in %q: %w", token, ErrInvalidKey)
		}
		origin := rest[1:end]
		rest = rest[end+1:]
		fprEnd := strings.IndexByte(origin, '/')
		fprHex := origin
		if fprEnd != -1 {
			fprHex = origin[:fprEnd]
		}
		fpr, err := hex.DecodeString(fprHex)
		if err != nil || len(fpr) != 4 {
			return Key{}, fmt.Errorf("bip380: invalid origin fingerprint in %q: %w", token, ErrInvalidKey)
		}
		key.MasterFingerprint = binary.BigEndian.Uint32(fpr)
		if fprEnd != -1 {
			path, err := bip32.ParsePath(origin[fprEnd+1:])
			if err != nil {
				return Key{}, fmt.Errorf("bip380: invalid origin path in %q: %w", token, ErrInvalidKey)
			}
			key.OriginPath = path
		}
	}
	switch {
	case hexKeyRe.MatchString(rest):
		raw, err := hex.DecodeString(rest)
		if err != nil {
			return Key{}, fmt.Errorf("bip380: %q: %w", token, ErrInvalidKey)
		}
		if _, err := btcec.ParsePubKey(raw); err != nil {
			return Key{}, fmt.Errorf("bip380: %q: %v: %w", token, err, ErrInvalidKey)
		}
		if segwit && len(raw) != 33 {
			return Key{}, fmt.Errorf("bip380: %q: %w", token, ErrUncompressedKey)
		}
		key.PubKey = raw
	case wifRe.MatchString(rest):
		wif, err := btcutil.DecodeWIF(rest)
		if err != nil {
			return Key{}, fmt.Errorf("bip380: %q: %v: %w", token, err, ErrInvalidKey)
		}
		if !wif.IsForNet(network) {
			return Key{}, fmt.Errorf("bip380: WIF key for wrong network: %w", ErrInvalidKey)
		}
		if segwit && !wif.CompressPubKey {
			return Key{}, fmt.Errorf("bip380: %q: %w", token, ErrUncompressedKey)
		}
		key.WIF = wif
		key.PubKey = wif.SerializePubKey()
	default:
		xkey, path, _ := strings.Cut(rest, "/")
		xpub, err := hdkeychain.NewKeyFromString(xkey)
		if err != nil {
			return Key{}, fmt.Errorf("bip380: %q: %v: %w", token, err, ErrInvalidKey)
		}
		if !xpub.IsForNet(network) {
			return Key{}, fmt.Errorf("bip380: extended key for wrong network: %w", ErrInvalidKey)
		}
		if path != "" {
			key.KeyPath, err = bip32.ParsePath(path)
			if err != nil {
				return Key{}, fmt.Errorf("bip380: %q: %v: %w", token, err, ErrInvalidKey)
			}
		}
		final, err := bip32.Derive(xpub, key.KeyPath)
		if err != nil {
			return Key{}, fmt.Errorf("bip380: %q: %w", token, err)
		}
		pub, err := final.ECPubKey()
		if err != nil {
			return Key{}, fmt.Errorf("bip380: %q: %v: %w", token, err, ErrInvalidKey)
		}
		key.XPub = xpub
		key.PubKey = pub.SerializeCompressed()
	}
	return key, nil
}

// FullPath is the origin path extended with the key path, the complete
// derivation from the master key to the resolved public key.
func (k Key) FullPath() bip32.Path {
	if len(k.OriginPath) == 0 && len(k.KeyPath) == 0 {
		return nil
	}
	path := make(bip32.Path, 0, len(k.OriginPath)+len(k.KeyPath))
	path = append(path, k.OriginPath...)
	return append(path, k.KeyPath...)
}

// String re-renders the key expression in canonical form.
func (k Key) String() string {
	var b strings.Builder
	if k.MasterFingerprint != 0 || len(k.OriginPath) > 0 {
		fmt.Fprintf(&b, "[%08x", k.MasterFingerprint)
		b.WriteString(k.OriginPath.Encode())
		b.WriteByte(']')
	}
	switch {
	case k.WIF != nil:
		b.WriteString(k.WIF.String())
	case k.XPub != nil:
		b.WriteString(k.XPub.String())
		b.WriteString(k.KeyPath.Encode())
	default:
		b.WriteString(hex.EncodeToString(k.PubKey))
	}
	return b.String()
}
