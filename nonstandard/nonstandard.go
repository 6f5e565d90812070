// package nonstandard recognizes output descriptors in the loose
// formats wallets actually export: bare expressions, JSON wrappers and
// BlueWallet-style multisig setup files. Everything is normalized to a
// canonical descriptor expression with checksum, ready for bip380.
package nonstandard

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	"descriptors.dev/bip32"
	"descriptors.dev/bip380"
)

// OutputDescriptor normalizes enc to a descriptor expression with a
// checksum. It recognizes a textual expression (with or without
// checksum), a JSON object with a "descriptor" field, and the
// BlueWallet multisig setup file format.
func OutputDescriptor(enc []byte) (string, error) {
	header, _, _ := bytes.Cut(enc, []byte("\n"))
	if bytes.HasPrefix(header, []byte("# ")) && (bytes.Contains(header, []byte("Multisig setup file")) || bytes.Contains(header, []byte("Exported from Nunchuk"))) {
		return parseBlueWalletDescriptor(string(enc))
	}
	expr := strings.TrimSpace(string(enc))
	if canon, err := bip380.Canonical(expr); err == nil && looksLikeDescriptor(expr) {
		return canon, nil
	}
	var jsonDesc struct {
		Descriptor string `json:"descriptor"`
	}
	if err := json.Unmarshal(enc, &jsonDesc); err == nil && looksLikeDescriptor(jsonDesc.Descriptor) {
		return bip380.Canonical(jsonDesc.Descriptor)
	}
	return "", errors.New("nonstandard: unrecognized output descriptor format")
}

// looksLikeDescriptor is a cheap shape test: a known top-level function
// wrapping a parenthesized body.
func looksLikeDescriptor(expr string) bool {
	if i := strings.LastIndexByte(expr, '#'); i != -1 {
		expr = expr[:i]
	}
	name, rest, ok := strings.Cut(expr, "(")
	if !ok || !strings.HasSuffix(rest, ")") {
		return false
	}
	switch name {
	case "addr", "pk", "pkh", "wpkh", "sh", "wsh", "tr":
		return true
	}
	return false
}

// parseBlueWalletDescriptor converts a multisig setup file into a
// sortedmulti descriptor expression.
func parseBlueWalletDescriptor(txt string) (string, error) {
	var (
		threshold, nkeys int
		script           string
		path             bip32.Path
		keys             []string
	)
	seen := make(map[string]string)
	for _, l := range strings.Split(txt, "\n") {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		key, val, ok := strings.Cut(l, ": ")
		if !ok {
			return "", fmt.Errorf("nonstandard: invalid header: %q", l)
		}
		if old, dup := seen[key]; dup {
			if old != val {
				return "", fmt.Errorf("nonstandard: inconsistent header value %q", key)
			}
			continue
		}
		seen[key] = val
		switch key {
		case "Name":
		case "Policy":
			if _, err := fmt.Sscanf(val, "%d of %d", &threshold, &nkeys); err != nil {
				return "", fmt.Errorf("nonstandard: invalid Policy header: %q", val)
			}
		case "Derivation":
			p, err := bip32.ParsePath(val)
			if err != nil {
				return "", fmt.Errorf("nonstandard: invalid derivation: %q", val)
			}
			path = p
		case "Format":
			switch val {
			case "P2WSH":
				script = "wsh"
			case "P2SH":
				script = "sh"
			case "P2WSH-P2SH":
				script = "sh+wsh"
			default:
				return "", fmt.Errorf("nonstandard: unknown format %q", val)
			}
		default:
			if _, err := hdkeychain.NewKeyFromString(val); err != nil {
				return "", fmt.Errorf("nonstandard: invalid xpub: %q", val)
			}
			fp, err := hex.DecodeString(key)
			if err != nil || len(fp) != 4 {
				return "", fmt.Errorf("nonstandard: invalid fingerprint: %q", key)
			}
			keys = append(keys, fmt.Sprintf("[%08x%s]%s", binary.BigEndian.Uint32(fp), path.Encode(), val))
		}
	}
	if script == "" {
		return "", errors.New("nonstandard: missing Format header")
	}
	if nkeys != len(keys) {
		return "", fmt.Errorf("nonstandard: expected %d keys, but got %d", nkeys, len(keys))
	}
	expr := "sortedmulti(" + fmt.Sprint(threshold) + "," + strings.Join(keys, ",") + ")"
	switch script {
	case "wsh":
		expr = "wsh(" + expr + ")"
	case "sh":
		expr = "sh(" + expr + ")"
	case "sh+wsh":
		expr = "sh(wsh(" + expr + "))"
	}
	return bip380.Canonical(expr)
}
