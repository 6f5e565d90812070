package bip380

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"descriptors.dev/miniscript"
)

// The script templates compiled without the miniscript engine. They
// carry no timelocks, so their spending constraints are always absent.
type templateKind int

const (
	tmplPK templateKind = iota
	tmplPKH
	tmplMulti
	tmplSortedMulti
)

type template struct {
	kind      templateKind
	threshold int
	// keys in script order: argument order for multi, BIP67 sorted
	// for sortedmulti.
	keys [][]byte
}

// p2shTemplates are the inner forms allowed in bare sh() without
// Options.AllowMiniscriptInP2SH. Everything else is rejected to
// discourage malleable P2SH uses.
var p2shTemplates = []string{
	"pk(", "pkh(", "wpkh(", "combo(", "multi(", "sortedmulti(", "multi_a(", "sortedmulti_a(",
}

func templateAllowedInP2SH(ms string) bool {
	for _, prefix := range p2shTemplates {
		if strings.HasPrefix(ms, prefix) {
			return true
		}
	}
	return false
}

// parseTemplate recognizes the engine-free template forms in expanded
// notation: pk(@0), pkh(@0), multi(k,@0,…) and sortedmulti(k,@0,…).
func parseTemplate(expanded string, expansion ExpansionMap) (*template, bool) {
	name, rest, ok := strings.Cut(expanded, "(")
	if !ok || !strings.HasSuffix(rest, ")") {
		return nil, false
	}
	args := strings.Split(rest[:len(rest)-1], ",")
	t := &template{threshold: 1}
	switch name {
	case "pk":
		t.kind = tmplPK
	case "pkh":
		t.kind = tmplPKH
	case "multi":
		t.kind = tmplMulti
	case "sortedmulti":
		t.kind = tmplSortedMulti
	default:
		return nil, false
	}
	if t.kind == tmplMulti || t.kind == tmplSortedMulti {
		if len(args) < 2 {
			return nil, false
		}
		k, err := strconv.Atoi(args[0])
		if err != nil || k < 1 || k > len(args)-1 {
			return nil, false
		}
		t.threshold = k
		args = args[1:]
	} else if len(args) != 1 {
		return nil, false
	}
	for _, a := range args {
		if !strings.HasPrefix(a, "@") {
			return nil, false
		}
		k, err := strconv.Atoi(a[1:])
		if err != nil || k < 0 || k >= len(expansion) {
			return nil, false
		}
		t.keys = append(t.keys, expansion[k].PubKey)
	}
	if t.kind == tmplSortedMulti {
		t.keys = slices.Clone(t.keys)
		slices.SortFunc(t.keys, bytes.Compare)
	}
	return t, true
}

// script compiles the template to output script bytes.
func (t *template) script(network *chaincfg.Params) ([]byte, error) {
	switch t.kind {
	case tmplPK:
		return txscript.NewScriptBuilder().
			AddData(t.keys[0]).AddOp(txscript.OP_CHECKSIG).Script()
	case tmplPKH:
		return txscript.NewScriptBuilder().
			AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
			AddData(btcutil.Hash160(t.keys[0])).
			AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
			Script()
	default:
		addrs := make([]*btcutil.AddressPubKey, len(t.keys))
		for i, k := range t.keys {
			addr, err := btcutil.NewAddressPubKey(k, network)
			if err != nil {
				return nil, fmt.Errorf("bip380: %w", err)
			}
			addrs[i] = addr
		}
		return txscript.MultiSigScript(addrs, t.threshold)
	}
}

// satisfaction assembles the unlocking pushes for the template given
// real signatures. Signatures are matched to keys in script order; for
// multisig the extra stack element consumed by OP_CHECKMULTISIG is the
// canonical empty push.
func (t *template) satisfaction(sigs []miniscript.Signature) ([]byte, error) {
	sigFor := func(key []byte) []byte {
		for _, s := range sigs {
			if bytes.Equal(s.PubKey, key) {
				return s.Signature
			}
		}
		return nil
	}
	b := txscript.NewScriptBuilder()
	switch t.kind {
	case tmplPK:
		sig := sigFor(t.keys[0])
		if sig == nil {
			return nil, miniscript.ErrUnresolvable
		}
		b.AddData(sig)
	case tmplPKH:
		sig := sigFor(t.keys[0])
		if sig == nil {
			return nil, miniscript.ErrUnresolvable
		}
		b.AddData(sig).AddData(t.keys[0])
	default:
		b.AddOp(txscript.OP_0)
		n := 0
		for _, key := range t.keys {
			if n == t.threshold {
				break
			}
			if sig := sigFor(key); sig != nil {
				b.AddData(sig)
				n++
			}
		}
		if n < t.threshold {
			return nil, fmt.Errorf("bip380: have %d of %d signatures: %w", n, t.threshold, miniscript.ErrUnresolvable)
		}
	}
	script, err := b.Script()
	if err != nil {
		return nil, fmt.Errorf("bip380: %w", err)
	}
	return script, nil
}
