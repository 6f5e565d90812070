// package bip380 parses and evaluates bitcoin output descriptors with
// embedded miniscript policies. A descriptor expression is validated
// against its checksum, wildcards are pinned to a derivation index, key
// expressions are resolved and replaced by positional variables, the
// policy is compiled to script bytes through an external miniscript
// engine, and a satisfier search produces the unlocking data and the
// nLockTime/nSequence values a spend must commit to.
package bip380

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"

	"descriptors.dev/miniscript"
)

// Options configures descriptor construction.
type Options struct {
	// Network the descriptor addresses and keys belong to. Nil means
	// mainnet.
	Network *chaincfg.Params

	// ChecksumRequired rejects expressions without a #checksum suffix.
	ChecksumRequired bool

	// AllowMiniscriptInP2SH permits arbitrary miniscript inside bare
	// sh(). Off by default: bare P2SH miniscript is easy to render
	// malleable.
	AllowMiniscriptInP2SH bool

	// AddressOnly skips the satisfier probe at construction for
	// descriptors only used to compute addresses and scripts. Spending
	// constraints are then unknown and satisfactions unavailable.
	AddressOnly bool

	// Engine compiles and satisfies miniscript policies. Required for
	// policies beyond the engine-free templates.
	Engine miniscript.Engine

	// Preimages for the hash digests the policy commits to. Branches
	// whose digests have no preimage here are excluded from the
	// satisfaction search.
	Preimages []miniscript.Preimage

	// SignerKeys are the key expressions expected to sign. The
	// satisfier probe assumes exactly these will sign when selecting
	// the branch whose nLockTime/nSequence are cached. When empty,
	// every key in the policy is assumed to sign; that can pick a
	// branch no real signer set can fulfill, so naming the signers is
	// recommended.
	SignerKeys []string
}

type wrapKind int

const (
	wrapNone  wrapKind = iota // wsh(MS)
	wrapSH                    // sh(MS)
	wrapSHWSH                 // sh(wsh(MS))
)

// Descriptor is a parsed, immutable output descriptor pinned to a
// single derivation index.
type Descriptor struct {
	network    *chaincfg.Params
	payment    Payment
	expression string // checksum stripped, wildcards substituted

	// Policy state; zero values for key-only and address forms.
	script    string // the miniscript as written
	expanded  string
	expansion ExpansionMap
	tmpl      *template

	key *Key // key-only forms

	engine      miniscript.Engine
	preimages   []miniscript.Preimage
	addressOnly bool

	segwit      bool
	segwitKnown bool
	lockTime    uint32
	sequence    uint32
}

// Parse parses a descriptor expression without wildcards. Expressions
// containing * must use ParseAt.
func Parse(expression string, opts Options) (*Descriptor, error) {
	return parse(expression, nil, opts)
}

// ParseAt parses a ranged descriptor expression with every wildcard
// replaced by index. Multiple wildcards advance in lockstep, not
// combinatorially.
func ParseAt(expression string, index uint32, opts Options) (*Descriptor, error) {
	return parse(expression, &index, opts)
}

func parse(expression string, index *uint32, opts Options) (*Descriptor, error) {
	network := opts.Network
	if network == nil {
		network = &chaincfg.MainNetParams
	}
	expr, err := isolate(expression, index, opts)
	if err != nil {
		return nil, err
	}
	for _, p := range opts.Preimages {
		if err := p.Check(); err != nil {
			return nil, err
		}
	}
	d := &Descriptor{
		network:     network,
		expression:  expr,
		engine:      opts.Engine,
		preimages:   opts.Preimages,
		addressOnly: opts.AddressOnly,
	}
	if err := d.dispatch(expr, opts); err != nil {
		return nil, err
	}
	return d, nil
}

// isolate strips and verifies the checksum, then pins wildcards to the
// index. The checksum covers the expression as written, before wildcard
// substitution.
func isolate(expression string, index *uint32, opts Options) (string, error) {
	expr := expression
	if i := strings.LastIndexByte(expr, '#'); i != -1 {
		body, sum := expr[:i], expr[i+1:]
		if !validChecksum(body, sum) {
			return "", fmt.Errorf("bip380: %q: %w", expression, ErrBadChecksum)
		}
		expr = body
	} else if opts.ChecksumRequired {
		return "", fmt.Errorf("bip380: %q: %w", expression, ErrMissingChecksum)
	}
	if strings.ContainsRune(expr, '*') {
		if index == nil {
			return "", fmt.Errorf("bip380: %q: %w", expression, ErrInvalidIndex)
		}
		expr = strings.ReplaceAll(expr, "*", strconv.FormatUint(uint64(*index), 10))
	}
	return expr, nil
}

// unwrap matches expr against form(inner), anchored at both ends.
func unwrap(expr, form string) (string, bool) {
	if !strings.HasPrefix(expr, form+"(") || !strings.HasSuffix(expr, ")") {
		return "", false
	}
	return expr[len(form)+1 : len(expr)-1], true
}

// dispatch recognizes the descriptor form and resolves the payment.
func (d *Descriptor) dispatch(expr string, opts Options) error {
	invalid := fmt.Errorf("bip380: %q: %w", expr, ErrInvalidExpression)
	var err error
	switch {
	case !balanced(expr):
		return invalid
	case strings.HasPrefix(expr, "addr("):
		inner, ok := unwrap(expr, "addr")
		if !ok {
			return invalid
		}
		d.payment, err = paymentFromAddress(inner, d.network)
		return err
	case strings.HasPrefix(expr, "pkh("):
		inner, ok := unwrap(expr, "pkh")
		if !ok {
			return invalid
		}
		key, err := d.parseSoleKey(inner, false)
		if err != nil {
			return err
		}
		d.payment, err = paymentP2PKH(key.PubKey, d.network)
		return err
	case strings.HasPrefix(expr, "pk("):
		inner, ok := unwrap(expr, "pk")
		if !ok {
			return invalid
		}
		key, err := d.parseSoleKey(inner, false)
		if err != nil {
			return err
		}
		d.payment, err = paymentP2PK(key.PubKey)
		return err
	case strings.HasPrefix(expr, "wpkh("):
		inner, ok := unwrap(expr, "wpkh")
		if !ok {
			return invalid
		}
		key, err := d.parseSoleKey(inner, true)
		if err != nil {
			return err
		}
		d.payment, err = paymentP2WPKH(key.PubKey, d.network)
		return err
	case strings.HasPrefix(expr, "wsh("):
		inner, ok := unwrap(expr, "wsh")
		if !ok {
			return invalid
		}
		return d.buildPolicy(inner, true, wrapNone, opts)
	case strings.HasPrefix(expr, "sh("):
		inner, ok := unwrap(expr, "sh")
		if !ok {
			return invalid
		}
		switch {
		case strings.HasPrefix(inner, "wpkh("):
			keyExpr, ok := unwrap(inner, "wpkh")
			if !ok {
				return invalid
			}
			key, err := d.parseSoleKey(keyExpr, true)
			if err != nil {
				return err
			}
			d.payment, err = paymentP2SHP2WPKH(key.PubKey, d.network)
			return err
		case strings.HasPrefix(inner, "wsh("):
			ms, ok := unwrap(inner, "wsh")
			if !ok {
				return invalid
			}
			return d.buildPolicy(ms, true, wrapSHWSH, opts)
		default:
			if !opts.AllowMiniscriptInP2SH && !templateAllowedInP2SH(inner) {
				return fmt.Errorf("bip380: %q: %w", inner, ErrMiniscriptInP2SH)
			}
			return d.buildPolicy(inner, false, wrapSH, opts)
		}
	default:
		return fmt.Errorf("bip380: %q: %w", expr, ErrInvalidExpression)
	}
}

// parseSoleKey resolves the single key of a key-only form and records
// its segwit context.
func (d *Descriptor) parseSoleKey(token string, segwit bool) (*Key, error) {
	key, err := ParseKey(token, d.network, segwit)
	if err != nil {
		return nil, err
	}
	d.key = &key
	d.segwit, d.segwitKnown = segwit, true
	return d.key, nil
}

// buildPolicy expands and compiles a miniscript policy, gates it on the
// resource limits, resolves the payment and caches the spending
// constraints found by the satisfier probe.
func (d *Descriptor) buildPolicy(ms string, segwit bool, wrap wrapKind, opts Options) error {
	expanded, expansion, err := expandMiniscript(ms, d.network, segwit)
	if err != nil {
		return err
	}
	d.script, d.expanded, d.expansion = ms, expanded, expansion
	d.segwit, d.segwitKnown = segwit, true

	var script []byte
	if tmpl, ok := parseTemplate(expanded, expansion); ok {
		d.tmpl = tmpl
		script, err = tmpl.script(d.network)
	} else if d.engine == nil {
		return fmt.Errorf("bip380: %q: %w", ms, ErrNoEngine)
	} else {
		script, err = miniscript.Script(d.engine, expanded, expansion.PubKeys())
	}
	if err != nil {
		return err
	}
	if err := checkLimits(script, wrap); err != nil {
		return err
	}

	switch wrap {
	case wrapNone:
		d.payment, err = paymentP2WSH(script, d.network)
	case wrapSHWSH:
		d.payment, err = paymentP2SHP2WSH(script, d.network)
	case wrapSH:
		d.payment, err = paymentP2SH(script, d.network)
	}
	if err != nil {
		return err
	}

	if d.tmpl != nil || d.addressOnly {
		// Templates carry no timelocks; address-only descriptors skip
		// the probe by request.
		return nil
	}
	return d.probeConstraints(opts)
}

// probeConstraints runs the satisfier once with fake signatures for the
// assumed signer set. The branch it picks determines the nLockTime and
// nSequence every later satisfaction must reproduce: real signatures
// commit to those fields.
func (d *Descriptor) probeConstraints(opts Options) error {
	signers := d.expansion.PubKeys()
	if len(opts.SignerKeys) > 0 {
		signers = signers[:0]
		for _, expr := range opts.SignerKeys {
			key, err := ParseKey(expr, d.network, d.segwit)
			if err != nil {
				return err
			}
			if d.expansion.IndexOf(key.PubKey) != -1 {
				signers = append(signers, key.PubKey)
			}
		}
	}
	fakes := make([]miniscript.Signature, len(signers))
	for i, pub := range signers {
		fakes[i] = miniscript.FakeSignature(pub)
	}
	sat, err := miniscript.Satisfy(d.engine, d.expanded, d.expansion.PubKeys(), fakes, d.preimages, nil)
	if err != nil {
		return err
	}
	d.lockTime, d.sequence = sat.LockTime, sat.Sequence
	return nil
}

func checkLimits(script []byte, wrap wrapKind) error {
	limit := miniscript.MaxWitnessScriptSize
	if wrap == wrapSH {
		limit = miniscript.MaxRedeemScriptSize
	}
	if len(script) > limit {
		return fmt.Errorf("bip380: script is %d bytes, limit %d: %w", len(script), limit, ErrScriptTooLarge)
	}
	ops, err := miniscript.CountNonPushOps(script)
	if err != nil {
		return fmt.Errorf("bip380: %w", err)
	}
	if ops > miniscript.MaxOps {
		return fmt.Errorf("bip380: script has %d ops, limit %d: %w", ops, miniscript.MaxOps, ErrTooManyOps)
	}
	return nil
}

func balanced(expr string) bool {
	depth := 0
	for i := range len(expr) {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// Network returns the network the descriptor was parsed for.
func (d *Descriptor) Network() *chaincfg.Params {
	return d.network
}

// Expression returns the isolated expression: checksum stripped and
// wildcards pinned.
func (d *Descriptor) Expression() string {
	return d.expression
}

// ScriptPubKey returns the output script.
func (d *Descriptor) ScriptPubKey() []byte {
	return d.payment.Script
}

// Address returns the address of the output. Raw public key outputs
// have none.
func (d *Descriptor) Address() (string, error) {
	if d.payment.Address == "" {
		return "", fmt.Errorf("bip380: %s: %w", d.payment.Kind, ErrNoAddress)
	}
	return d.payment.Address, nil
}

// Payment returns the resolved payment shape.
func (d *Descriptor) Payment() Payment {
	return d.payment
}

// WitnessScript returns the witness script for wsh-backed shapes.
func (d *Descriptor) WitnessScript() ([]byte, bool) {
	return d.payment.WitnessScript, d.payment.WitnessScript != nil
}

// RedeemScript returns the inner redeem script for sh-backed shapes.
func (d *Descriptor) RedeemScript() ([]byte, bool) {
	return d.payment.RedeemScript, d.payment.RedeemScript != nil
}

// IsSegwit reports whether spends use the witness. The second result is
// false for address forms, whose spending path is not described by the
// descriptor.
func (d *Descriptor) IsSegwit() (bool, bool) {
	return d.segwit, d.segwitKnown
}

// LockTime returns the nLockTime the spending transaction must commit
// to, if the chosen policy branch imposes one.
func (d *Descriptor) LockTime() (uint32, bool) {
	return d.lockTime, d.lockTime != 0
}

// Sequence returns the nSequence the spending input must commit to, if
// the chosen policy branch imposes one.
func (d *Descriptor) Sequence() (uint32, bool) {
	return d.sequence, d.sequence != 0
}

// Expansion is the introspection view of a parsed policy.
type Expansion struct {
	// Expression is the isolated descriptor expression.
	Expression string
	// Miniscript is the policy as written, with concrete keys.
	Miniscript string
	// Expanded is the policy with keys replaced by @k variables.
	Expanded string
	// Map binds each variable to its resolved key.
	Map ExpansionMap
}

// Expand returns the expanded policy and its variable bindings.
func (d *Descriptor) Expand() Expansion {
	return Expansion{
		Expression: d.expression,
		Miniscript: d.script,
		Expanded:   d.expanded,
		Map:        d.expansion,
	}
}

// ScriptSatisfaction searches for the satisfaction matching the cached
// nLockTime/nSequence constraints and materializes it with the given
// signatures. Signatures for keys outside the policy are ignored.
func (d *Descriptor) ScriptSatisfaction(sigs []miniscript.Signature) ([]byte, error) {
	switch {
	case d.addressOnly:
		return nil, ErrAddressOnly
	case d.tmpl != nil:
		return d.tmpl.satisfaction(sigs)
	case d.script == "":
		return nil, fmt.Errorf("bip380: %s: %w", d.payment.Kind, ErrNoMiniscript)
	}
	sat, err := miniscript.Satisfy(d.engine, d.expanded, d.expansion.PubKeys(), sigs, d.preimages, &miniscript.Constraints{
		LockTime: d.lockTime,
		Sequence: d.sequence,
	})
	if err != nil {
		return nil, err
	}
	return sat.Script, nil
}
