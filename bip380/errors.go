package bip380

import "errors"

var (
	// ErrInvalidExpression is reported when an expression matches no
	// recognized descriptor form.
	ErrInvalidExpression = errors.New("bip380: invalid descriptor expression")

	// ErrBadChecksum is reported when a supplied checksum does not
	// match the expression.
	ErrBadChecksum = errors.New("bip380: invalid checksum")

	// ErrMissingChecksum is reported when Options.ChecksumRequired is
	// set and the expression carries no checksum.
	ErrMissingChecksum = errors.New("bip380: missing checksum")

	// ErrInvalidIndex is reported when a ranged expression is parsed
	// without a wildcard index.
	ErrInvalidIndex = errors.New("bip380: ranged descriptor requires an index")

	// ErrInvalidAddress is reported when an addr() payload does not
	// decode for the target network.
	ErrInvalidAddress = errors.New("bip380: invalid address")

	// ErrInvalidKey is reported for malformed key expressions.
	ErrInvalidKey = errors.New("bip380: invalid key expression")

	// ErrUncompressedKey is reported for uncompressed keys in a segwit
	// context.
	ErrUncompressedKey = errors.New("bip380: segwit requires compressed keys")

	// ErrDuplicateKey is reported when two distinct key expressions in
	// a policy resolve to the same public key.
	ErrDuplicateKey = errors.New("bip380: duplicate public key")

	// ErrScriptTooLarge is reported when a compiled script exceeds the
	// redeem or witness script size limit.
	ErrScriptTooLarge = errors.New("bip380: script exceeds size limit")

	// ErrTooManyOps is reported when a compiled script exceeds the
	// 201 non-push opcode limit.
	ErrTooManyOps = errors.New("bip380: script exceeds opcode limit")

	// ErrMiniscriptInP2SH is reported for sh() policies outside the
	// template allowlist when Options.AllowMiniscriptInP2SH is unset.
	ErrMiniscriptInP2SH = errors.New("bip380: miniscript in P2SH not allowed")

	// ErrNoEngine is reported when a policy needs the miniscript
	// engine and Options.Engine is nil.
	ErrNoEngine = errors.New("bip380: no miniscript engine")

	// ErrNoAddress is reported for descriptors without an address
	// form, such as pk().
	ErrNoAddress = errors.New("bip380: descriptor has no address")

	// ErrNoMiniscript is reported when a satisfaction is requested
	// from a descriptor without a policy.
	ErrNoMiniscript = errors.New("bip380: descriptor has no miniscript")

	// ErrAddressOnly is reported when a satisfaction is requested from
	// a descriptor constructed with Options.AddressOnly.
	ErrAddressOnly = errors.New("bip380: descriptor is address-only")

	// ErrNoSignatures is reported when finalizing an input without
	// partial signatures.
	ErrNoSignatures = errors.New("bip380: no signatures for input")

	// ErrNoSuchOutput is reported when the referenced previous output,
	// or the PSBT input to finalize, does not exist.
	ErrNoSuchOutput = errors.New("bip380: no such output")

	// ErrLocktimeConflict is reported when the descriptor requires a
	// locktime but the transaction already carries a nonzero locktime,
	// whether equal to the required one or not.
	ErrLocktimeConflict = errors.New("bip380: locktime conflict")
)
