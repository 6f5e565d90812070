// package miniscript glues an external miniscript compiler and satisfier
// to bitcoin script. Policies are handled in expanded form: every key
// expression is replaced by a positional variable @0, @1, … so that the
// engine never sees key material. The engine speaks a textual protocol:
// compilation yields an ASM string with <@k> and <HASH160(@k)> placeholder
// tokens, satisfactions yield ASM with <sig(@k)> and <fn_preimage(hex)>
// tokens. This package substitutes concrete values back into those tokens
// and encodes the result into canonical script bytes.
package miniscript

import "errors"

var (
	// ErrInsane is reported when the engine rejects a policy as not sane.
	ErrInsane = errors.New("miniscript: not sane")

	// ErrUnresolvable is reported when no non-malleable satisfaction
	// exists for the known signatures and preimages.
	ErrUnresolvable = errors.New("miniscript: no non-malleable satisfaction")

	// ErrConstraintsUnmet is reported when no satisfaction matches the
	// required locktime and sequence.
	ErrConstraintsUnmet = errors.New("miniscript: no satisfaction matches the locktime and sequence constraints")

	// ErrUnsubstituted is reported when a placeholder token survives
	// substitution.
	ErrUnsubstituted = errors.New("miniscript: unsubstituted placeholder")
)

// Compiled is the result of compiling a policy with an Engine.
type Compiled struct {
	// ASM is the expanded-form assembly: opcode names, decimal
	// numbers, hex data and <@k>/<HASH160(@k)> placeholders.
	ASM string
	// Sane reports whether the policy is consensus- and
	// standardness-sound.
	Sane bool
}

// Solution is a single non-malleable satisfaction found by an Engine.
// A zero LockTime or Sequence means the branch imposes no such
// constraint.
type Solution struct {
	ASM      string
	LockTime uint32
	Sequence uint32
}

// Engine is a miniscript compiler and satisfier. Implementations must
// terminate on every input; policies are bounded ASTs.
type Engine interface {
	// Compile compiles a policy in expanded form.
	Compile(miniscript string) (Compiled, error)
	// Satisfy searches the policy decision tree for non-malleable
	// satisfactions reachable with the given knowns. Knowns are
	// placeholder tokens such as "<sig(@0)>" and
	// "<sha256_preimage(ab…)>".
	Satisfy(miniscript string, knowns []string) ([]Solution, error)
}

// Constraints pins a satisfaction to an exact locktime and sequence.
// Zero means the field must be absent from the chosen branch.
type Constraints struct {
	LockTime uint32
	Sequence uint32
}

// Satisfaction is the witness data for one satisfied policy branch,
// encoded as script pushes, along with the consensus fields the branch
// commits to.
type Satisfaction struct {
	Script   []byte
	LockTime uint32
	Sequence uint32
}
