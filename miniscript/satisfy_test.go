package miniscript

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"testing"
)

var (
	testKey0, _ = hex.DecodeString("0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	testKey1, _ = hex.DecodeString("02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5")
)

func TestSatisfyOlder(t *testing.T) {
	const policy = "and_v(v:pk(@0),older(144))"
	e := &fakeEngine{
		satisfyFn: func(ms string, knowns []string) ([]Solution, error) {
			if ms != policy {
				t.Fatalf("unexpected policy %q", ms)
			}
			if !slices.Contains(knowns, "<sig(@0)>") {
				return nil, nil
			}
			return []Solution{{ASM: "<sig(@0)>", Sequence: 144}}, nil
		},
	}
	keys := [][]byte{testKey0}
	sig := bytes.Repeat([]byte{0xab}, 71)
	sat, err := Satisfy(e, policy, keys, []Signature{{PubKey: testKey0, Signature: sig}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sat.Sequence != 144 || sat.LockTime != 0 {
		t.Errorf("got constraints (%d, %d), want (0, 144)", sat.LockTime, sat.Sequence)
	}
	want := append([]byte{71}, sig...)
	if !bytes.Equal(sat.Script, want) {
		t.Errorf("got satisfaction %x, want %x", sat.Script, want)
	}

	// Pinning to other constraints must fail: signatures commit to
	// the locktime and sequence of their branch.
	_, err = Satisfy(e, policy, keys, []Signature{{PubKey: testKey0, Signature: sig}}, nil, &Constraints{Sequence: 145})
	if !errors.Is(err, ErrConstraintsUnmet) {
		t.Errorf("got %v, want ErrConstraintsUnmet", err)
	}
	_, err = Satisfy(e, policy, keys, []Signature{{PubKey: testKey0, Signature: sig}}, nil, &Constraints{Sequence: 144})
	if err != nil {
		t.Errorf("exact constraints: %v", err)
	}
}

func TestSatisfyHashBranch(t *testing.T) {
	preimage := bytes.Repeat([]byte{0x42}, 32)
	digest := sha256.Sum256(preimage)
	digestHex := hex.EncodeToString(digest[:])
	policy := "or_d(pk(@0),and_v(v:pk(@1),sha256(" + digestHex + ")))"
	preimageToken := "<sha256_preimage(" + digestHex + ")>"
	e := &fakeEngine{
		satisfyFn: func(ms string, knowns []string) ([]Solution, error) {
			if slices.Contains(knowns, "<sig(@1)>") && slices.Contains(knowns, preimageToken) {
				return []Solution{{ASM: preimageToken + " <sig(@1)> <>"}}, nil
			}
			return nil, nil
		},
	}
	keys := [][]byte{testKey0, testKey1}
	sig := bytes.Repeat([]byte{0xcd}, 71)
	sigs := []Signature{
		{PubKey: testKey1, Signature: sig},
		// A signature for a key outside the policy is ignored.
		{PubKey: bytes.Repeat([]byte{3}, 33), Signature: bytes.Repeat([]byte{1}, 71)},
	}
	pre := Preimage{Digest: "sha256(" + digestHex + ")", Preimage: hex.EncodeToString(preimage)}
	sat, err := Satisfy(e, policy, keys, sigs, []Preimage{pre}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sat.LockTime != 0 || sat.Sequence != 0 {
		t.Errorf("unexpected constraints (%d, %d)", sat.LockTime, sat.Sequence)
	}
	if !bytes.Contains(sat.Script, preimage) {
		t.Error("satisfaction is missing the preimage")
	}
	if !bytes.Contains(sat.Script, sig) {
		t.Error("satisfaction is missing the signature")
	}
	// Trailing <> dissatisfies the first branch with an empty push.
	if sat.Script[len(sat.Script)-1] != 0x00 {
		t.Errorf("satisfaction does not end in an empty push: %x", sat.Script)
	}
}

func TestSatisfyUnresolvable(t *testing.T) {
	e := &fakeEngine{
		satisfyFn: func(ms string, knowns []string) ([]Solution, error) {
			return nil, nil
		},
	}
	_, err := Satisfy(e, "pk(@0)", [][]byte{testKey0}, nil, nil, nil)
	if !errors.Is(err, ErrUnresolvable) {
		t.Errorf("got %v, want ErrUnresolvable", err)
	}
}

func TestSatisfyPicksFirst(t *testing.T) {
	e := &fakeEngine{
		satisfyFn: func(ms string, knowns []string) ([]Solution, error) {
			return []Solution{
				{ASM: "<sig(@0)>"},
				{ASM: "<sig(@0)> <sig(@0)>", LockTime: 1000},
			}, nil
		},
	}
	sig := bytes.Repeat([]byte{0xab}, 71)
	sat, err := Satisfy(e, "pk(@0)", [][]byte{testKey0}, []Signature{{PubKey: testKey0, Signature: sig}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sat.LockTime != 0 {
		t.Errorf("did not pick the first solution: locktime %d", sat.LockTime)
	}
}

func TestPreimageCheck(t *testing.T) {
	preimage := bytes.Repeat([]byte{0x17}, 32)
	sha := sha256.Sum256(preimage)
	dsha := sha256.Sum256(sha[:])
	r160 := ripemd(preimage)
	h160 := ripemd(sha[:])
	preHex := hex.EncodeToString(preimage)
	valid := []Preimage{
		{Digest: "sha256(" + hex.EncodeToString(sha[:]) + ")", Preimage: preHex},
		{Digest: "hash256(" + hex.EncodeToString(dsha[:]) + ")", Preimage: preHex},
		{Digest: "ripemd160(" + hex.EncodeToString(r160) + ")", Preimage: preHex},
		{Digest: "hash160(" + hex.EncodeToString(h160) + ")", Preimage: preHex},
	}
	for _, p := range valid {
		if err := p.Check(); err != nil {
			t.Errorf("%s: %v", p.Digest, err)
		}
	}
	invalid := []Preimage{
		// Digest of a different preimage.
		{Digest: "sha256(" + hex.EncodeToString(dsha[:]) + ")", Preimage: preHex},
		// Hash function and digest length must agree.
		{Digest: "hash160(" + hex.EncodeToString(sha[:]) + ")", Preimage: preHex},
		{Digest: "blake2b(" + hex.EncodeToString(sha[:]) + ")", Preimage: preHex},
		{Digest: "sha256", Preimage: preHex},
		// Preimages are exactly 32 bytes.
		{Digest: "sha256(" + hex.EncodeToString(sha[:]) + ")", Preimage: "ab"},
	}
	for _, p := range invalid {
		if err := p.Check(); err == nil {
			t.Errorf("%s with preimage %s: expected error", p.Digest, p.Preimage)
		}
	}
}
