package bip380

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

var testXpubs = []string{
	"xpub6DiYrfRwNnjeX4vHsWMajJVFKrbEEnu8gAW9vDuQzgTWEsEHE16sGWeXXUV1LBWQE1yCTmeprSNcqZ3W74hqVdgDbtYHUv3eM4W2TEUhpan",
	"xpub6DjrnfAyuonMaboEb3ZQZzhQ2ZEgaKV2r64BFmqymZqJqviLTe1JzMr2X2RfQF892RH7MyYUbcy77R7pPu1P71xoj8cDUMNhAMGYzKR4noZ",
	"xpub6DnT4E1fT8VxuAZW29avMjr5i99aYTHBp9d7fiLnpL5t4JEprQqPMbTw7k7rh5tZZ2F5g8PJpssqrZoebzBChaiJrmEvWwUTEMAbHsY39Ge",
}

func TestAddresses(t *testing.T) {
	multikeys := testXpubs[0] + "/0/*," + testXpubs[1] + "/0/*," + testXpubs[2] + "/0/*"
	tests := []struct {
		expr  string
		addrs []string
	}{
		{
			"pkh(" + testXpubs[0] + "/0/*)",
			[]string{"1M88vKcJFc4KPAe5RHXsuJqWcg3muStyK4", "1DyJom6LUg98zbcff7Y3vnh6kYpERcMys3", "1HPR4dJ2W4i9Q4FnkyYGs41d1CczxQuwiA"},
		},
		{
			"wpkh(" + testXpubs[0] + "/0/*)",
			[]string{"bc1qmj7qns4exnh8p6a9xndvz34msj72arnxl3sapx", "bc1q3er64jwge5sfezr6ymkt6d9l79zcvs8z20n5xz", "bc1qkwl5qpx6k93cqmnygn6kgucgka8q3z4kur2nm8"},
		},
		{
			"sh(wpkh(" + testXpubs[0] + "/0/*))",
			[]string{"354hXbgwGRqHXywh9ZESRXWW4zxrpeScXQ", "37cG1ZYNKcQYikRkdmJKKKfXxiVbk6ywiJ", "3KwWvmB9DsRJLGt11ozWLPsdbw5GfbAqjb"},
		},
		{
			"wsh(sortedmulti(1," + testXpubs[0] + "/0/*))",
			[]string{"bc1qm78sug9d6g4jwlk9qulgtcp9ghepn2xjfz8xdhpa8g3q3hzcl8nsfez8at", "bc1q6uk7f77v7lspm803kjgvfpmreumdnjgaksfq3mvuhzc0zwvcy83qedrjvj", "bc1qntv6z9lyzxedfp63qgr7pm2gk9uzfjjzhhzm5j8599u6m89h2q6q3fzhu6"},
		},
		{
			"sh(wsh(sortedmulti(2," + multikeys + ")))",
			[]string{"3EECinK7zYPwa4bR53mbGiuLrbU2V9waHg", "34EqecNrmzM2v2Qx7MvaU49FEsdpxjsRw3"},
		},
		{
			"sh(sortedmulti(2," + multikeys + "))",
			[]string{"3DwWNBMDdsP5Tf9wYyGT7qMkCEe5mTC3U3", "334QzbkBDRWfBWuE8Qhj5dXigYZpt7tpcT"},
		},
		{
			"wsh(multi(2," + multikeys + "))",
			[]string{"bc1q4taqq6q6l8fvguva6ftvrz3qgdjy6p3w2s0ds0nl6qrjw7t0hfhqgrqcwd", "bc1qw3nhtat85lz6g3f8dh42067gf25hzquzn0tx9nk9nv2t6wtlx9lsfz7z0n"},
		},
	}
	for _, test := range tests {
		for i, want := range test.addrs {
			d, err := ParseAt(test.expr, uint32(i), Options{})
			if err != nil {
				t.Fatalf("%s: %v", test.expr, err)
			}
			got, err := d.Address()
			if err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Errorf("%s at %d: got address %s, want %s", test.expr, i, got, want)
			}
		}
	}
}

func TestAddrForm(t *testing.T) {
	const addr = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	d, err := Parse("addr("+addr+")", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := hex.EncodeToString(d.ScriptPubKey()); got != "0014751e76e8199196d454941c45d1b3a323f1433bd6" {
		t.Errorf("got script %s", got)
	}
	got, err := d.Address()
	if err != nil || got != addr {
		t.Errorf("address does not round-trip: %s, %v", got, err)
	}
	if _, known := d.IsSegwit(); known {
		t.Error("segwit must be unknown for address forms")
	}
	if d.Payment().Kind != P2WPKH {
		t.Errorf("classified as %s", d.Payment().Kind)
	}
	if _, err := Parse("addr(notanaddress)", Options{}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("got %v, want ErrInvalidAddress", err)
	}
	if _, err := Parse("addr("+addr+")", Options{Network: &chaincfg.TestNet3Params}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("mainnet address on testnet: got %v, want ErrInvalidAddress", err)
	}
}

func TestPkh(t *testing.T) {
	d, err := Parse("pkh("+compressedPub+")", Options{})
	if err != nil {
		t.Fatal(err)
	}
	script := d.ScriptPubKey()
	if len(script) != 25 {
		t.Fatalf("got %d-byte script", len(script))
	}
	if !bytes.HasPrefix(script, []byte{0x76, 0xa9, 0x14}) || !bytes.HasSuffix(script, []byte{0x88, 0xac}) {
		t.Errorf("not a P2PKH script: %x", script)
	}
	if _, ok := d.WitnessScript(); ok {
		t.Error("unexpected witness script")
	}
	if _, ok := d.LockTime(); ok {
		t.Error("unexpected locktime")
	}
	if _, ok := d.Sequence(); ok {
		t.Error("unexpected sequence")
	}
	if segwit, known := d.IsSegwit(); !known || segwit {
		t.Error("P2PKH is not segwit")
	}
}

func TestPkNoAddress(t *testing.T) {
	d, err := Parse("pk("+compressedPub+")", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Address(); !errors.Is(err, ErrNoAddress) {
		t.Errorf("got %v, want ErrNoAddress", err)
	}
	want := "21" + compressedPub + "ac"
	if got := hex.EncodeToString(d.ScriptPubKey()); got != want {
		t.Errorf("got script %s, want %s", got, want)
	}
}

func TestShWpkh(t *testing.T) {
	d, err := Parse("sh(wpkh("+compressedPub+"))", Options{})
	if err != nil {
		t.Fatal(err)
	}
	script := d.ScriptPubKey()
	if !bytes.HasPrefix(script, []byte{0xa9, 0x14}) || !bytes.HasSuffix(script, []byte{0x87}) {
		t.Errorf("not a P2SH script: %x", script)
	}
	redeem, ok := d.RedeemScript()
	if !ok {
		t.Fatal("no redeem script")
	}
	if !bytes.HasPrefix(redeem, []byte{0x00, 0x14}) || len(redeem) != 22 {
		t.Errorf("redeem script is not P2WPKH: %x", redeem)
	}
	if segwit, known := d.IsSegwit(); !known || !segwit {
		t.Error("nested segwit must report segwit")
	}
}

func TestIsolation(t *testing.T) {
	expr := "pkh(" + testXpubs[0] + "/0/*)"
	sum, err := Checksum(expr)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := ParseAt(expr, 7, Options{})
	if err != nil {
		t.Fatal(err)
	}
	summed, err := ParseAt(expr+"#"+sum, 7, Options{ChecksumRequired: true})
	if err != nil {
		t.Fatal(err)
	}
	if plain.Expression() != summed.Expression() {
		t.Errorf("isolation differs: %q vs %q", plain.Expression(), summed.Expression())
	}
	if !strings.Contains(plain.Expression(), "/0/7") {
		t.Errorf("wildcard not pinned: %q", plain.Expression())
	}

	if _, err := ParseAt(expr+"#00000000", 7, Options{}); !errors.Is(err, ErrBadChecksum) {
		t.Errorf("got %v, want ErrBadChecksum", err)
	}
	if _, err := ParseAt(expr, 7, Options{ChecksumRequired: true}); !errors.Is(err, ErrMissingChecksum) {
		t.Errorf("got %v, want ErrMissingChecksum", err)
	}
	if _, err := Parse(expr, Options{}); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("got %v, want ErrInvalidIndex", err)
	}
}

func TestInvalidExpressions(t *testing.T) {
	for _, expr := range []string{
		"",
		"pkh",
		"pkh(" + compressedPub + "))",
		"frob(" + compressedPub + ")",
		"pkh(" + compressedPub + ")trailing",
	} {
		if _, err := Parse(expr, Options{}); !errors.Is(err, ErrInvalidExpression) {
			t.Errorf("%q: got %v, want ErrInvalidExpression", expr, err)
		}
	}
}

func TestMiniscriptInP2SHGate(t *testing.T) {
	expr := "sh(and_v(v:pk(" + compressedPub + "),older(144)))"
	if _, err := Parse(expr, Options{}); !errors.Is(err, ErrMiniscriptInP2SH) {
		t.Errorf("got %v, want ErrMiniscriptInP2SH", err)
	}
	// With the override the gate passes and the engine is consulted.
	_, err := Parse(expr, Options{AllowMiniscriptInP2SH: true})
	if !errors.Is(err, ErrNoEngine) {
		t.Errorf("got %v, want ErrNoEngine", err)
	}
}

func TestDuplicateKeys(t *testing.T) {
	key, err := ParseKey(testXpubs[0]+"/0/0", &chaincfg.MainNetParams, true)
	if err != nil {
		t.Fatal(err)
	}
	// Two distinct expressions resolving to one key.
	expr := "wsh(multi(2," + testXpubs[0] + "/0/0," + hex.EncodeToString(key.PubKey) + "))"
	if _, err := Parse(expr, Options{}); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("got %v, want ErrDuplicateKey", err)
	}
	// The same expression twice shares one variable instead.
	d, err := Parse("wsh(multi(1,"+testXpubs[0]+"/0/0,"+testXpubs[0]+"/0/0))", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if exp := d.Expand(); exp.Expanded != "multi(1,@0,@0)" || len(exp.Map) != 1 {
		t.Errorf("got expansion %q with %d keys", exp.Expanded, len(exp.Map))
	}
}

func TestIdempotence(t *testing.T) {
	expr := "wsh(sortedmulti(2," + testXpubs[0] + "/0/*," + testXpubs[1] + "/0/*))"
	a, err := ParseAt(expr, 3, Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseAt(expr, 3, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.ScriptPubKey(), b.ScriptPubKey()) {
		t.Error("scriptPubKey differs between constructions")
	}
	wsA, _ := a.WitnessScript()
	wsB, _ := b.WitnessScript()
	if !bytes.Equal(wsA, wsB) {
		t.Error("witness script differs between constructions")
	}
	addrA, _ := a.Address()
	addrB, _ := b.Address()
	if addrA != addrB {
		t.Error("address differs between constructions")
	}
}
