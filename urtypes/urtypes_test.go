package urtypes

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"descriptors.dev/bip380"
)

// Captured crypto-output payloads: a 1-of-2 multi with child paths and
// a sorted 2-of-3 with key origins.
const (
	multiVector = "d90191d90196a201010282d9012fa303582103cbcaa9c98c877a26977d00825c956a238e8dddfbd322cce4f74b0b5bd6ace4a704582060499f801b896d83179a4374aeb7822aaeaceaa0db1f85ee3e904c4defbd968907d90130a1018601f400f480f4d9012fa403582102fc9e5af0ac8d9b3cecfe2a888e2117ba3d089d8585886c9c826b6b22a98d12ea045820f0909affaa7ee7abe5dd4e100598d4dc53cd709d5a5c2cac40e7412f232f7c9c06d90130a2018200f4021abd16bee507d90130a1018600f400f480f4"

	sortedVector = "d90191d90197a201020283d9012fa4035821022196adc25fde169fe92e70769059102275d2b40cc98776eaab92b82a86135e92045820438eff7b3b36b6d11a60a22ccb9306eea305b0439f1ea09d5928015de373811606d90130a201881830f500f500f502f5021add4fadee081a22969377d9012fa403582102fb72507fc20ddba92991b17c4bb466130ad93a886e73175033bb43e3bc785a6d04582095b34913937fa5f1c6205b525bb57de1517625e04586b595be68e71362d3edc506d90130a201881830f500f500f502f5021a9bacd5c0081a97ec38f9d9012fa403582103a9394a2f1a4f99613a716956c8540f6dba6f18931c2639107221b267d740af23045820dbe80cbb4e0e418b06f470d2afe7a8c17be701ab206c59a65e65a824016a6c7006d90130a201881830f500f500f502f5021a5a0804e3081ac7bce7a8"
)

func TestRoundTrip(t *testing.T) {
	for _, vector := range []string{multiVector, sortedVector} {
		enc, err := hex.DecodeString(vector)
		if err != nil {
			t.Fatal(err)
		}
		desc, err := ParseOutputDescriptor(enc)
		if err != nil {
			t.Fatal(err)
		}
		if got := hex.EncodeToString(desc.Encode()); got != vector {
			t.Errorf("re-encoded to\n%s\nwant\n%s", got, vector)
		}
	}
}

func TestParseMulti(t *testing.T) {
	enc, err := hex.DecodeString(multiVector)
	if err != nil {
		t.Fatal(err)
	}
	desc, err := ParseOutputDescriptor(enc)
	if err != nil {
		t.Fatal(err)
	}
	if desc.Script != P2WSH || desc.Type != Multi || desc.Threshold != 1 || len(desc.Keys) != 2 {
		t.Fatalf("decoded to %+v", desc)
	}
	if desc.Keys[1].MasterFingerprint != 0xbd16bee5 {
		t.Errorf("got fingerprint %08x", desc.Keys[1].MasterFingerprint)
	}
	if desc.Keys[0].Network != &chaincfg.MainNetParams {
		t.Error("wrong network")
	}
	wild := desc.Keys[0].Children[2]
	if wild.Type != WildcardDerivation || wild.Hardened {
		t.Errorf("got children %+v", desc.Keys[0].Children)
	}
}

func TestDescriptorBridge(t *testing.T) {
	enc, err := hex.DecodeString(sortedVector)
	if err != nil {
		t.Fatal(err)
	}
	desc, err := ParseOutputDescriptor(enc)
	if err != nil {
		t.Fatal(err)
	}
	expr := desc.Descriptor()
	if !strings.HasPrefix(expr, "wsh(sortedmulti(2,[dd4fadee/48h/0h/0h/2h]xpub") {
		t.Fatalf("rendered %q", expr)
	}
	d, err := bip380.Parse(expr, bip380.Options{})
	if err != nil {
		t.Fatal(err)
	}
	addr, err := d.Address()
	if err != nil || !strings.HasPrefix(addr, "bc1q") {
		t.Errorf("got address %q, %v", addr, err)
	}

	encMulti, err := hex.DecodeString(multiVector)
	if err != nil {
		t.Fatal(err)
	}
	ranged, err := ParseOutputDescriptor(encMulti)
	if err != nil {
		t.Fatal(err)
	}
	expr = ranged.Descriptor()
	if !strings.Contains(expr, "/*") {
		t.Fatalf("rendered %q", expr)
	}
	if _, err := bip380.ParseAt(expr, 0, bip380.Options{}); err != nil {
		t.Fatal(err)
	}
}
