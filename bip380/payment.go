package bip380

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// PaymentKind discriminates the output shapes a descriptor can resolve
// to.
type PaymentKind int

const (
	P2PK PaymentKind = iota
	P2PKH
	P2WPKH
	P2SH
	P2WSH
	P2SH_P2WPKH
	P2SH_P2WSH
	P2TR
)

func (k PaymentKind) String() string {
	switch k {
	case P2PK:
		return "P2PK"
	case P2PKH:
		return "P2PKH"
	case P2WPKH:
		return "P2WPKH"
	case P2SH:
		return "P2SH"
	case P2WSH:
		return "P2WSH"
	case P2SH_P2WPKH:
		return "P2SH-P2WPKH"
	case P2SH_P2WSH:
		return "P2SH-P2WSH"
	case P2TR:
		return "P2TR"
	default:
		return "unknown"
	}
}

// Payment is a resolved output: the scriptPubKey, the address when one
// exists, and the redeem and witness scripts revealed at spend time for
// the wrapped shapes.
type Payment struct {
	Kind          PaymentKind
	Script        []byte
	Address       string
	RedeemScript  []byte
	WitnessScript []byte
}

func paymentP2PK(pub []byte) (Payment, error) {
	script, err := txscript.NewScriptBuilder().
		AddData(pub).AddOp(txscript.OP_CHECKSIG).Script()
	if err != nil {
		return Payment{}, fmt.Errorf("bip380: %w", err)
	}
	// Raw public key outputs predate addresses; Address stays empty.
	return Payment{Kind: P2PK, Script: script}, nil
}

func paymentP2PKH(pub []byte, network *chaincfg.Params) (Payment, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub), network)
	if err != nil {
		return Payment{}, fmt.Errorf("bip380: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return Payment{}, fmt.Errorf("bip380: %w", err)
	}
	return Payment{Kind: P2PKH, Script: script, Address: addr.EncodeAddress()}, nil
}

func paymentP2WPKH(pub []byte, network *chaincfg.Params) (Payment, error) {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub), network)
	if err != nil {
		return Payment{}, fmt.Errorf("bip380: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return Payment{}, fmt.Errorf("bip380: %w", err)
	}
	return Payment{Kind: P2WPKH, Script: script, Address: addr.EncodeAddress()}, nil
}

func paymentP2SHP2WPKH(pub []byte, network *chaincfg.Params) (Payment, error) {
	inner, err := paymentP2WPKH(pub, network)
	if err != nil {
		return Payment{}, err
	}
	p, err := wrapP2SH(inner.Script, network)
	if err != nil {
		return Payment{}, err
	}
	p.Kind = P2SH_P2WPKH
	return p, nil
}

func paymentP2WSH(witnessScript []byte, network *chaincfg.Params) (Payment, error) {
	hash := sha256.Sum256(witnessScript)
	addr, err := btcutil.NewAddressWitnessScriptHash(hash[:], network)
	if err != nil {
		return Payment{}, fmt.Errorf("bip380: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return Payment{}, fmt.Errorf("bip380: %w", err)
	}
	return Payment{
		Kind:          P2WSH,
		Script:        script,
		Address:       addr.EncodeAddress(),
		WitnessScript: witnessScript,
	}, nil
}

func paymentP2SHP2WSH(witnessScript []byte, network *chaincfg.Params) (Payment, error) {
	inner, err := paymentP2WSH(witnessScript, network)
	if err != nil {
		return Payment{}, err
	}
	p, err := wrapP2SH(inner.Script, network)
	if err != nil {
		return Payment{}, err
	}
	p.Kind = P2SH_P2WSH
	p.WitnessScript = witnessScript
	return p, nil
}

func paymentP2SH(redeemScript []byte, network *chaincfg.Params) (Payment, error) {
	p, err := wrapP2SH(redeemScript, network)
	if err != nil {
		return Payment{}, err
	}
	p.Kind = P2SH
	return p, nil
}

// wrapP2SH builds the outer script-hash payment for a redeem script.
func wrapP2SH(redeemScript []byte, network *chaincfg.Params) (Payment, error) {
	addr, err := btcutil.NewAddressScriptHash(redeemScript, network)
	if err != nil {
		return Payment{}, fmt.Errorf("bip380: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return Payment{}, fmt.Errorf("bip380: %w", err)
	}
	return Payment{
		Script:       script,
		Address:      addr.EncodeAddress(),
		RedeemScript: redeemScript,
	}, nil
}

// paymentFromAddress decodes an address for the network and classifies
// it by script template.
func paymentFromAddress(s string, network *chaincfg.Params) (Payment, error) {
	addr, err := btcutil.DecodeAddress(s, network)
	if err != nil {
		return Payment{}, fmt.Errorf("bip380: %q: %v: %w", s, err, ErrInvalidAddress)
	}
	if !addr.IsForNet(network) {
		return Payment{}, fmt.Errorf("bip380: %q is for another network: %w", s, ErrInvalidAddress)
	}
	var kind PaymentKind
	switch addr.(type) {
	case *btcutil.AddressPubKeyHash:
		kind = P2PKH
	case *btcutil.AddressScriptHash:
		kind = P2SH
	case *btcutil.AddressWitnessPubKeyHash:
		kind = P2WPKH
	case *btcutil.AddressWitnessScriptHash:
		kind = P2WSH
	case *btcutil.AddressTaproot:
		kind = P2TR
	default:
		return Payment{}, fmt.Errorf("bip380: unsupported address form %q: %w", s, ErrInvalidAddress)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return Payment{}, fmt.Errorf("bip380: %w", err)
	}
	return Payment{Kind: kind, Script: script, Address: addr.EncodeAddress()}, nil
}
