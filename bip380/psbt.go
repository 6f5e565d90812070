package bip380

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"descriptors.dev/miniscript"
)

// Input sequence values. Finality disables both locktime checks; the
// locktime-only value keeps OP_CHECKLOCKTIMEVERIFY enforceable while
// imposing no relative lock.
const (
	sequenceFinal        = 0xffffffff
	sequenceLocktimeOnly = 0xfffffffe
)

// UpdatePsbt appends the output prevTx.TxOut[vout] as a new input of
// the packet, populating the UTXO, script and BIP32 derivation fields
// the descriptor knows about, and committing the transaction to the
// cached nLockTime and the input to the cached nSequence. It returns
// the new input index.
func (d *Descriptor) UpdatePsbt(p *psbt.Packet, prevTx *wire.MsgTx, vout uint32) (int, error) {
	if int(vout) >= len(prevTx.TxOut) {
		return 0, fmt.Errorf("bip380: output %d of %d: %w", vout, len(prevTx.TxOut), ErrNoSuchOutput)
	}
	out := prevTx.TxOut[vout]
	if d.lockTime != 0 {
		if p.UnsignedTx.LockTime != 0 {
			return 0, fmt.Errorf("bip380: transaction locktime already %d: %w", p.UnsignedTx.LockTime, ErrLocktimeConflict)
		}
		p.UnsignedTx.LockTime = d.lockTime
	}
	sequence := uint32(sequenceFinal)
	switch {
	case d.sequence != 0:
		sequence = d.sequence
	case d.lockTime != 0:
		sequence = sequenceLocktimeOnly
	}

	hash := prevTx.TxHash()
	txin := wire.NewTxIn(wire.NewOutPoint(&hash, vout), nil, nil)
	txin.Sequence = sequence
	p.UnsignedTx.TxIn = append(p.UnsignedTx.TxIn, txin)

	pin := psbt.PInput{
		NonWitnessUtxo:  prevTx,
		Bip32Derivation: d.bip32Derivations(),
	}
	if d.segwitKnown && d.segwit {
		pin.WitnessUtxo = wire.NewTxOut(out.Value, out.PkScript)
	}
	if ws, ok := d.WitnessScript(); ok {
		pin.WitnessScript = ws
	}
	if rs, ok := d.RedeemScript(); ok {
		pin.RedeemScript = rs
	}
	p.Inputs = append(p.Inputs, pin)
	return len(p.Inputs) - 1, nil
}

// bip32Derivations collects the derivation records for every resolved
// key that carries a master fingerprint and path.
func (d *Descriptor) bip32Derivations() []*psbt.Bip32Derivation {
	keys := d.expansion
	if d.key != nil {
		keys = ExpansionMap{*d.key}
	}
	var derivs []*psbt.Bip32Derivation
	for _, k := range keys {
		path := k.FullPath()
		if k.MasterFingerprint == 0 || path == nil {
			continue
		}
		derivs = append(derivs, &psbt.Bip32Derivation{
			PubKey: k.PubKey,
			// The descriptor fingerprint is big-endian over the raw
			// bytes; the PSBT field holds their little-endian reading.
			MasterKeyFingerprint: bits.ReverseBytes32(k.MasterFingerprint),
			Bip32Path:            path,
		})
	}
	return derivs
}

// FinalizePsbtInput turns the partial signatures of input index into
// the final scriptSig and witness. Key-only shapes finalize through the
// standard finalizer; policy shapes materialize a satisfaction.
func (d *Descriptor) FinalizePsbtInput(p *psbt.Packet, index int) error {
	if index < 0 || index >= len(p.Inputs) {
		return fmt.Errorf("bip380: input %d of %d: %w", index, len(p.Inputs), ErrNoSuchOutput)
	}
	pin := &p.Inputs[index]
	if len(pin.PartialSigs) == 0 {
		return fmt.Errorf("bip380: input %d: %w", index, ErrNoSignatures)
	}
	if d.script == "" {
		if err := psbt.Finalize(p, index); err != nil {
			return fmt.Errorf("bip380: finalize input %d: %w", index, err)
		}
		return nil
	}
	sigs := make([]miniscript.Signature, 0, len(pin.PartialSigs))
	for _, ps := range pin.PartialSigs {
		if len(ps.Signature) < 2 {
			return fmt.Errorf("bip380: input %d: malformed signature: %w", index, ErrNoSignatures)
		}
		// DER signature plus the sighash byte.
		if _, err := ecdsa.ParseDERSignature(ps.Signature[:len(ps.Signature)-1]); err != nil {
			return fmt.Errorf("bip380: input %d: %v: %w", index, err, ErrNoSignatures)
		}
		sigs = append(sigs, miniscript.Signature{PubKey: ps.PubKey, Signature: ps.Signature})
	}
	satisfaction, err := d.ScriptSatisfaction(sigs)
	if err != nil {
		return err
	}
	if d.segwit {
		stack, err := miniscript.WitnessStack(satisfaction)
		if err != nil {
			return err
		}
		witnessScript, _ := d.WitnessScript()
		pin.FinalScriptWitness, err = serializeWitness(append(stack, witnessScript))
		if err != nil {
			return err
		}
		if rs, ok := d.RedeemScript(); ok {
			pin.FinalScriptSig, err = txscript.NewScriptBuilder().AddData(rs).Script()
			if err != nil {
				return fmt.Errorf("bip380: %w", err)
			}
		}
	} else {
		b := bytes.NewBuffer(satisfaction)
		push, err := txscript.NewScriptBuilder().AddData(d.payment.RedeemScript).Script()
		if err != nil {
			return fmt.Errorf("bip380: %w", err)
		}
		b.Write(push)
		pin.FinalScriptSig = b.Bytes()
	}
	pin.PartialSigs = nil
	pin.SighashType = 0
	return nil
}

// serializeWitness encodes the stack items in transaction witness form.
func serializeWitness(stack [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(stack))); err != nil {
		return nil, fmt.Errorf("bip380: %w", err)
	}
	for _, item := range stack {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, fmt.Errorf("bip380: %w", err)
		}
	}
	return buf.Bytes(), nil
}
