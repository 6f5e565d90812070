package miniscript

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// Resource limits enforced on compiled scripts.
const (
	// MaxOps is the consensus limit on non-push opcodes per script.
	MaxOps = 201
	// MaxWitnessScriptSize is the standardness limit on P2WSH witness
	// scripts.
	MaxWitnessScriptSize = 3600
	// MaxRedeemScriptSize is the consensus push limit a bare P2SH
	// redeem script must fit in.
	MaxRedeemScriptSize = txscript.MaxScriptElementSize
)

// opcodes maps the ASM names emitted by engines to their opcode bytes.
var opcodes = map[string]byte{
	"OP_0":                   txscript.OP_0,
	"OP_FALSE":               txscript.OP_FALSE,
	"OP_1":                   txscript.OP_1,
	"OP_TRUE":                txscript.OP_TRUE,
	"OP_2":                   txscript.OP_2,
	"OP_3":                   txscript.OP_3,
	"OP_4":                   txscript.OP_4,
	"OP_5":                   txscript.OP_5,
	"OP_6":                   txscript.OP_6,
	"OP_7":                   txscript.OP_7,
	"OP_8":                   txscript.OP_8,
	"OP_9":                   txscript.OP_9,
	"OP_10":                  txscript.OP_10,
	"OP_11":                  txscript.OP_11,
	"OP_12":                  txscript.OP_12,
	"OP_13":                  txscript.OP_13,
	"OP_14":                  txscript.OP_14,
	"OP_15":                  txscript.OP_15,
	"OP_16":                  txscript.OP_16,
	"OP_1NEGATE":             txscript.OP_1NEGATE,
	"OP_NOP":                 txscript.OP_NOP,
	"OP_IF":                  txscript.OP_IF,
	"OP_NOTIF":               txscript.OP_NOTIF,
	"OP_ELSE":                txscript.OP_ELSE,
	"OP_ENDIF":               txscript.OP_ENDIF,
	"OP_VERIFY":              txscript.OP_VERIFY,
	"OP_RETURN":              txscript.OP_RETURN,
	"OP_TOALTSTACK":          txscript.OP_TOALTSTACK,
	"OP_FROMALTSTACK":        txscript.OP_FROMALTSTACK,
	"OP_2DROP":               txscript.OP_2DROP,
	"OP_2DUP":                txscript.OP_2DUP,
	"OP_3DUP":                txscript.OP_3DUP,
	"OP_IFDUP":               txscript.OP_IFDUP,
	"OP_DEPTH":               txscript.OP_DEPTH,
	"OP_DROP":                txscript.OP_DROP,
	"OP_DUP":                 txscript.OP_DUP,
	"OP_NIP":                 txscript.OP_NIP,
	"OP_OVER":                txscript.OP_OVER,
	"OP_PICK":                txscript.OP_PICK,
	"OP_ROLL":                txscript.OP_ROLL,
	"OP_ROT":                 txscript.OP_ROT,
	"OP_SWAP":                txscript.OP_SWAP,
	"OP_TUCK":                txscript.OP_TUCK,
	"OP_SIZE":                txscript.OP_SIZE,
	"OP_EQUAL":               txscript.OP_EQUAL,
	"OP_EQUALVERIFY":         txscript.OP_EQUALVERIFY,
	"OP_1ADD":                txscript.OP_1ADD,
	"OP_1SUB":                txscript.OP_1SUB,
	"OP_NEGATE":              txscript.OP_NEGATE,
	"OP_ABS":                 txscript.OP_ABS,
	"OP_NOT":                 txscript.OP_NOT,
	"OP_0NOTEQUAL":           txscript.OP_0NOTEQUAL,
	"OP_ADD":                 txscript.OP_ADD,
	"OP_SUB":                 txscript.OP_SUB,
	"OP_BOOLAND":             txscript.OP_BOOLAND,
	"OP_BOOLOR":              txscript.OP_BOOLOR,
	"OP_NUMEQUAL":            txscript.OP_NUMEQUAL,
	"OP_NUMEQUALVERIFY":      txscript.OP_NUMEQUALVERIFY,
	"OP_NUMNOTEQUAL":         txscript.OP_NUMNOTEQUAL,
	"OP_LESSTHAN":            txscript.OP_LESSTHAN,
	"OP_GREATERTHAN":         txscript.OP_GREATERTHAN,
	"OP_LESSTHANOREQUAL":     txscript.OP_LESSTHANOREQUAL,
	"OP_GREATERTHANOREQUAL":  txscript.OP_GREATERTHANOREQUAL,
	"OP_MIN":                 txscript.OP_MIN,
	"OP_MAX":                 txscript.OP_MAX,
	"OP_WITHIN":              txscript.OP_WITHIN,
	"OP_RIPEMD160":           txscript.OP_RIPEMD160,
	"OP_SHA1":                txscript.OP_SHA1,
	"OP_SHA256":              txscript.OP_SHA256,
	"OP_HASH160":             txscript.OP_HASH160,
	"OP_HASH256":             txscript.OP_HASH256,
	"OP_CODESEPARATOR":       txscript.OP_CODESEPARATOR,
	"OP_CHECKSIG":            txscript.OP_CHECKSIG,
	"OP_CHECKSIGVERIFY":      txscript.OP_CHECKSIGVERIFY,
	"OP_CHECKMULTISIG":       txscript.OP_CHECKMULTISIG,
	"OP_CHECKMULTISIGVERIFY": txscript.OP_CHECKMULTISIGVERIFY,
	"OP_CHECKSIGADD":         txscript.OP_CHECKSIGADD,
	"OP_CHECKLOCKTIMEVERIFY": txscript.OP_CHECKLOCKTIMEVERIFY,
	"OP_CLTV":                txscript.OP_CHECKLOCKTIMEVERIFY,
	"OP_CHECKSEQUENCEVERIFY": txscript.OP_CHECKSEQUENCEVERIFY,
	"OP_CSV":                 txscript.OP_CHECKSEQUENCEVERIFY,
}

// Script compiles a policy in expanded form with the engine, substitutes
// the key placeholders with the concrete keys and encodes the result into
// script bytes. keys[k] is the SEC-serialized public key bound to @k.
func Script(e Engine, expanded string, keys [][]byte) ([]byte, error) {
	c, err := e.Compile(expanded)
	if err != nil {
		return nil, fmt.Errorf("miniscript: compile: %w", err)
	}
	if !c.Sane {
		return nil, fmt.Errorf("miniscript: %q: %w", expanded, ErrInsane)
	}
	asm, err := substituteKeys(c.ASM, keys)
	if err != nil {
		return nil, err
	}
	return Assemble(asm)
}

// substituteKeys replaces every <@k> token with the hex of keys[k] and
// every <HASH160(@k)> token with the hex of its hash160.
func substituteKeys(asm string, keys [][]byte) (string, error) {
	pairs := make([]string, 0, 4*len(keys))
	for k, key := range keys {
		pairs = append(pairs,
			fmt.Sprintf("<@%d>", k), "<"+hex.EncodeToString(key)+">",
			fmt.Sprintf("<HASH160(@%d)>", k), "<"+hex.EncodeToString(btcutil.Hash160(key))+">",
		)
	}
	asm = strings.NewReplacer(pairs...).Replace(asm)
	if err := checkSubstituted(asm); err != nil {
		return "", err
	}
	return asm, nil
}

// checkSubstituted rejects ASM that still carries placeholder tokens.
// The textual protocol with the engine is brittle enough that leftovers
// must never reach the byte encoder.
func checkSubstituted(asm string) error {
	for _, tok := range strings.Fields(asm) {
		if !strings.HasPrefix(tok, "<") {
			continue
		}
		if strings.ContainsAny(tok, "@(") {
			return fmt.Errorf("miniscript: %q: %w", tok, ErrUnsubstituted)
		}
	}
	return nil
}

// Assemble encodes normalized ASM into script bytes. Tokens are either
// <hex> pushes, opcode names, decimal numbers or bare hex pushes.
// Numbers are encoded in minimal form: zero as OP_0, -1 and 1 through 16
// as their small-number opcodes, everything else as a minimal
// little-endian signed push.
func Assemble(asm string) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	for _, tok := range strings.Fields(asm) {
		switch {
		case len(tok) >= 2 && tok[0] == '<' && tok[len(tok)-1] == '>':
			data, err := hex.DecodeString(tok[1 : len(tok)-1])
			if err != nil {
				return nil, fmt.Errorf("miniscript: invalid push %q: %w", tok, err)
			}
			b.AddData(data)
		case strings.HasPrefix(tok, "OP_"):
			op, ok := opcodes[tok]
			if !ok {
				return nil, fmt.Errorf("miniscript: unknown opcode %q", tok)
			}
			b.AddOp(op)
		case isDecimal(tok):
			n, err := strconv.ParseInt(tok, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("miniscript: invalid number %q: %w", tok, err)
			}
			b.AddInt64(n)
		default:
			data, err := hex.DecodeString(tok)
			if err != nil {
				return nil, fmt.Errorf("miniscript: invalid token %q", tok)
			}
			b.AddData(data)
		}
	}
	script, err := b.Script()
	if err != nil {
		return nil, fmt.Errorf("miniscript: %w", err)
	}
	return script, nil
}

func isDecimal(tok string) bool {
	if tok == "" {
		return false
	}
	if tok[0] == '-' {
		tok = tok[1:]
	}
	if tok == "" {
		return false
	}
	for i := range len(tok) {
		if tok[i] < '0' || tok[i] > '9' {
			return false
		}
	}
	return true
}

// CountNonPushOps counts the opcodes above OP_16 in script, the measure
// the 201-op consensus limit applies to.
func CountNonPushOps(script []byte) (int, error) {
	n := 0
	tok := txscript.MakeScriptTokenizer(0, script)
	for tok.Next() {
		if tok.Opcode() > txscript.OP_16 {
			n++
		}
	}
	if err := tok.Err(); err != nil {
		return 0, fmt.Errorf("miniscript: %w", err)
	}
	return n, nil
}

// WitnessStack splits a satisfaction or script of pure pushes into
// witness stack items. Small-number opcodes become their minimal data
// form; any other opcode is rejected.
func WitnessStack(script []byte) ([][]byte, error) {
	var stack [][]byte
	tok := txscript.MakeScriptTokenizer(0, script)
	for tok.Next() {
		op := tok.Opcode()
		switch {
		case op <= txscript.OP_PUSHDATA4:
			stack = append(stack, tok.Data())
		case op == txscript.OP_1NEGATE:
			stack = append(stack, []byte{0x81})
		case op >= txscript.OP_1 && op <= txscript.OP_16:
			stack = append(stack, []byte{op - txscript.OP_1 + 1})
		default:
			return nil, fmt.Errorf("miniscript: non-push opcode 0x%02x in witness", op)
		}
	}
	if err := tok.Err(); err != nil {
		return nil, fmt.Errorf("miniscript: %w", err)
	}
	return stack, nil
}
