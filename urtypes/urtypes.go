// Package urtypes implements CBOR decoding and encoding of output
// descriptors and extended keys in the UR registry formats
// [BCR-2020-010] and [BCR-2020-007], as exchanged by air-gapped
// signers. Decoded descriptors render to textual expressions
// consumable by package bip380.
//
// [BCR-2020-010]: https://github.com/BlockchainCommons/Research/blob/master/papers/bcr-2020-010-output-desc.md
// [BCR-2020-007]: https://github.com/BlockchainCommons/Research/blob/master/papers/bcr-2020-007-hdkey.md
package urtypes

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/fxamacker/cbor/v2"

	"descriptors.dev/bip32"
)

// Script is the output script shape of a descriptor.
type Script int

const (
	UnknownScript Script = iota
	P2SH
	P2SH_P2WSH
	P2SH_P2WPKH
	P2PKH
	P2WSH
	P2WPKH
	P2TR
)

// MultisigType discriminates singlesig from the multisig forms.
type MultisigType int

const (
	Singlesig MultisigType = iota
	Multi
	SortedMulti
)

// OutputDescriptor is a decoded crypto-output payload.
type OutputDescriptor struct {
	Script    Script
	Threshold int
	Type      MultisigType
	Keys      []KeyDescriptor
}

// KeyDescriptor is a decoded crypto-hdkey payload.
type KeyDescriptor struct {
	Network           *chaincfg.Params
	MasterFingerprint uint32
	DerivationPath    bip32.Path
	Children          []Derivation
	KeyData           []byte
	ChainCode         []byte
	ParentFingerprint uint32
}

// Derivation is one element of a child derivation path.
type Derivation struct {
	Type DerivationType
	// Index is the child index, without the hardening offset. For
	// ranges, Index is the start.
	Index    uint32
	Hardened bool
	// End is the end of a range derivation.
	End uint32
}

type DerivationType int

const (
	ChildDerivation DerivationType = iota
	WildcardDerivation
	RangeDerivation
)

// Descriptor renders the textual descriptor expression, without
// checksum.
func (o OutputDescriptor) Descriptor() string {
	var b strings.Builder
	depth := 0
	switch o.Script {
	case P2SH, P2SH_P2WSH, P2SH_P2WPKH:
		b.WriteString("sh(")
		depth++
	}
	switch o.Script {
	case P2SH_P2WSH, P2WSH:
		b.WriteString("wsh(")
		depth++
	case P2SH_P2WPKH, P2WPKH:
		b.WriteString("wpkh(")
		depth++
	case P2PKH:
		b.WriteString("pkh(")
		depth++
	case P2TR:
		b.WriteString("tr(")
		depth++
	}
	switch o.Type {
	case Multi, SortedMulti:
		if o.Type == Multi {
			b.WriteString("multi(")
		} else {
			b.WriteString("sortedmulti(")
		}
		depth++
		b.WriteString(strconv.Itoa(o.Threshold))
		b.WriteByte(',')
	}
	for i, k := range o.Keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k.String())
	}
	for range depth {
		b.WriteByte(')')
	}
	return b.String()
}

// ExtendedKey reassembles the serialized extended public key.
func (k KeyDescriptor) ExtendedKey() *hdkeychain.ExtendedKey {
	var fp [4]byte
	binary.BigEndian.PutUint32(fp[:], k.ParentFingerprint)
	childNum := uint32(0)
	if len(k.DerivationPath) > 0 {
		childNum = k.DerivationPath[len(k.DerivationPath)-1]
	}
	return hdkeychain.NewExtendedKey(
		k.Network.HDPublicKeyID[:],
		k.KeyData, k.ChainCode, fp[:], uint8(len(k.DerivationPath)),
		childNum, false,
	)
}

// String renders the key expression: origin, extended key and child
// path.
func (k KeyDescriptor) String() string {
	var b strings.Builder
	if k.MasterFingerprint != 0 {
		fmt.Fprintf(&b, "[%08x", k.MasterFingerprint)
		b.WriteString(k.DerivationPath.Encode())
		b.WriteByte(']')
	}
	b.WriteString(k.ExtendedKey().String())
	for _, c := range k.Children {
		b.WriteString(c.Encode())
	}
	return b.String()
}

// Encode renders the derivation as a path element.
func (d Derivation) Encode() string {
	var b strings.Builder
	b.WriteByte('/')
	switch d.Type {
	case ChildDerivation:
		b.WriteString(strconv.FormatUint(uint64(d.Index), 10))
	case WildcardDerivation:
		b.WriteByte('*')
	case RangeDerivation:
		b.WriteByte('<')
		b.WriteString(strconv.FormatUint(uint64(d.Index), 10))
		b.WriteByte(';')
		b.WriteString(strconv.FormatUint(uint64(d.End), 10))
		b.WriteByte('>')
	}
	if d.Hardened {
		b.WriteByte('h')
	}
	return b.String()
}

// The CBOR records mirror the registry maps field-for-field. The
// keyasint numbers and tag values are fixed by the BCR papers and the
// field set below is what deployed signers emit; only the surrounding
// code is free to vary.
type cborHDKey struct {
	IsMaster          bool        `cbor:"1,keyasint,omitempty"`
	IsPrivate         bool        `cbor:"2,keyasint,omitempty"`
	KeyData           []byte      `cbor:"3,keyasint"`
	ChainCode         []byte      `cbor:"4,keyasint,omitempty"`
	UseInfo           cborUseInfo `cbor:"5,keyasint,omitempty"`
	Origin            cborKeyPath `cbor:"6,keyasint,omitempty"`
	Children          cborKeyPath `cbor:"7,keyasint,omitempty"`
	ParentFingerprint uint32      `cbor:"8,keyasint,omitempty"`
}

type cborUseInfo struct {
	Type    uint32 `cbor:"1,keyasint,omitempty"`
	Network int    `cbor:"2,keyasint,omitempty"`
}

type cborKeyPath struct {
	Components  []any  `cbor:"1,keyasint,omitempty"`
	Fingerprint uint32 `cbor:"2,keyasint,omitempty"`
	Depth       uint8  `cbor:"3,keyasint,omitempty"`
}

// cborMulti is the multi/sortedmulti payload. The decode side keeps
// the keys raw so each can be unpacked with its own error position.
type cborMulti struct {
	Threshold int        `cbor:"1,keyasint,omitempty"`
	Keys      []cbor.Tag `cbor:"2,keyasint"`
}

type rawMulti struct {
	Threshold int               `cbor:"1,keyasint"`
	Keys      []cbor.RawMessage `cbor:"2,keyasint"`
}

const (
	tagHDKey   = 303
	tagKeyPath = 304
	tagUseInfo = 305

	tagSH    = 400
	tagWSH   = 401
	tagP2PKH = 403
	tagWPKH  = 404
	tagTR    = 409

	tagMulti       = 406
	tagSortedMulti = 407
)

const (
	mainnet = 0
	testnet = 1
)

var encMode, decMode = cborModes()

func cborModes() (cbor.EncMode, cbor.DecMode) {
	tags := cbor.NewTagSet()
	register := func(v any, num uint64, opts cbor.TagOptions) {
		if err := tags.Add(opts, reflect.TypeOf(v), num); err != nil {
			panic(err)
		}
	}
	register(cborHDKey{}, tagHDKey, cbor.TagOptions{DecTag: cbor.DecTagOptional})
	register(cborKeyPath{}, tagKeyPath, cbor.TagOptions{DecTag: cbor.DecTagOptional, EncTag: cbor.EncTagRequired})
	register(cborUseInfo{}, tagUseInfo, cbor.TagOptions{DecTag: cbor.DecTagOptional, EncTag: cbor.EncTagRequired})
	enc, err := cbor.CoreDetEncOptions().EncModeWithTags(tags)
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecModeWithTags(tags)
	if err != nil {
		panic(err)
	}
	return enc, dec
}

// scriptWrappers maps each script shape to its wrapping tag sequence,
// outermost first. The table serves both directions: encoding wraps
// the function payload in it, decoding matches the peeled tags against
// it.
var scriptWrappers = map[Script][]uint64{
	P2SH:        {tagSH},
	P2SH_P2WSH:  {tagSH, tagWSH},
	P2SH_P2WPKH: {tagSH, tagWPKH},
	P2PKH:       {tagP2PKH},
	P2WSH:       {tagWSH},
	P2WPKH:      {tagWPKH},
	P2TR:        {tagTR},
}

func scriptForWrappers(w []uint64) (Script, bool) {
	for s, seq := range scriptWrappers {
		if slices.Equal(seq, w) {
			return s, true
		}
	}
	return UnknownScript, false
}

func isWrapperTag(num uint64) bool {
	switch num {
	case tagSH, tagWSH, tagWPKH, tagP2PKH, tagTR:
		return true
	}
	return false
}

// peelTag splits one CBOR tag envelope off enc.
func peelTag(enc []byte) (num uint64, content []byte, ok bool) {
	var raw cbor.RawTag
	if err := decMode.Unmarshal(enc, &raw); err != nil {
		return 0, nil, false
	}
	return raw.Number, raw.Content, true
}

// ParseOutputDescriptor decodes a crypto-output payload: script
// wrapper tags around a key or multikey function.
func ParseOutputDescriptor(enc []byte) (OutputDescriptor, error) {
	var wrappers []uint64
	num, content, ok := peelTag(enc)
	for ok && isWrapperTag(num) {
		wrappers = append(wrappers, num)
		enc = content
		num, content, ok = peelTag(enc)
	}
	if !ok && len(wrappers) == 0 {
		return OutputDescriptor{}, errors.New("urtypes: not a tagged crypto-output payload")
	}
	if !ok {
		return OutputDescriptor{}, errors.New("urtypes: missing script function tag")
	}
	script, known := scriptForWrappers(wrappers)
	if !known {
		return OutputDescriptor{}, fmt.Errorf("urtypes: script wrapper tags %v not recognized", wrappers)
	}
	desc := OutputDescriptor{Script: script, Threshold: 1}
	switch num {
	case tagHDKey:
		key, err := ParseHDKey(content)
		if err != nil {
			return OutputDescriptor{}, err
		}
		desc.Type = Singlesig
		desc.Keys = []KeyDescriptor{key}
	case tagMulti, tagSortedMulti:
		desc.Type = Multi
		if num == tagSortedMulti {
			desc.Type = SortedMulti
		}
		var m rawMulti
		if err := decMode.Unmarshal(content, &m); err != nil {
			return OutputDescriptor{}, fmt.Errorf("urtypes: multikey: %w", err)
		}
		desc.Threshold = m.Threshold
		desc.Keys = make([]KeyDescriptor, len(m.Keys))
		for i, raw := range m.Keys {
			key, err := ParseHDKey(raw)
			if err != nil {
				return OutputDescriptor{}, fmt.Errorf("urtypes: key %d: %w", i, err)
			}
			desc.Keys[i] = key
		}
	default:
		return OutputDescriptor{}, fmt.Errorf("urtypes: unknown script function tag: %d", num)
	}
	return desc, nil
}

// ParseHDKey decodes a crypto-hdkey payload, tagged or bare.
func ParseHDKey(enc []byte) (KeyDescriptor, error) {
	var rec cborHDKey
	if err := decMode.Unmarshal(enc, &rec); err != nil {
		return KeyDescriptor{}, fmt.Errorf("urtypes: crypto-hdkey: %w", err)
	}
	return rec.keyDescriptor()
}

func (rec cborHDKey) keyDescriptor() (KeyDescriptor, error) {
	if len(rec.KeyData) != 33 {
		return KeyDescriptor{}, fmt.Errorf("urtypes: key is %d bytes, expected 33", len(rec.KeyData))
	}
	if len(rec.ChainCode) != 32 {
		return KeyDescriptor{}, fmt.Errorf("urtypes: chain code is %d bytes, expected 32", len(rec.ChainCode))
	}
	net, err := rec.UseInfo.network()
	if err != nil {
		return KeyDescriptor{}, err
	}
	origin, err := rec.Origin.originPath()
	if err != nil {
		return KeyDescriptor{}, err
	}
	children, err := rec.Children.childDerivations()
	if err != nil {
		return KeyDescriptor{}, err
	}
	return KeyDescriptor{
		Network:           net,
		MasterFingerprint: rec.Origin.Fingerprint,
		DerivationPath:    origin,
		Children:          children,
		KeyData:           rec.KeyData,
		ChainCode:         rec.ChainCode,
		ParentFingerprint: rec.ParentFingerprint,
	}, nil
}

func (u cborUseInfo) network() (*chaincfg.Params, error) {
	// Coin type 0 is bitcoin; nothing else belongs in a descriptor.
	if u.Type != 0 {
		return nil, fmt.Errorf("urtypes: unsupported coin type %d", u.Type)
	}
	switch u.Network {
	case mainnet:
		return &chaincfg.MainNetParams, nil
	case testnet:
		return &chaincfg.TestNet3Params, nil
	}
	return nil, fmt.Errorf("urtypes: unknown coininfo network %d", u.Network)
}

// originPath converts a key origin to a bip32 path. Origins name
// concrete ancestors, so wildcards and ranges are rejected.
func (kp cborKeyPath) originPath() (bip32.Path, error) {
	var path bip32.Path
	err := kp.eachPair(func(d Derivation) error {
		if d.Type != ChildDerivation {
			return errors.New("urtypes: wildcard or range in origin path")
		}
		e := d.Index
		if d.Hardened {
			e += hdkeychain.HardenedKeyStart
		}
		path = append(path, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if kp.Depth != 0 && int(kp.Depth) != len(path) {
		return nil, fmt.Errorf("urtypes: origin depth %d does not match its %d components", kp.Depth, len(path))
	}
	return path, nil
}

func (kp cborKeyPath) childDerivations() ([]Derivation, error) {
	var children []Derivation
	err := kp.eachPair(func(d Derivation) error {
		children = append(children, d)
		return nil
	})
	return children, err
}

// eachPair walks the (component, hardened) pairs of the path.
func (kp cborKeyPath) eachPair(fn func(Derivation) error) error {
	comps := kp.Components
	if len(comps)%2 != 0 {
		return errors.New("urtypes: odd keypath component count")
	}
	for ; len(comps) > 0; comps = comps[2:] {
		d, err := derivationFromPair(comps[0], comps[1])
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func derivationFromPair(comp, hardened any) (Derivation, error) {
	hard, ok := hardened.(bool)
	if !ok {
		return Derivation{}, errors.New("urtypes: invalid hardened flag")
	}
	d := Derivation{Hardened: hard}
	switch c := comp.(type) {
	case uint64:
		if c > math.MaxUint32 {
			return Derivation{}, errors.New("urtypes: child index out of range")
		}
		d.Type, d.Index = ChildDerivation, uint32(c)
	case []any:
		switch len(c) {
		case 0:
			d.Type = WildcardDerivation
		case 2:
			lo, ok1 := c[0].(uint64)
			hi, ok2 := c[1].(uint64)
			if !ok1 || !ok2 || lo > math.MaxUint32 || hi > math.MaxUint32 {
				return Derivation{}, errors.New("urtypes: invalid range derivation")
			}
			d.Type, d.Index, d.End = RangeDerivation, uint32(lo), uint32(hi)
		default:
			return Derivation{}, errors.New("urtypes: invalid derivation component")
		}
	default:
		return Derivation{}, errors.New("urtypes: unknown derivation component type")
	}
	return d, nil
}

// Encode renders the descriptor as a tagged crypto-output payload.
func (o OutputDescriptor) Encode() []byte {
	wrappers, ok := scriptWrappers[o.Script]
	if !ok {
		panic("urtypes: invalid script")
	}
	var payload any = o.functionTag()
	for i := len(wrappers) - 1; i >= 0; i-- {
		payload = cbor.Tag{Number: wrappers[i], Content: payload}
	}
	enc, err := encMode.Marshal(payload)
	if err != nil {
		// Valid by construction.
		panic(err)
	}
	return enc
}

// functionTag wraps the keys in the descriptor's script function.
func (o OutputDescriptor) functionTag() cbor.Tag {
	switch o.Type {
	case Multi, SortedMulti:
		m := cborMulti{Threshold: o.Threshold}
		for _, k := range o.Keys {
			m.Keys = append(m.Keys, cbor.Tag{Number: tagHDKey, Content: k.record()})
		}
		num := uint64(tagMulti)
		if o.Type == SortedMulti {
			num = tagSortedMulti
		}
		return cbor.Tag{Number: num, Content: m}
	default:
		return cbor.Tag{Number: tagHDKey, Content: o.Keys[0].record()}
	}
}

// Encode renders the key as a bare crypto-hdkey payload; the UR layer
// supplies the type.
func (k KeyDescriptor) Encode() []byte {
	enc, err := encMode.Marshal(k.record())
	if err != nil {
		// Valid by construction.
		panic(err)
	}
	return enc
}

// record converts the key to its CBOR map form.
func (k KeyDescriptor) record() cborHDKey {
	net := mainnet
	if k.Network == &chaincfg.TestNet3Params {
		net = testnet
	}
	return cborHDKey{
		KeyData:           k.KeyData,
		ChainCode:         k.ChainCode,
		UseInfo:           cborUseInfo{Network: net},
		Origin:            originRecord(k.MasterFingerprint, k.DerivationPath),
		Children:          childrenRecord(k.Children),
		ParentFingerprint: k.ParentFingerprint,
	}
}

func originRecord(fingerprint uint32, path bip32.Path) cborKeyPath {
	kp := cborKeyPath{Fingerprint: fingerprint}
	for _, e := range path {
		hard := e >= hdkeychain.HardenedKeyStart
		if hard {
			e -= hdkeychain.HardenedKeyStart
		}
		kp.Components = append(kp.Components, e, hard)
	}
	return kp
}

func childrenRecord(children []Derivation) cborKeyPath {
	var kp cborKeyPath
	for _, c := range children {
		switch c.Type {
		case ChildDerivation:
			kp.Components = append(kp.Components, c.Index, c.Hardened)
		case RangeDerivation:
			kp.Components = append(kp.Components, []any{c.Index, c.End}, c.Hardened)
		case WildcardDerivation:
			kp.Components = append(kp.Components, []any{}, c.Hardened)
		}
	}
	return kp
}
