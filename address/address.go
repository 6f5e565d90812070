// package address derives receive and change addresses from output
// descriptors.
package address

import (
	"errors"
	"fmt"

	"descriptors.dev/bip380"
	"descriptors.dev/urtypes"
)

var errUnsupported = errors.New("unsupported descriptor")

// Receive derives the external address at index.
func Receive(desc urtypes.OutputDescriptor, index uint32) (string, error) {
	return address(desc, index, false)
}

// Change derives the internal address at index.
func Change(desc urtypes.OutputDescriptor, index uint32) (string, error) {
	return address(desc, index, true)
}

// Supported reports whether addresses can be derived from the
// descriptor.
func Supported(desc urtypes.OutputDescriptor) bool {
	_, err := Receive(desc, 0)
	return !errors.Is(err, errUnsupported)
}

func address(desc urtypes.OutputDescriptor, index uint32, change bool) (string, error) {
	keys := make([]urtypes.KeyDescriptor, len(desc.Keys))
	for i, k := range desc.Keys {
		if len(k.Children) == 0 {
			// Default to the conventional <0;1>/* branches.
			k.Children = []urtypes.Derivation{
				{Type: urtypes.RangeDerivation, Index: 0, End: 1},
				{Type: urtypes.WildcardDerivation},
			}
		}
		children := make([]urtypes.Derivation, len(k.Children))
		for j, c := range k.Children {
			switch c.Type {
			case urtypes.ChildDerivation:
			case urtypes.RangeDerivation:
				if c.End != c.Index+1 {
					return "", fmt.Errorf("address: range path element: %w", errUnsupported)
				}
				branch := c.Index
				if change {
					branch = c.End
				}
				c = urtypes.Derivation{Type: urtypes.ChildDerivation, Index: branch, Hardened: c.Hardened}
			case urtypes.WildcardDerivation:
				if c.Hardened {
					return "", fmt.Errorf("address: hardened wildcard: %w", errUnsupported)
				}
			default:
				return "", fmt.Errorf("address: path element: %w", errUnsupported)
			}
			children[j] = c
		}
		k.Children = children
		keys[i] = k
	}
	desc.Keys = keys
	network := desc.Keys[0].Network
	for _, k := range desc.Keys {
		if k.Network != network {
			return "", fmt.Errorf("address: descriptor mixes networks: %w", errUnsupported)
		}
	}
	d, err := bip380.ParseAt(desc.Descriptor(), index, bip380.Options{Network: network})
	if err != nil {
		if errors.Is(err, bip380.ErrInvalidExpression) || errors.Is(err, bip380.ErrMiniscriptInP2SH) {
			return "", fmt.Errorf("address: %v: %w", err, errUnsupported)
		}
		return "", fmt.Errorf("address: %w", err)
	}
	addr, err := d.Address()
	if err != nil {
		return "", fmt.Errorf("address: %w", err)
	}
	return addr, nil
}
