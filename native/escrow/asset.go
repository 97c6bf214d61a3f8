package escrow

import (
	"fmt"
	"strings"
)

// AssetKind discriminates the closed set of asset variants an escrow may hold.
type AssetKind uint8

const (
	// AssetNative denotes the platform's native value unit.
	AssetNative AssetKind = iota + 1
	// AssetToken denotes a fungible token identified by its symbol.
	AssetToken
)

// Asset is a tagged asset descriptor: either the native asset or a specific
// fungible token. Construct values through NativeAsset or TokenAsset so the
// token symbol is always canonical.
type Asset struct {
	Kind  AssetKind `json:"kind"`
	Token string    `json:"token,omitempty"`
}

// NativeAsset returns the descriptor for the native value unit.
func NativeAsset() Asset {
	return Asset{Kind: AssetNative}
}

// TokenAsset returns the descriptor for the supplied token symbol in canonical
// uppercase form.
func TokenAsset(symbol string) (Asset, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return Asset{}, fmt.Errorf("%w: token symbol required", ErrInvalidParameters)
	}
	return Asset{Kind: AssetToken, Token: trimmed}, nil
}

// IsNative reports whether the asset is the native value unit.
func (a Asset) IsNative() bool { return a.Kind == AssetNative }

// Valid reports whether the descriptor is a well-formed member of the variant.
func (a Asset) Valid() bool {
	switch a.Kind {
	case AssetNative:
		return a.Token == ""
	case AssetToken:
		return strings.TrimSpace(a.Token) != ""
	default:
		return false
	}
}

// String returns the canonical symbol for the asset.
func (a Asset) String() string {
	if a.Kind == AssetNative {
		return "NATIVE"
	}
	return a.Token
}
