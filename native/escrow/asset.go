package escrow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxTokenSymbolLength bounds the normalized token identifier.
const MaxTokenSymbolLength = 16

const nativeName = "NATIVE"

// AssetKind distinguishes the base currency from a fungible token type.
type AssetKind uint8

const (
	AssetNative AssetKind = iota
	AssetToken
)

// Asset is the tagged descriptor used everywhere an escrow names value: either
// the native currency or one specific fungible token type. The zero value is
// the native descriptor.
type Asset struct {
	Kind  AssetKind
	Token string
}

// NativeAsset returns the descriptor for the base currency.
func NativeAsset() Asset { return Asset{Kind: AssetNative} }

// TokenAsset returns the descriptor for the given fungible token symbol. The
// symbol is not validated; call Normalize before trusting it.
func TokenAsset(symbol string) Asset { return Asset{Kind: AssetToken, Token: symbol} }

// ParseAsset interprets the external string form: "native" (any casing) for
// the base currency, anything else as a token symbol.
func ParseAsset(s string) (Asset, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	if trimmed == "" {
		return Asset{}, fmt.Errorf("%w: empty descriptor", ErrInvalidAssetType)
	}
	if trimmed == nativeName {
		return NativeAsset(), nil
	}
	return TokenAsset(trimmed).Normalize()
}

// Normalize validates the descriptor and returns its canonical form: token
// symbols are trimmed, uppercased and restricted to 1..=16 characters of
// [A-Z0-9].
func (a Asset) Normalize() (Asset, error) {
	switch a.Kind {
	case AssetNative:
		if a.Token != "" {
			return Asset{}, fmt.Errorf("%w: native descriptor carries token %q", ErrInvalidAssetType, a.Token)
		}
		return a, nil
	case AssetToken:
		symbol := strings.ToUpper(strings.TrimSpace(a.Token))
		if len(symbol) == 0 || len(symbol) > MaxTokenSymbolLength {
			return Asset{}, fmt.Errorf("%w: token symbol length %d", ErrInvalidAssetType, len(symbol))
		}
		if symbol == nativeName {
			return Asset{}, fmt.Errorf("%w: token symbol %q is reserved", ErrInvalidAssetType, symbol)
		}
		for _, r := range symbol {
			if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
				return Asset{}, fmt.Errorf("%w: token symbol %q", ErrInvalidAssetType, symbol)
			}
		}
		return Asset{Kind: AssetToken, Token: symbol}, nil
	default:
		return Asset{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidAssetType, a.Kind)
	}
}

// Equal reports whether both descriptors name the same asset.
func (a Asset) Equal(other Asset) bool {
	return a.Kind == other.Kind && a.Token == other.Token
}

// IsNative reports whether the descriptor names the base currency.
func (a Asset) IsNative() bool { return a.Kind == AssetNative }

// String returns the external form, also used as the vault balance index key.
func (a Asset) String() string {
	if a.Kind == AssetNative {
		return nativeName
	}
	return a.Token
}

// MarshalJSON encodes the descriptor as its string form.
func (a Asset) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes the string form produced by MarshalJSON.
func (a *Asset) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAsset(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
