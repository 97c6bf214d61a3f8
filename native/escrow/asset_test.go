package escrow

import (
	"errors"
	"testing"
)

func TestTokenAssetCanonicalisesSymbol(t *testing.T) {
	asset, err := TokenAsset("  usdq ")
	if err != nil {
		t.Fatalf("token asset: %v", err)
	}
	if asset.String() != "USDQ" {
		t.Fatalf("expected canonical USDQ, got %s", asset)
	}
	if asset.IsNative() {
		t.Fatalf("token asset reported native")
	}
	if !asset.Valid() {
		t.Fatalf("expected valid token asset")
	}

	if _, err := TokenAsset("   "); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected invalid parameters for blank symbol, got %v", err)
	}
}

func TestAssetValidity(t *testing.T) {
	if !NativeAsset().Valid() || !NativeAsset().IsNative() {
		t.Fatalf("expected native asset to be valid and native")
	}
	if NativeAsset().String() != "NATIVE" {
		t.Fatalf("unexpected native symbol %s", NativeAsset())
	}
	invalid := []Asset{
		{},
		{Kind: AssetNative, Token: "X"},
		{Kind: AssetToken},
		{Kind: AssetToken, Token: "  "},
		{Kind: AssetKind(9)},
	}
	for _, asset := range invalid {
		if asset.Valid() {
			t.Fatalf("expected %+v to be invalid", asset)
		}
	}
}
