package escrow

import (
	"errors"
	"math/big"
	"testing"

	"escrowd/storage"
)

func testStoredEscrow() *Escrow {
	token, _ := TokenAsset("USDQ")
	return &Escrow{
		ID:             [32]byte{0xDE, 0xAD},
		Payer:          newTestAddress(0x01),
		Payee:          newTestAddress(0x02),
		Arbitrator:     newTestAddress(0x03),
		Asset:          token,
		TotalAmount:    big.NewInt(100),
		ReleasedAmount: big.NewInt(40),
		Deadline:       testNow + 1000,
		CreatedAt:      testNow,
		Status:         StatusDisputed,
		Milestones: []*Milestone{
			{Amount: big.NewInt(40), Released: true, Description: "design"},
			{Amount: big.NewInt(60), Description: "delivery"},
		},
	}
}

func TestKVStateRoundTrip(t *testing.T) {
	state := NewKVState(storage.NewMemDB())
	original := testStoredEscrow()
	if err := state.EscrowPut(original); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, ok := state.EscrowGet(original.ID)
	if !ok {
		t.Fatalf("expected stored escrow")
	}
	if loaded.Payer != original.Payer || loaded.Payee != original.Payee || loaded.Arbitrator != original.Arbitrator {
		t.Fatalf("participant mismatch after round trip")
	}
	if loaded.Asset != original.Asset {
		t.Fatalf("asset mismatch: %+v", loaded.Asset)
	}
	if loaded.TotalAmount.Cmp(original.TotalAmount) != 0 || loaded.ReleasedAmount.Cmp(original.ReleasedAmount) != 0 {
		t.Fatalf("amount mismatch after round trip")
	}
	if loaded.Status != StatusDisputed {
		t.Fatalf("status mismatch: %s", loaded.Status)
	}
	if len(loaded.Milestones) != 2 {
		t.Fatalf("expected two milestones, got %d", len(loaded.Milestones))
	}
	if !loaded.Milestones[0].Released || loaded.Milestones[1].Released {
		t.Fatalf("milestone flags mismatch")
	}
	if loaded.Milestones[1].Description != "delivery" {
		t.Fatalf("description mismatch: %q", loaded.Milestones[1].Description)
	}

	// Each read decodes a fresh value.
	loaded.TotalAmount.SetInt64(7)
	again, _ := state.EscrowGet(original.ID)
	if again.TotalAmount.String() != "100" {
		t.Fatalf("reads share state")
	}
}

func TestKVStatePutRejectsBrokenInvariants(t *testing.T) {
	state := NewKVState(storage.NewMemDB())
	esc := testStoredEscrow()
	esc.ReleasedAmount = big.NewInt(101)
	if err := state.EscrowPut(esc); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
	if _, ok := state.EscrowGet(esc.ID); ok {
		t.Fatalf("rejected escrow must not be stored")
	}
}

func TestKVStateOmitsUnsetArbitrator(t *testing.T) {
	state := NewKVState(storage.NewMemDB())
	esc := testStoredEscrow()
	esc.Arbitrator = [20]byte{}
	if err := state.EscrowPut(esc); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok := state.EscrowGet(esc.ID)
	if !ok {
		t.Fatalf("expected stored escrow")
	}
	if loaded.HasArbitrator() {
		t.Fatalf("expected no arbitrator after round trip")
	}
}

func TestKVStateIndexes(t *testing.T) {
	state := NewKVState(storage.NewMemDB())
	payer := newTestAddress(0x01)
	first := [32]byte{0x01}
	second := [32]byte{0x02}

	ids, err := state.IndexList(IndexPayer, payer)
	if err != nil {
		t.Fatalf("empty list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty index")
	}

	if err := state.IndexAppend(IndexPayer, payer, first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := state.IndexAppend(IndexPayer, payer, second); err != nil {
		t.Fatalf("append: %v", err)
	}
	ids, err = state.IndexList(IndexPayer, payer)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != first || ids[1] != second {
		t.Fatalf("expected insertion order [first second], got %v", ids)
	}

	// The payee index for the same address is independent.
	ids, err = state.IndexList(IndexPayee, payer)
	if err != nil {
		t.Fatalf("payee list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected payee index to be empty")
	}

	if _, err := state.IndexList(IndexRole(9), payer); err == nil {
		t.Fatalf("expected unknown role to error")
	}
}
