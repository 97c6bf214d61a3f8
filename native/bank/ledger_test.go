package bank

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowd/native/escrow"
)

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestLedgerNativePullAndPush(t *testing.T) {
	vault := newTestAddress(0xEE)
	owner := newTestAddress(0x01)
	recipient := newTestAddress(0x02)
	ledger := NewLedger(vault)
	ledger.Mint(owner, escrow.NativeAsset(), big.NewInt(100))

	require.NoError(t, ledger.Pull(escrow.NativeAsset(), owner, big.NewInt(60)))
	require.Equal(t, "40", ledger.BalanceOf(owner, escrow.NativeAsset()).String())
	require.Equal(t, "60", ledger.VaultBalance(escrow.NativeAsset()).String())

	require.NoError(t, ledger.Push(escrow.NativeAsset(), recipient, big.NewInt(25)))
	require.Equal(t, "25", ledger.BalanceOf(recipient, escrow.NativeAsset()).String())
	require.Equal(t, "35", ledger.VaultBalance(escrow.NativeAsset()).String())
}

func TestLedgerPullInsufficientFunds(t *testing.T) {
	ledger := NewLedger(newTestAddress(0xEE))
	owner := newTestAddress(0x01)
	ledger.Mint(owner, escrow.NativeAsset(), big.NewInt(10))

	err := ledger.Pull(escrow.NativeAsset(), owner, big.NewInt(11))
	require.ErrorIs(t, err, escrow.ErrInsufficientFunds)
	require.Equal(t, "10", ledger.BalanceOf(owner, escrow.NativeAsset()).String())
	require.Equal(t, "0", ledger.VaultBalance(escrow.NativeAsset()).String())
}

func TestLedgerTokenPullConsumesAllowance(t *testing.T) {
	ledger := NewLedger(newTestAddress(0xEE))
	owner := newTestAddress(0x01)
	token, err := escrow.TokenAsset("USDQ")
	require.NoError(t, err)
	ledger.Mint(owner, token, big.NewInt(100))

	err = ledger.Pull(token, owner, big.NewInt(50))
	require.ErrorIs(t, err, escrow.ErrInsufficientAllowance)

	require.NoError(t, ledger.Approve(owner, token, big.NewInt(80)))
	require.NoError(t, ledger.Pull(token, owner, big.NewInt(50)))
	require.Equal(t, "30", ledger.Allowance(owner, token).String())
	require.Equal(t, "50", ledger.BalanceOf(owner, token).String())
	require.Equal(t, "50", ledger.VaultBalance(token).String())

	// Remaining allowance no longer covers another 50.
	err = ledger.Pull(token, owner, big.NewInt(50))
	require.ErrorIs(t, err, escrow.ErrInsufficientAllowance)
	require.Equal(t, "30", ledger.Allowance(owner, token).String())
}

func TestLedgerTokenPullBalanceCheckedAfterAllowance(t *testing.T) {
	ledger := NewLedger(newTestAddress(0xEE))
	owner := newTestAddress(0x01)
	token, err := escrow.TokenAsset("USDQ")
	require.NoError(t, err)
	ledger.Mint(owner, token, big.NewInt(10))
	require.NoError(t, ledger.Approve(owner, token, big.NewInt(100)))

	err = ledger.Pull(token, owner, big.NewInt(50))
	require.ErrorIs(t, err, escrow.ErrInsufficientFunds)
	// A failed pull must not burn allowance.
	require.Equal(t, "100", ledger.Allowance(owner, token).String())
	require.Equal(t, "10", ledger.BalanceOf(owner, token).String())
}

func TestLedgerApproveValidation(t *testing.T) {
	ledger := NewLedger(newTestAddress(0xEE))
	owner := newTestAddress(0x01)
	token, err := escrow.TokenAsset("USDQ")
	require.NoError(t, err)

	require.Error(t, ledger.Approve(owner, escrow.NativeAsset(), big.NewInt(1)))
	require.Error(t, ledger.Approve(owner, token, big.NewInt(-1)))
	require.Error(t, ledger.Approve(owner, token, nil))
	require.NoError(t, ledger.Approve(owner, token, big.NewInt(0)))
}

func TestLedgerPushRequiresCustodyBalance(t *testing.T) {
	ledger := NewLedger(newTestAddress(0xEE))
	recipient := newTestAddress(0x02)

	err := ledger.Push(escrow.NativeAsset(), recipient, big.NewInt(1))
	require.True(t, errors.Is(err, escrow.ErrPushFailed))
	require.Equal(t, "0", ledger.BalanceOf(recipient, escrow.NativeAsset()).String())
}

func TestLedgerZeroAmountIsNoop(t *testing.T) {
	ledger := NewLedger(newTestAddress(0xEE))
	owner := newTestAddress(0x01)

	require.NoError(t, ledger.Pull(escrow.NativeAsset(), owner, big.NewInt(0)))
	require.NoError(t, ledger.Push(escrow.NativeAsset(), owner, big.NewInt(0)))
	require.Equal(t, "0", ledger.VaultBalance(escrow.NativeAsset()).String())
}

func TestLedgerReclaimNeedsNoAllowance(t *testing.T) {
	ledger := NewLedger(newTestAddress(0xEE))
	holder := newTestAddress(0x02)
	token, err := escrow.TokenAsset("USDQ")
	require.NoError(t, err)

	ledger.Mint(holder, token, big.NewInt(40))
	require.NoError(t, ledger.Reclaim(token, holder, big.NewInt(40)))
	require.Equal(t, "0", ledger.BalanceOf(holder, token).String())
	require.Equal(t, "40", ledger.VaultBalance(token).String())
	require.Equal(t, "0", ledger.Allowance(holder, token).String())

	err = ledger.Reclaim(token, holder, big.NewInt(1))
	require.ErrorIs(t, err, escrow.ErrInsufficientFunds)
}

type failingEscrowState struct {
	escrows map[[32]byte]*escrow.Escrow
	indices map[string][][32]byte
	failPut bool
}

func newFailingEscrowState() *failingEscrowState {
	return &failingEscrowState{
		escrows: make(map[[32]byte]*escrow.Escrow),
		indices: make(map[string][][32]byte),
	}
}

func (s *failingEscrowState) EscrowPut(e *escrow.Escrow) error {
	if s.failPut {
		return errors.New("put refused")
	}
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	s.escrows[sanitized.ID] = sanitized
	return nil
}

func (s *failingEscrowState) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	esc, ok := s.escrows[id]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

func (s *failingEscrowState) IndexAppend(role escrow.IndexRole, addr [20]byte, id [32]byte) error {
	key := string(rune(role)) + string(addr[:])
	s.indices[key] = append(s.indices[key], id)
	return nil
}

func (s *failingEscrowState) IndexList(role escrow.IndexRole, addr [20]byte) ([][32]byte, error) {
	key := string(rune(role)) + string(addr[:])
	return s.indices[key], nil
}

func TestTokenReleaseReclaimedAfterPersistFailure(t *testing.T) {
	vault := newTestAddress(0xEE)
	payer := newTestAddress(0x01)
	payee := newTestAddress(0x02)
	ledger := NewLedger(vault)
	token, err := escrow.TokenAsset("USDQ")
	require.NoError(t, err)
	ledger.Mint(payer, token, big.NewInt(100))
	require.NoError(t, ledger.Approve(payer, token, big.NewInt(100)))

	state := newFailingEscrowState()
	engine := escrow.NewEngine()
	engine.SetState(state)
	engine.SetCustody(ledger)

	esc, err := engine.Create(escrow.CreateParams{
		Payer:                 payer,
		Payee:                 payee,
		Asset:                 token,
		TotalAmount:           big.NewInt(100),
		Deadline:              4_000_000_000,
		MilestoneAmounts:      []*big.Int{big.NewInt(100)},
		MilestoneDescriptions: []string{"all"},
	})
	require.NoError(t, err)
	require.Equal(t, "100", ledger.VaultBalance(token).String())

	state.failPut = true
	err = engine.ReleaseMilestone(esc.ID, payer, 0)
	require.Error(t, err)

	// The payout must be clawed back even though the payee granted no
	// allowance; custody and the stored record stay consistent.
	require.Equal(t, "0", ledger.BalanceOf(payee, token).String())
	require.Equal(t, "100", ledger.VaultBalance(token).String())
	stored, ok := state.EscrowGet(esc.ID)
	require.True(t, ok)
	require.False(t, stored.Milestones[0].Released)
	require.Equal(t, "0", stored.ReleasedAmount.String())
	require.Equal(t, escrow.StatusActive, stored.Status)
}

func TestLedgerConservation(t *testing.T) {
	vault := newTestAddress(0xEE)
	ledger := NewLedger(vault)
	owner := newTestAddress(0x01)
	recipient := newTestAddress(0x02)
	ledger.Mint(owner, escrow.NativeAsset(), big.NewInt(1000))

	require.NoError(t, ledger.Pull(escrow.NativeAsset(), owner, big.NewInt(400)))
	require.NoError(t, ledger.Push(escrow.NativeAsset(), recipient, big.NewInt(150)))

	total := new(big.Int)
	for _, addr := range [][20]byte{owner, recipient, vault} {
		total.Add(total, ledger.BalanceOf(addr, escrow.NativeAsset()))
	}
	require.Equal(t, "1000", total.String())
}
