package bank

import (
	"fmt"
	"math/big"
	"sync"

	"escrowd/core/types"
	"escrowd/native/escrow"
)

type allowanceKey struct {
	owner [20]byte
	asset string
}

// Ledger is an account-backed custody adapter. Pulled value moves from the
// owner's account into a dedicated vault address; pushes move it back out.
// Every call validates balances before mutating, so a single transfer never
// half-applies.
type Ledger struct {
	mu         sync.Mutex
	vault      [20]byte
	accounts   map[[20]byte]*types.Account
	allowances map[allowanceKey]*big.Int
}

// NewLedger creates a ledger whose custody balance is held by the supplied
// vault address.
func NewLedger(vault [20]byte) *Ledger {
	return &Ledger{
		vault:      vault,
		accounts:   make(map[[20]byte]*types.Account),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Vault returns the custody vault address.
func (l *Ledger) Vault() [20]byte { return l.vault }

// Mint credits the supplied address, bootstrapping balances for genesis and
// tests.
func (l *Ledger) Mint(addr [20]byte, asset escrow.Asset, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(addr, asset, amount)
}

// Approve grants the custody vault permission to pull up to amount of a token
// asset from the owner's account. Native pulls need no allowance.
func (l *Ledger) Approve(owner [20]byte, asset escrow.Asset, amount *big.Int) error {
	if asset.IsNative() {
		return fmt.Errorf("bank: native asset needs no allowance")
	}
	if !asset.Valid() {
		return fmt.Errorf("bank: malformed asset")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: allowance must be non-negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner: owner, asset: asset.String()}] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the remaining amount the vault may pull from the owner.
func (l *Ledger) Allowance(owner [20]byte, asset escrow.Asset) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if remaining, ok := l.allowances[allowanceKey{owner: owner, asset: asset.String()}]; ok {
		return new(big.Int).Set(remaining)
	}
	return big.NewInt(0)
}

// BalanceOf returns the balance the address holds for the asset.
func (l *Ledger) BalanceOf(addr [20]byte, asset escrow.Asset) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(addr, asset)
}

// VaultBalance returns the custody balance currently held for the asset.
func (l *Ledger) VaultBalance(asset escrow.Asset) *big.Int {
	return l.BalanceOf(l.vault, asset)
}

// Pull implements escrow.Custody. Token pulls consume allowance; all pulls
// fail without mutation when the owner's balance cannot cover the amount.
func (l *Ledger) Pull(asset escrow.Asset, from [20]byte, amount *big.Int) error {
	if err := validAmount(asset, amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !asset.IsNative() {
		key := allowanceKey{owner: from, asset: asset.String()}
		remaining, ok := l.allowances[key]
		if !ok || remaining.Cmp(amount) < 0 {
			return escrow.ErrInsufficientAllowance
		}
		if l.balance(from, asset).Cmp(amount) < 0 {
			return escrow.ErrInsufficientFunds
		}
		l.allowances[key] = new(big.Int).Sub(remaining, amount)
	} else if l.balance(from, asset).Cmp(amount) < 0 {
		return escrow.ErrInsufficientFunds
	}
	l.debit(from, asset, amount)
	l.credit(l.vault, asset, amount)
	return nil
}

// Push implements escrow.Custody, moving custody funds out to the recipient.
func (l *Ledger) Push(asset escrow.Asset, to [20]byte, amount *big.Int) error {
	if err := validAmount(asset, amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance(l.vault, asset).Cmp(amount) < 0 {
		return fmt.Errorf("%w: custody balance too low", escrow.ErrPushFailed)
	}
	l.debit(l.vault, asset, amount)
	l.credit(to, asset, amount)
	return nil
}

// Reclaim implements escrow.Custody, reversing a push delivered earlier in
// the same operation. It consumes no allowance: the holder's balance was
// credited by the vault moments before, so only the balance is checked.
func (l *Ledger) Reclaim(asset escrow.Asset, from [20]byte, amount *big.Int) error {
	if err := validAmount(asset, amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance(from, asset).Cmp(amount) < 0 {
		return escrow.ErrInsufficientFunds
	}
	l.debit(from, asset, amount)
	l.credit(l.vault, asset, amount)
	return nil
}

func validAmount(asset escrow.Asset, amount *big.Int) error {
	if !asset.Valid() {
		return fmt.Errorf("bank: malformed asset")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: amount must be non-negative")
	}
	return nil
}

func (l *Ledger) account(addr [20]byte) *types.Account {
	acc, ok := l.accounts[addr]
	if !ok {
		acc = types.NewAccount()
		l.accounts[addr] = acc
	}
	return acc.Normalize()
}

func (l *Ledger) balance(addr [20]byte, asset escrow.Asset) *big.Int {
	acc := l.account(addr)
	if asset.IsNative() {
		return new(big.Int).Set(acc.BalanceNative)
	}
	return acc.TokenBalance(asset.String())
}

func (l *Ledger) credit(addr [20]byte, asset escrow.Asset, amount *big.Int) {
	acc := l.account(addr)
	if asset.IsNative() {
		acc.BalanceNative = new(big.Int).Add(acc.BalanceNative, amount)
		return
	}
	acc.SetTokenBalance(asset.String(), new(big.Int).Add(acc.TokenBalance(asset.String()), amount))
}

func (l *Ledger) debit(addr [20]byte, asset escrow.Asset, amount *big.Int) {
	acc := l.account(addr)
	if asset.IsNative() {
		acc.BalanceNative = new(big.Int).Sub(acc.BalanceNative, amount)
		return
	}
	acc.SetTokenBalance(asset.String(), new(big.Int).Sub(acc.TokenBalance(asset.String()), amount))
}
