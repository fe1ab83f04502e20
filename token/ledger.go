package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("amount must not be negative")
)

// MaxAllowance is an allowance that TransferFrom never decrements.
var MaxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type book struct {
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

// Ledger tracks balances and allowances of any number of tokens. It is safe for
// concurrent use.
type Ledger struct {
	mu    sync.RWMutex
	books map[common.Address]*book
}

func NewLedger() *Ledger {
	return &Ledger{books: make(map[common.Address]*book)}
}

func (l *Ledger) book(tok common.Address) *book {
	b, ok := l.books[tok]
	if !ok {
		b = &book{
			supply:     new(big.Int),
			balances:   make(map[common.Address]*big.Int),
			allowances: make(map[allowanceKey]*big.Int),
		}
		l.books[tok] = b
	}
	return b
}

func (b *book) balance(owner common.Address) *big.Int {
	if bal, ok := b.balances[owner]; ok {
		return bal
	}
	return new(big.Int)
}

func (l *Ledger) BalanceOf(tok, owner common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.books[tok]; ok {
		return new(big.Int).Set(b.balance(owner))
	}
	return new(big.Int)
}

func (l *Ledger) TotalSupply(tok common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.books[tok]; ok {
		return new(big.Int).Set(b.supply)
	}
	return new(big.Int)
}

func (l *Ledger) Allowance(tok, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.books[tok]; ok {
		if a, ok := b.allowances[allowanceKey{owner, spender}]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

func (l *Ledger) Mint(ctx context.Context, tok, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.book(tok)
	b.supply.Add(b.supply, amount)
	b.balances[to] = new(big.Int).Add(b.balance(to), amount)
	return nil
}

func (l *Ledger) Burn(ctx context.Context, tok, from common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.book(tok)
	bal := b.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientBalance, from, bal, amount)
	}
	b.supply.Sub(b.supply, amount)
	b.balances[from] = new(big.Int).Sub(bal, amount)
	return nil
}

func (l *Ledger) Approve(ctx context.Context, tok, owner, spender common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.book(tok).allowances[allowanceKey{owner, spender}] = new(big.Int).Set(amount)
	return nil
}

func (l *Ledger) Transfer(ctx context.Context, tok, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(l.book(tok), from, to, amount)
}

// TransferFrom moves amount from owner to recipient on behalf of spender, consuming
// spender's allowance unless it is MaxAllowance.
func (l *Ledger) TransferFrom(ctx context.Context, tok, spender, owner, recipient common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.book(tok)
	key := allowanceKey{owner, spender}
	allowed, ok := b.allowances[key]
	if !ok {
		allowed = new(big.Int)
	}
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allows %s, moving %s", ErrInsufficientAllowance, owner, allowed, amount)
	}
	if err := l.move(b, owner, recipient, amount); err != nil {
		return err
	}
	if allowed.Cmp(MaxAllowance) != 0 {
		b.allowances[key] = new(big.Int).Sub(allowed, amount)
	}
	return nil
}

func (l *Ledger) move(b *book, from, to common.Address, amount *big.Int) error {
	bal := b.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, moving %s", ErrInsufficientBalance, from, bal, amount)
	}
	b.balances[from] = new(big.Int).Sub(bal, amount)
	b.balances[to] = new(big.Int).Add(b.balance(to), amount)
	return nil
}
