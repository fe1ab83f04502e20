package fund

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// MaxAllowance is never decremented by TransferFrom.
var MaxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func (f *Fund) Name() string    { return f.name }
func (f *Fund) Symbol() string  { return f.symbol }
func (f *Fund) Decimals() uint8 { return f.decimals }

func (f *Fund) TotalSupply() *big.Int {
	return new(big.Int).Set(f.totalSupply)
}

func (f *Fund) BalanceOf(account common.Address) *big.Int {
	if v, ok := f.balances[account]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Holders returns every account with a non-zero share balance, ordered by address.
func (f *Fund) Holders() []common.Address {
	out := make([]common.Address, 0, len(f.balances))
	for account, v := range f.balances {
		if v.Sign() > 0 {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

func (f *Fund) Allowance(owner, spender common.Address) *big.Int {
	if v, ok := f.allowances[allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (f *Fund) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: allowance %v", ErrValidation, amount)
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	f.allowances[allowanceKey{owner, spender}] = new(big.Int).Set(amount)
	f.emit(Event{Kind: EventApproval, Account: owner, Counterparty: spender, Amount: hexBig(amount)})
	return nil
}

// Transfer moves shares between accounts. The sender's cost basis moves with them in
// proportion, so profit fees stay attached to the shares.
func (f *Fund) Transfer(from, to common.Address, amount *big.Int) error {
	return f.transfer(from, to, amount)
}

func (f *Fund) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: amount %v", ErrValidation, amount)
	}
	allowed := f.Allowance(from, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allows %s, moving %s", ErrInsufficientAllowance, from, allowed, amount)
	}
	if err := f.transfer(from, to, amount); err != nil {
		return err
	}
	if allowed.Cmp(MaxAllowance) != 0 {
		f.allowances[allowanceKey{from, spender}] = allowed.Sub(allowed, amount)
	}
	return nil
}

func (f *Fund) transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: amount %v", ErrValidation, amount)
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	balance := f.BalanceOf(from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, moving %s", ErrInsufficientShares, from, balance, amount)
	}

	if amount.Sign() > 0 && from != to {
		basis := new(big.Int).Mul(f.InvestmentOf(from), amount)
		basis.Quo(basis, balance)
		f.investmentOf[from] = new(big.Int).Sub(f.InvestmentOf(from), basis)
		f.investmentOf[to] = new(big.Int).Add(f.InvestmentOf(to), basis)

		f.balances[from] = balance.Sub(balance, amount)
		f.balances[to] = new(big.Int).Add(f.BalanceOf(to), amount)
	}
	f.emit(Event{Kind: EventTransfer, Account: from, Counterparty: to, Amount: hexBig(amount)})
	return nil
}

func (f *Fund) mint(to common.Address, amount *big.Int) {
	f.balances[to] = new(big.Int).Add(f.BalanceOf(to), amount)
	f.totalSupply.Add(f.totalSupply, amount)
	f.setTotalSupply()
	f.emit(Event{Kind: EventTransfer, Counterparty: to, Amount: hexBig(amount)})
}

func (f *Fund) burn(from common.Address, amount *big.Int) {
	f.balances[from] = new(big.Int).Sub(f.BalanceOf(from), amount)
	f.totalSupply.Sub(f.totalSupply, amount)
	f.setTotalSupply()
	f.emit(Event{Kind: EventTransfer, Account: from, Amount: hexBig(amount)})
}
