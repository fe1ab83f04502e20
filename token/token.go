// Package token holds token metadata and an in-memory multi-token balance ledger with
// ERC20 transfer and allowance semantics.
package token

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrTokenExists  = errors.New("token already registered")
	ErrUnknownToken = errors.New("unknown token")
)

// Token is a safe, structured representation of a token's data for external use.
type Token struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// Registry indexes token metadata by address.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]Token
}

func NewRegistry(tokens ...Token) (*Registry, error) {
	r := &Registry{tokens: make(map[common.Address]Token, len(tokens))}
	for _, t := range tokens {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(t Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[t.Address]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, t.Address)
	}
	r.tokens[t.Address] = t
	return nil
}

func (r *Registry) Get(addr common.Address) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	return t, ok
}

// BySymbol returns the first token registered under symbol.
func (r *Registry) BySymbol(symbol string) (Token, bool) {
	for _, t := range r.All() {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

// All returns every registered token ordered by address.
func (r *Registry) All() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}
