// Package path encodes multi-hop swap routes in the packed V3 layout: a 20-byte token
// address followed by a 3-byte big-endian fee for each hop, terminated by the final token.
package path

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const (
	addrSize = common.AddressLength
	feeSize  = 3
	// nextOffset is the distance from one token address to the next.
	nextOffset = addrSize + feeSize
	// popOffset is the length of a single-pool path.
	popOffset = nextOffset + addrSize
	// multiplePoolsMinLength is the minimum length of a path with two or more pools.
	multiplePoolsMinLength = popOffset + nextOffset

	maxFee = 1<<24 - 1
)

var (
	ErrInvalidLength  = errors.New("path: invalid length")
	ErrTokenFeeCount  = errors.New("path: token count must equal fee count + 1")
	ErrFeeOutOfRange  = errors.New("path: fee does not fit in 24 bits")
	ErrZeroAddressHop = errors.New("path: zero address in route")
)

// Hop is one pool traversal of a route.
type Hop struct {
	TokenIn  common.Address
	TokenOut common.Address
	Fee      uint32
}

// Encode packs tokens and fees into a path.
func Encode(tokens []common.Address, fees []uint32) ([]byte, error) {
	if len(tokens) < 2 || len(tokens) != len(fees)+1 {
		return nil, fmt.Errorf("%w: %d tokens, %d fees", ErrTokenFeeCount, len(tokens), len(fees))
	}

	out := make([]byte, 0, len(fees)*nextOffset+addrSize)
	for i, fee := range fees {
		if fee > maxFee {
			return nil, fmt.Errorf("%w: %d", ErrFeeOutOfRange, fee)
		}
		out = append(out, tokens[i].Bytes()...)
		out = append(out, byte(fee>>16), byte(fee>>8), byte(fee))
	}
	return append(out, tokens[len(tokens)-1].Bytes()...), nil
}

// Decode is the inverse of Encode.
func Decode(p []byte) ([]common.Address, []uint32, error) {
	if err := validLength(p); err != nil {
		return nil, nil, err
	}

	hops := (len(p) - addrSize) / nextOffset
	tokens := make([]common.Address, 0, hops+1)
	fees := make([]uint32, 0, hops)
	for off := 0; off < hops*nextOffset; off += nextOffset {
		tokens = append(tokens, common.BytesToAddress(p[off:off+addrSize]))
		fees = append(fees, readFee(p[off+addrSize:off+nextOffset]))
	}
	tokens = append(tokens, common.BytesToAddress(p[len(p)-addrSize:]))
	return tokens, fees, nil
}

// HasMultiplePools reports whether the path traverses two or more pools.
func HasMultiplePools(p []byte) bool {
	return len(p) >= multiplePoolsMinLength
}

// NumPools returns the number of pools in a well-formed path.
func NumPools(p []byte) int {
	if len(p) < popOffset {
		return 0
	}
	return (len(p) - addrSize) / nextOffset
}

// SkipToken drops the first token and fee, returning the remainder of the route. The
// returned slice aliases p.
func SkipToken(p []byte) []byte {
	if len(p) < nextOffset {
		return nil
	}
	return p[nextOffset:]
}

// DecodeFirstPool returns the first hop of a path.
func DecodeFirstPool(p []byte) (Hop, error) {
	if len(p) < popOffset {
		return Hop{}, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(p))
	}
	return Hop{
		TokenIn:  common.BytesToAddress(p[:addrSize]),
		Fee:      readFee(p[addrSize:nextOffset]),
		TokenOut: common.BytesToAddress(p[nextOffset:popOffset]),
	}, nil
}

// Hops decodes every hop of the route in order by repeatedly skipping the leading token.
func Hops(p []byte) ([]Hop, error) {
	if err := validLength(p); err != nil {
		return nil, err
	}

	hops := make([]Hop, 0, NumPools(p))
	for rest := p; ; rest = SkipToken(rest) {
		hop, err := DecodeFirstPool(rest)
		if err != nil {
			return nil, err
		}
		hops = append(hops, hop)
		if !HasMultiplePools(rest) {
			return hops, nil
		}
	}
}

// First returns the route's starting token.
func First(p []byte) (common.Address, error) {
	if err := validLength(p); err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(p[:addrSize]), nil
}

// Last returns the route's final token.
func Last(p []byte) (common.Address, error) {
	if err := validLength(p); err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(p[len(p)-addrSize:]), nil
}

// Reverse returns the same route traversed in the opposite direction.
func Reverse(p []byte) ([]byte, error) {
	tokens, fees, err := Decode(p)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(tokens)-1; i < j; i, j = i+1, j-1 {
		tokens[i], tokens[j] = tokens[j], tokens[i]
	}
	for i, j := 0, len(fees)-1; i < j; i, j = i+1, j-1 {
		fees[i], fees[j] = fees[j], fees[i]
	}
	return Encode(tokens, fees)
}

// Tokens returns every token the route touches, in order.
func Tokens(p []byte) ([]common.Address, error) {
	tokens, _, err := Decode(p)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if t == (common.Address{}) {
			return nil, ErrZeroAddressHop
		}
	}
	return tokens, nil
}

func validLength(p []byte) error {
	if len(p) < popOffset || (len(p)-addrSize)%nextOffset != 0 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(p))
	}
	return nil
}

func readFee(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
