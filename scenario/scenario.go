// Package scenario describes a simulated market (tokens, venue pools, governance and
// funds) plus a script of actions against it, and builds and runs it in memory.
package scenario

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Scenario is the YAML document root.
type Scenario struct {
	// Start is the simulated clock at the first step, Unix second 1_700_000_000 if unset.
	Start time.Time `yaml:"start"`
	// Deadline is added to the clock for every deadline-taking action. Defaults to an hour.
	Deadline Duration `yaml:"deadline"`

	Tokens     []Token      `yaml:"tokens"`
	Accounts   []Account    `yaml:"accounts"`
	Pools      []Pool       `yaml:"pools"`
	Controller Controller   `yaml:"controller"`
	Funds      []FundConfig `yaml:"funds"`
	Steps      []Step       `yaml:"steps"`
}

type Token struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals uint8  `yaml:"decimals"`
	// Address is optional; by default it is derived from the symbol.
	Address string `yaml:"address"`
}

type Account struct {
	Name string `yaml:"name"`
	// Balances maps token symbols to decimal amounts in whole tokens.
	Balances map[string]string `yaml:"balances"`
}

// Pool is a venue pool seeded with full-range liquidity by Provider at price 1.0001^Tick.
type Pool struct {
	Tokens    [2]string `yaml:"tokens"`
	Fee       uint32    `yaml:"fee"`
	Tick      int32     `yaml:"tick"`
	Liquidity string    `yaml:"liquidity"`
	Provider  string    `yaml:"provider"`
}

// Route is a token path written as symbols and fee tiers.
type Route struct {
	Tokens []string `yaml:"tokens"`
	Fees   []uint32 `yaml:"fees"`
}

type HarvestPath struct {
	Token string `yaml:"token"`
	Route Route  `yaml:"route"`
}

type Controller struct {
	Governance     string        `yaml:"governance"`
	WETH9          string        `yaml:"weth9"`
	RewardToken    string        `yaml:"rewardToken"`
	MaxPriceImpact uint32        `yaml:"maxPriceImpact"`
	Verified       []string      `yaml:"verified"`
	HarvestPaths   []HarvestPath `yaml:"harvestPaths"`
}

type FundPath struct {
	Token string `yaml:"token"`
	Route Route  `yaml:"route"`
}

type FundConfig struct {
	Manager    string     `yaml:"manager"`
	Token      string     `yaml:"token"`
	Descriptor string     `yaml:"descriptor"`
	ManagerFee uint64     `yaml:"managerFee"`
	Paths      []FundPath `yaml:"paths"`
}

// Step is one scripted action. Which fields apply depends on Action.
type Step struct {
	Action string `yaml:"action"`
	// Fund indexes Scenario.Funds.
	Fund    int    `yaml:"fund"`
	Account string `yaml:"account"`
	To      string `yaml:"to"`

	Amount string `yaml:"amount"`
	MinOut string `yaml:"minOut"`
	// Proportion is a percentage, e.g. "50" or "12.5".
	Proportion string `yaml:"proportion"`

	Token     string   `yaml:"token"`
	TokenA    string   `yaml:"tokenA"`
	TokenB    string   `yaml:"tokenB"`
	Fee       uint32   `yaml:"fee"`
	TickLower int32    `yaml:"tickLower"`
	TickUpper int32    `yaml:"tickUpper"`
	Pool      int      `yaml:"pool"`
	Position  int      `yaml:"position"`
	Target    int      `yaml:"target"`
	Collect   bool     `yaml:"collect"`
	Route     *Route   `yaml:"route"`
	Advance   Duration `yaml:"advance"`

	// ExpectError, when set, makes the step pass only if it fails with an error whose
	// message contains this text.
	ExpectError string `yaml:"expectError"`
}

// Duration decodes YAML strings such as "90s" or "1h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads a scenario from a YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Scenario) validate() error {
	if len(s.Tokens) == 0 {
		return errors.New("scenario: at least one token is required")
	}
	if s.Controller.Governance == "" || s.Controller.WETH9 == "" || s.Controller.RewardToken == "" {
		return errors.New("scenario: controller governance, weth9 and rewardToken are required")
	}
	for i, st := range s.Steps {
		if st.Action == "" {
			return fmt.Errorf("scenario: step %d has no action", i)
		}
		if st.Fund < 0 || (len(s.Funds) > 0 && st.Fund >= len(s.Funds)) {
			return fmt.Errorf("scenario: step %d references fund %d", i, st.Fund)
		}
	}
	return nil
}

// AccountAddress derives the simulated address of a named account.
func AccountAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("account:" + name))[12:])
}

// TokenAddress returns t.Address when set, otherwise an address derived from the symbol.
func TokenAddress(t Token) (common.Address, error) {
	if t.Address == "" {
		return common.BytesToAddress(crypto.Keccak256([]byte("token:" + t.Symbol))[12:]), nil
	}
	if !common.IsHexAddress(t.Address) {
		return common.Address{}, fmt.Errorf("token %s: invalid address %q", t.Symbol, t.Address)
	}
	return common.HexToAddress(t.Address), nil
}

// ParseAmount converts a decimal string in whole tokens to base units.
func ParseAmount(s string, decimals uint8) (*big.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return nil, errors.New("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", s)
	}
	units := d.Shift(int32(decimals))
	if !units.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	return units.BigInt(), nil
}
