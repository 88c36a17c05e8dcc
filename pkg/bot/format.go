package bot

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/illmade-knight/go-krc20bot/pkg/kasplex"
)

// TokenStatus is the reply data of the status command.
type TokenStatus struct {
	kasplex.TokenResult
	// MintedPercent is minted/max*100 with two decimals.
	MintedPercent string `json:"mintedPercent"`
}

// HolderBalances is the reply data of the balance command.
type HolderBalances struct {
	Address string    `json:"address"`
	Tokens  []Holding `json:"tokens"`
}

// Holding is one token balance scaled by its decimals.
type Holding struct {
	kasplex.TokenBalance
	Amount    string `json:"amount"`
	Compact   string `json:"compact"`
	Formatted string `json:"formatted"`
}

func newTokenStatus(r kasplex.TokenResult) TokenStatus {
	return TokenStatus{TokenResult: r, MintedPercent: mintedPercent(r.Minted, r.Max)}
}

// mintedPercent returns "0.00" when either figure is unusable.
func mintedPercent(minted, maxSupply string) string {
	m, ok := new(big.Rat).SetString(minted)
	if !ok {
		return "0.00"
	}
	x, ok := new(big.Rat).SetString(maxSupply)
	if !ok || x.Sign() == 0 {
		return "0.00"
	}
	pct := new(big.Rat).Mul(m, big.NewRat(100, 1))
	return pct.Quo(pct, x).FloatString(2)
}

func newHolderBalances(address string, list kasplex.TokenList) HolderBalances {
	hb := HolderBalances{Address: address, Tokens: make([]Holding, 0, len(list.Result))}
	for _, tb := range list.Result {
		tb.Tick = strings.ToUpper(tb.Tick)
		h := Holding{TokenBalance: tb, Amount: tb.Balance, Compact: tb.Balance, Formatted: tb.Balance}
		if amount, d, ok := scale(tb.Balance, tb.Dec); ok {
			f, _ := amount.Float64()
			h.Amount = trimDecimal(amount.FloatString(d))
			h.Compact = compactNumber(f)
			h.Formatted = humanize.CommafWithDigits(f, 2)
		}
		hb.Tokens = append(hb.Tokens, h)
	}
	return hb
}

// maxDecimals bounds the scale taken from the API.
const maxDecimals = 64

// scale divides a raw integer balance by 10^dec and reports the number of
// decimals used. It fails for unparsable balances and for dec above maxDecimals.
func scale(balance, dec string) (*big.Rat, int, bool) {
	d, ok := decimals(dec)
	if !ok {
		return nil, 0, false
	}
	b, ok := new(big.Rat).SetString(balance)
	if !ok {
		return nil, 0, false
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d)), nil)
	return b.Quo(b, new(big.Rat).SetInt(denom)), d, true
}

// decimals parses dec. Missing or negative values mean 0.
func decimals(dec string) (int, bool) {
	d, err := strconv.Atoi(dec)
	if err != nil || d < 0 {
		return 0, true
	}
	if d > maxDecimals {
		return 0, false
	}
	return d, true
}

func trimDecimal(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// compactNumber renders n with a B, M or K suffix at or above a thousand.
func compactNumber(n float64) string {
	const (
		billion  = 1_000_000_000.0
		million  = 1_000_000.0
		thousand = 1_000.0
	)
	switch {
	case n >= billion:
		return fmt.Sprintf("%.2fB", n/billion)
	case n >= million:
		return fmt.Sprintf("%.2fM", n/million)
	case n >= thousand:
		return fmt.Sprintf("%.2fK", n/thousand)
	default:
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
}
