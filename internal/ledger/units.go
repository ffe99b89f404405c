package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

const etherDecimals = 18

var (
	ErrInvalidAmount = errors.New("invalid ether amount")

	weiPerEther = big.NewInt(params.Ether)
)

// FormatEther renders a wei amount in ether, always with at least one
// fractional digit ("1.0", "0.25").
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	abs := new(big.Int).Abs(wei)
	whole, frac := new(big.Int).QuoRem(abs, weiPerEther, new(big.Int))

	digits := frac.String()
	digits = strings.Repeat("0", etherDecimals-len(digits)) + digits
	digits = strings.TrimRight(digits, "0")
	if digits == "" {
		digits = "0"
	}

	out := whole.String() + "." + digits
	if wei.Sign() < 0 {
		out = "-" + out
	}
	return out
}

// ParseEther converts a non-negative decimal ether string into wei.
func ParseEther(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if len(frac) > etherDecimals {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, value, etherDecimals)
	}
	if whole == "" {
		whole = "0"
	}

	wei, ok := new(big.Int).SetString(whole+frac+strings.Repeat("0", etherDecimals-len(frac)), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	return wei, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
