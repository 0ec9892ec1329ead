// Package ethunit converts between decimal ether strings and wei amounts.
package ethunit

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const Decimals = 18

var (
	ErrNegative  = errors.New("ethunit: negative amount")
	ErrPrecision = errors.New("ethunit: more than 18 decimal places")
	ErrOverflow  = errors.New("ethunit: amount exceeds 256 bits")
)

// ParseEther "0.5" -> 500000000000000000 wei
func ParseEther(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("ethunit: parse %q: %w", s, err)
	}
	return FromDecimal(d)
}

func FromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, ErrNegative
	}
	wei := d.Shift(Decimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, ErrPrecision
	}
	v, overflow := uint256.FromBig(wei.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// ParseWei 十进制整数字符串
func ParseWei(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("ethunit: parse wei %q: %w", s, err)
	}
	return v, nil
}

// ToDecimal wei -> ether，和钱包 adapter 里的 weiToDecimal 一样 Shift(-18)
func ToDecimal(wei *uint256.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei.ToBig(), 0).Shift(-Decimals)
}

func FormatEther(wei *uint256.Int) string {
	return ToDecimal(wei).String()
}
