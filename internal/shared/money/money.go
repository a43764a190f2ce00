// Package money 金额计算：统一使用定点小数，两位小数四舍五入
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Places 金额保留小数位
const Places = 2

var (
	Zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// Round 四舍五入到分（half-up）
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Percent 按百分比计算金额：Round(amount * rate / 100)
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(rate).Div(hundred))
}

// Mul 单价×数量
func Mul(unit decimal.Decimal, qty int) decimal.Decimal {
	return Round(unit.Mul(decimal.NewFromInt(int64(qty))))
}

// Sum 求和，结果不再二次取整
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Parse 解析金额字符串，超过两位小数视为非法
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.Equal(Round(d)) {
		return decimal.Zero, fmt.Errorf("invalid amount %q: more than %d decimal places", s, Places)
	}
	return d, nil
}

// Split 将金额平均分成n份，尾差计入第一份
func Split(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	parts := make([]decimal.Decimal, n)
	share := total.Div(decimal.NewFromInt(int64(n))).RoundDown(Places)
	allocated := decimal.Zero
	for i := 1; i < n; i++ {
		parts[i] = share
		allocated = allocated.Add(share)
	}
	parts[0] = total.Sub(allocated)
	return parts
}

// IsPositive 金额是否大于0
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(decimal.Zero)
}
