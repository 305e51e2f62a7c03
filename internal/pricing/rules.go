// Package pricing реализует расчёт скидок заказа и оркестрацию обращения
// к сервису лояльности.
package pricing

import "github.com/shopspring/decimal"

// OrderRule — правило скидки уровня заказа. Правила независимы и всегда
// оцениваются по исходной сумме заказа, без последовательного компаундинга.
type OrderRule struct {
	Name     string
	Discount func(subtotal decimal.Decimal, itemCount int32) decimal.Decimal
}

var (
	bulkPercent         = decimal.RequireFromString("0.10")
	minPurchaseFloor    = decimal.NewFromInt(100)
	minPurchaseFlat     = decimal.NewFromInt(15)
	largeOrderFloor     = decimal.NewFromInt(500)
	largeOrderPercent   = decimal.RequireFromString("0.05")
	largeOrderCap       = decimal.NewFromInt(50)
	bulkMinItems  int32 = 5
)

// DefaultOrderRules возвращает стандартный набор правил скидок уровня заказа.
func DefaultOrderRules() []OrderRule {
	return []OrderRule{
		{
			Name: "bulk",
			Discount: func(subtotal decimal.Decimal, itemCount int32) decimal.Decimal {
				if itemCount < bulkMinItems {
					return decimal.Zero
				}
				return subtotal.Mul(bulkPercent)
			},
		},
		{
			Name: "min-purchase",
			Discount: func(subtotal decimal.Decimal, itemCount int32) decimal.Decimal {
				if subtotal.LessThan(minPurchaseFloor) {
					return decimal.Zero
				}
				return minPurchaseFlat
			},
		},
		{
			Name: "large-order",
			Discount: func(subtotal decimal.Decimal, itemCount int32) decimal.Decimal {
				if subtotal.LessThan(largeOrderFloor) {
					return decimal.Zero
				}
				d := subtotal.Mul(largeOrderPercent)
				if d.GreaterThan(largeOrderCap) {
					return largeOrderCap
				}
				return d
			},
		},
	}
}

// OrderLevelDiscount суммирует скидки всех применимых правил.
func OrderLevelDiscount(rules []OrderRule, subtotal decimal.Decimal, itemCount int32) decimal.Decimal {
	total := decimal.Zero
	for _, rule := range rules {
		total = total.Add(rule.Discount(subtotal, itemCount))
	}
	return total
}

// AssembleTotal собирает итоговую цену заказа. Итог не может быть отрицательным:
// нижняя граница применяется здесь, а не на промежуточных шагах расчёта.
func AssembleTotal(subtotal, discounts, tax, shipping decimal.Decimal) decimal.Decimal {
	total := subtotal.Sub(discounts).Add(tax).Add(shipping)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}
