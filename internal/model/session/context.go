package session

import "github.com/shopspring/decimal"

// FinancialContext is the debtor state a negotiation is anchored on.
type FinancialContext struct {
	AmountOwed decimal.Decimal `json:"amount_owed"`
	DaysInMora int             `json:"days_in_mora"`
}

// Clamped returns a copy with negative fields raised to zero.
func (c FinancialContext) Clamped() FinancialContext {
	if c.AmountOwed.IsNegative() {
		c.AmountOwed = decimal.Zero
	}
	if c.DaysInMora < 0 {
		c.DaysInMora = 0
	}
	return c
}

// AmountOwedFixed formats the balance with two decimals for prompts.
func (c FinancialContext) AmountOwedFixed() string {
	return c.AmountOwed.StringFixed(2)
}

// ApplyPayment subtracts a detected payment, flooring the balance at zero.
// Non-positive payments leave the context untouched.
func (c *FinancialContext) ApplyPayment(payment decimal.Decimal) {
	if !payment.IsPositive() {
		return
	}
	c.AmountOwed = decimal.Max(decimal.Zero, c.AmountOwed.Sub(payment))
}

// ContextUpdate carries a partial update; nil fields are left unchanged.
type ContextUpdate struct {
	AmountOwed *decimal.Decimal `json:"amount_owed,omitempty"`
	DaysInMora *int             `json:"days_in_mora,omitempty"`
}

// Apply writes the provided fields into c, clamped to zero.
func (u ContextUpdate) Apply(c *FinancialContext) {
	if u.AmountOwed != nil {
		c.AmountOwed = decimal.Max(decimal.Zero, *u.AmountOwed)
	}
	if u.DaysInMora != nil {
		c.DaysInMora = max(0, *u.DaysInMora)
	}
}
