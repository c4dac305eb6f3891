// Package token implements the fungible settlement ledgers: balances,
// allowances, transfer and transfer-on-behalf. The native coin is a Ledger
// too; callers simply never use its allowance surface.
package token

import (
	"github.com/shopspring/decimal"

	"herovault.gg/internal/protocol"
)

type Ledger struct {
	symbol     string
	balances   map[string]decimal.Decimal
	allowances map[string]map[string]decimal.Decimal
}

func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:     symbol,
		balances:   make(map[string]decimal.Decimal),
		allowances: make(map[string]map[string]decimal.Decimal),
	}
}

func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) BalanceOf(principal string) decimal.Decimal {
	return l.balances[principal]
}

func (l *Ledger) Allowance(owner, spender string) decimal.Decimal {
	return l.allowances[owner][spender]
}

// Mint credits freshly issued units. Issuance happens at genesis and when
// value enters from outside the core; there is no cap here.
func (l *Ledger) Mint(to string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return protocol.Errf(protocol.ErrInvalidAmount, "negative amount")
	}
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}

func (l *Ledger) Approve(owner, spender string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return protocol.Errf(protocol.ErrInvalidAmount, "negative amount")
	}
	m := l.allowances[owner]
	if m == nil {
		m = make(map[string]decimal.Decimal)
		l.allowances[owner] = m
	}
	m[spender] = amount
	return nil
}

func (l *Ledger) Transfer(from, to string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return protocol.Errf(protocol.ErrInvalidAmount, "negative amount")
	}
	if l.balances[from].Cmp(amount) < 0 {
		return protocol.Errf(protocol.ErrInsufficientBalance,
			"%s balance of %s is below %s", l.symbol, from, amount)
	}
	l.balances[from] = l.balances[from].Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}

// TransferFrom moves owner funds under spender's allowance, decrementing it.
func (l *Ledger) TransferFrom(spender, from, to string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return protocol.Errf(protocol.ErrInvalidAmount, "negative amount")
	}
	allowed := l.Allowance(from, spender)
	if allowed.Cmp(amount) < 0 {
		return protocol.Errf(protocol.ErrInsufficientAllowance,
			"%s allowance for %s from %s is below %s", l.symbol, spender, from, amount)
	}
	if err := l.Transfer(from, to, amount); err != nil {
		return err
	}
	l.allowances[from][spender] = allowed.Sub(amount)
	return nil
}
