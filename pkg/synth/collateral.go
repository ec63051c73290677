package synth

import (
	"fmt"
	"math/big"
	"sync"
)

// MemLedger is an in-memory collateral-token ledger. It backs tests and
// single-node deployments; production deployments plug in their own
// CollateralLedger.
type MemLedger struct {
	balances map[string]*big.Int
	mu       sync.RWMutex
}

// NewMemLedger creates an empty in-memory collateral ledger
func NewMemLedger() *MemLedger {
	return &MemLedger{balances: make(map[string]*big.Int)}
}

// Fund adds collateral tokens to a user's balance
func (l *MemLedger) Fund(user string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[user]
	if !ok {
		bal = big.NewInt(0)
		l.balances[user] = bal
	}
	bal.Add(bal, amount)
}

// Balance returns a copy of a user's balance
func (l *MemLedger) Balance(user string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if bal, ok := l.balances[user]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Debit removes amount from a user's balance, failing if it would go negative
func (l *MemLedger) Debit(user string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[user]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient balance for %s", ErrTransferFailed, user)
	}
	bal.Sub(bal, amount)
	return nil
}

// Credit adds amount to a user's balance
func (l *MemLedger) Credit(user string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[user]
	if !ok {
		bal = big.NewInt(0)
		l.balances[user] = bal
	}
	bal.Add(bal, amount)
	return nil
}
