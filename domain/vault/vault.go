// Package vault moves funds between pool balances and the external
// custody ledger, hands out flash loans against pool liquidity, and
// keeps the reference-price cache used to quote fees in the fee asset.
package vault

import (
	"errors"

	"njord/domain/custody"
	"njord/domain/state"
	"njord/pkg/fixed"

	"github.com/google/uuid"
)

const (
	// maxPriceSamples caps the reference-price ring per direction.
	maxPriceSamples = 100
	// priceWindowMs is how long a sample stays usable, in millis.
	priceWindowMs = 24 * 60 * 60 * 1000
)

var (
	ErrUnauthorized          = errors.New("vault: credential rejected")
	ErrLoanOutstanding       = errors.New("vault: flash loan outstanding")
	ErrUnknownReceipt        = errors.New("vault: unknown loan receipt")
	ErrLoanMismatch          = errors.New("vault: repayment does not match loan")
	ErrInsufficientLiquidity = errors.New("vault: insufficient pool liquidity")
	ErrStalePricePoint       = errors.New("vault: reference price not newer than last sample")
	ErrInvalidPricePoint     = errors.New("vault: reference price must be positive")
)

// FlashLoan is the receipt for an uncollateralized borrow. It must be
// consumed by Repay before the enclosing operation completes.
type FlashLoan struct {
	Receipt uuid.UUID
	Asset   custody.Asset
	Amount  uint64
}

type pricePoint struct {
	rate uint64
	ts   int64
}

// priceRing keeps the most recent samples for one conversion direction,
// capped by count and trimmed by age when read.
type priceRing struct {
	samples []pricePoint
}

func (r *priceRing) add(rate uint64, ts int64) error {
	if rate == 0 || rate > fixed.MaxOperand {
		return ErrInvalidPricePoint
	}
	if n := len(r.samples); n > 0 && ts < r.samples[n-1].ts {
		return ErrStalePricePoint
	}
	r.samples = append(r.samples, pricePoint{rate: rate, ts: ts})
	if len(r.samples) > maxPriceSamples {
		r.samples = r.samples[len(r.samples)-maxPriceSamples:]
	}
	return nil
}

// conversion is the mean rate over the in-window samples, zero when the
// ring holds nothing usable.
func (r *priceRing) conversion(now int64) uint64 {
	cut := 0
	for cut < len(r.samples) && now-r.samples[cut].ts > priceWindowMs {
		cut++
	}
	r.samples = r.samples[cut:]
	if len(r.samples) == 0 {
		return 0
	}
	var sum uint64
	for _, p := range r.samples {
		sum += p.rate
	}
	return sum / uint64(len(r.samples))
}

// Vault holds one pool's funds. Balances grow when settlement pulls an
// owner's debt out of custody and shrink when proceeds are pushed back.
type Vault struct {
	balances [3]uint64
	loans    map[uuid.UUID]FlashLoan
	perBase  priceRing
	perQuote priceRing
}

func NewVault() *Vault {
	return &Vault{loans: make(map[uuid.UUID]FlashLoan)}
}

// Balance reports the pool-held amount of one asset.
func (v *Vault) Balance(asset custody.Asset) uint64 { return v.balances[asset] }

// ---- settlement ----

// Settle nets an account's deltas against custody, one asset at a time:
// owed beyond settled is pulled from the owner's custody into the pool,
// settled beyond owed is pushed back out. The credential is checked
// before any movement, and a failure on any leg unwinds the legs
// already applied so the call leaves both ledgers as it found them.
func (v *Vault) Settle(account uuid.UUID, settled, owed state.Balances, cred custody.Credential, ledger custody.Ledger, val custody.Validator) error {
	if v.Outstanding() {
		return ErrLoanOutstanding
	}
	if !val.Validate(cred, account) {
		return ErrUnauthorized
	}

	type leg struct {
		asset custody.Asset
		in    uint64 // pull from custody
		out   uint64 // push to custody
	}
	legs := [3]leg{
		{asset: custody.Base, in: settled.Base, out: owed.Base},
		{asset: custody.Quote, in: settled.Quote, out: owed.Quote},
		{asset: custody.FeeAsset, in: settled.FeeAsset, out: owed.FeeAsset},
	}
	for i := range legs {
		l := &legs[i]
		// settled is what the pool owes the owner, owed the reverse;
		// only the net difference moves
		if l.in >= l.out {
			l.in, l.out = l.in-l.out, 0
		} else {
			l.in, l.out = 0, l.out-l.in
		}
	}

	var pulled, pushed []leg
	unwind := func() {
		for _, p := range pushed {
			_ = ledger.Withdraw(account, p.asset, p.in)
			v.balances[p.asset] += p.in
		}
		for _, p := range pulled {
			_ = ledger.Deposit(account, p.asset, p.out)
			v.balances[p.asset] -= p.out
		}
	}
	for _, l := range legs {
		if l.out == 0 {
			continue
		}
		if err := ledger.Withdraw(account, l.asset, l.out); err != nil {
			unwind()
			return err
		}
		v.balances[l.asset] += l.out
		pulled = append(pulled, l)
	}
	for _, l := range legs {
		if l.in == 0 {
			continue
		}
		if v.balances[l.asset] < l.in {
			unwind()
			return ErrInsufficientLiquidity
		}
		if err := ledger.Deposit(account, l.asset, l.in); err != nil {
			unwind()
			return err
		}
		v.balances[l.asset] -= l.in
		pushed = append(pushed, l)
	}
	return nil
}

// ---- flash loans ----

// Borrow lends pool liquidity within the current operation. The receipt
// is the linear obligation: until Repay consumes it, every other
// mutating call on the pool is refused.
func (v *Vault) Borrow(asset custody.Asset, amount uint64) (FlashLoan, error) {
	if amount == 0 || amount > v.balances[asset] {
		return FlashLoan{}, ErrInsufficientLiquidity
	}
	v.balances[asset] -= amount
	fl := FlashLoan{Receipt: uuid.New(), Asset: asset, Amount: amount}
	v.loans[fl.Receipt] = fl
	return fl, nil
}

// Repay consumes a loan receipt. Asset and amount must match the loan
// exactly.
func (v *Vault) Repay(receipt uuid.UUID, asset custody.Asset, amount uint64) error {
	fl, ok := v.loans[receipt]
	if !ok {
		return ErrUnknownReceipt
	}
	if fl.Asset != asset || fl.Amount != amount {
		return ErrLoanMismatch
	}
	v.balances[asset] += amount
	delete(v.loans, receipt)
	return nil
}

// Outstanding reports whether any loan is unrepaid.
func (v *Vault) Outstanding() bool { return len(v.loans) > 0 }

// ---- reference prices ----

// AddPricePoint records an oracle fee-asset conversion rate. isBase
// selects the fee-asset-per-base ring, otherwise fee-asset-per-quote.
// Samples must arrive in timestamp order.
func (v *Vault) AddPricePoint(rate uint64, ts int64, isBase bool) error {
	if isBase {
		return v.perBase.add(rate, ts)
	}
	return v.perQuote.add(rate, ts)
}

// Conversion returns the current fee-asset rates per base and quote
// unit. A direction with no fresh samples reports zero, which callers
// treat as "conversion unavailable".
func (v *Vault) Conversion(now int64) (perBase, perQuote uint64) {
	return v.perBase.conversion(now), v.perQuote.conversion(now)
}
