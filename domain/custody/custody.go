// Package custody defines the collaborators the settlement layer calls
// into: an external asset ledger and a delegated-credential validator.
// The engine never holds user funds directly; every movement between a
// pool and an owner goes through a Ledger implementation.
package custody

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("custody: insufficient funds")
	ErrUnauthorized      = errors.New("custody: credential rejected")
	ErrUnknownAccount    = errors.New("custody: unknown account")
)

// Asset identifies one leg of a trading pair's balance triple.
type Asset uint8

const (
	Base Asset = iota
	Quote
	FeeAsset
)

func (a Asset) String() string {
	switch a {
	case Base:
		return "base"
	case Quote:
		return "quote"
	case FeeAsset:
		return "fee_asset"
	}
	return "unknown"
}

// Ledger is the external account store. Withdraw pulls funds out of an
// owner's custody into the caller's hands; Deposit returns them.
type Ledger interface {
	Deposit(account uuid.UUID, asset Asset, amount uint64) error
	Withdraw(account uuid.UUID, asset Asset, amount uint64) error
	Balance(account uuid.UUID, asset Asset) (uint64, error)
}

// Credential is a possession-based token proving the right to settle
// against an account. Owner-direct callers present their own account ID
// with the token they were issued; delegated traders present a token
// minted for them by the owner.
type Credential struct {
	Account uuid.UUID
	Token   uuid.UUID
}

// Validator checks a credential against the account it claims to act
// for. Implementations decide what a token means; the engine only asks
// yes or no.
type Validator interface {
	Validate(c Credential, account uuid.UUID) bool
}

// OwnerValidator accepts any credential whose Account matches the
// target account. Suitable for deployments without delegation.
type OwnerValidator struct{}

func (OwnerValidator) Validate(c Credential, account uuid.UUID) bool {
	return c.Account == account
}
