package ledger

import (
	"context"
	"errors"
)

// AssetID identifies an asset. It is chosen by the minting caller.
type AssetID string

// AccountID identifies a holder. It is supplied by the authentication layer.
type AccountID string

var (
	// ErrAssetAlreadyExists is returned when minting an id that already has a supply record.
	ErrAssetAlreadyExists = errors.New("asset already exists")

	// ErrAssetNotFound is returned when an operation or accessor needs an asset that was never minted.
	ErrAssetNotFound = errors.New("asset does not exist")

	// ErrZeroAmount rejects mints and transfers of nothing.
	ErrZeroAmount = errors.New("amount must be non-zero")

	// ErrSameAddress rejects transfers to the caller's own account.
	ErrSameAddress = errors.New("recipient is the sender")

	// ErrSelfApproval rejects an owner naming itself as operator.
	ErrSelfApproval = errors.New("setting approval for self")

	// ErrInsufficientBalance occurs when the sender holds less than the transfer amount.
	ErrInsufficientBalance = errors.New("insufficient balance for transfer")

	// ErrOverflow occurs when an amount or the asset counter would exceed its range.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrNotFound is returned by store readers for absent keys.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates state read by an operation changed before its commit.
	ErrConflict = errors.New("concurrent modification")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAssetAlreadyExists, "AssetAlreadyExists"},
	{ErrAssetNotFound, "AssetDoesNotExist"},
	{ErrZeroAmount, "ZeroAmount"},
	{ErrSameAddress, "SameAddress"},
	{ErrSelfApproval, "SettingApprovalForSelf"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrOverflow, "Overflow"},
	{ErrConflict, "Conflict"},
	{ErrNotFound, "NotFound"},
}

// Code returns the stable tag reported to callers for a ledger error, or
// "Internal" for anything else.
func Code(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "Internal"
}

// Event names.
const (
	EventTokenMinted      = "TokenMinted"
	EventTokenTransferred = "TokenTransferred"
	EventApprovalForAll   = "ApprovalForAll"
)

// Event is a state change announced after a successful commit.
type Event interface {
	EventName() string
}

// TokenMinted is emitted by Mint.
type TokenMinted struct {
	To     AccountID `json:"to"`
	ID     AssetID   `json:"id"`
	Amount Amount    `json:"amount"`
}

func (TokenMinted) EventName() string { return EventTokenMinted }

// TokenTransferred is emitted by Transfer.
type TokenTransferred struct {
	From   AccountID `json:"from"`
	To     AccountID `json:"to"`
	ID     AssetID   `json:"id"`
	Amount Amount    `json:"amount"`
}

func (TokenTransferred) EventName() string { return EventTokenTransferred }

// ApprovalForAll is emitted by SetApprovalForAll.
type ApprovalForAll struct {
	Owner    AccountID `json:"owner"`
	Operator AccountID `json:"operator"`
	Approved bool      `json:"approved"`
}

func (ApprovalForAll) EventName() string { return EventApprovalForAll }

// Publisher delivers events to downstream systems.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
