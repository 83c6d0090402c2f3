package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/govind123143/changecalculator/internal/units"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrValidation marks input rejected before anything is submitted.
	ErrValidation = errors.New("invalid input")
	// ErrReverted is recorded when a mined transaction has a failed receipt.
	ErrReverted = errors.New("transaction reverted")
)

type Action string

const (
	ActionPay      Action = "pay"
	ActionSetPrice Action = "setPrice"
	ActionWithdraw Action = "withdraw"
)

// Request is one user-initiated write. It is consumed by a single Submit call
// and never queued or retried.
type Request struct {
	Action Action
	// Amount is a display-unit decimal: the value for pay, the new price for
	// setPrice. Ignored by withdraw.
	Amount string
}

// Validate checks the request locally and returns the amount in smallest units.
func (r Request) Validate(decimals int) (*big.Int, error) {
	var (
		v   *big.Int
		err error
	)
	switch r.Action {
	case ActionPay:
		v, err = units.ParsePositive(r.Amount, decimals)
	case ActionSetPrice:
		v, err = units.ParseNonNegative(r.Amount, decimals)
	case ActionWithdraw:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrValidation, r.Action)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return v, nil
}

// SubmissionError wraps anything the wallet, transport or chain rejected,
// including on-chain authorization failures.
type SubmissionError struct {
	Action Action
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Snapshot is the consolidated read-model of the contract.
type Snapshot struct {
	ContractBalance string          `json:"contractBalance"`
	Price           string          `json:"price"`
	Owner           *common.Address `json:"owner"`
}

func emptySnapshot() Snapshot {
	return Snapshot{ContractBalance: "0", Price: "0"}
}

// IsOwner reports whether account is the reported owner, ignoring hex case.
func (s Snapshot) IsOwner(account string) bool {
	if s.Owner == nil {
		return false
	}
	return SameAddress(s.Owner.Hex(), account)
}

func SameAddress(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// Status describes the latest write. At most one of Confirmed and Err is set.
type Status struct {
	Hash       *common.Hash
	Pending    bool
	Confirming bool
	Confirmed  bool
	Err        error
}

func (s Status) MarshalJSON() ([]byte, error) {
	view := struct {
		Hash       *common.Hash `json:"hash"`
		Pending    bool         `json:"pending"`
		Confirming bool         `json:"confirming"`
		Confirmed  bool         `json:"confirmed"`
		Error      string       `json:"error,omitempty"`
	}{
		Hash:       s.Hash,
		Pending:    s.Pending,
		Confirming: s.Confirming,
		Confirmed:  s.Confirmed,
	}
	if s.Err != nil {
		view.Error = s.Err.Error()
	}
	return json.Marshal(view)
}
