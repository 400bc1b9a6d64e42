// Package receipt describes the outcome of a transaction and stores it.
package receipt

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/security"
	"github.com/govm-net/kernel/state"
	"github.com/govm-net/kernel/types"
)

// Outcome of a transaction
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// receiptNamespace scopes the deterministic receipt ids.
var receiptNamespace = uuid.MustParse("5b0d7a64-6f5c-4b8e-9a0e-2f1d3c4b5a69")

// TransactionReceipt is the result of executing one transaction. Failed
// transactions carry no state updates. Changes is the ordered set/delete log
// that StateUpdates was collapsed from.
type TransactionReceipt struct {
	ID           uuid.UUID             `json:"id"`
	TxHash       types.Hash            `json:"tx_hash"`
	Outcome      Outcome               `json:"outcome"`
	ErrorClass   core.ErrorClass       `json:"error_class,omitempty"`
	Error        string                `json:"error,omitempty"`
	StateUpdates *state.StateUpdates   `json:"state_updates,omitempty"`
	Changes      []state.Change        `json:"changes,omitempty"`
	Events       []core.Event          `json:"events,omitempty"`
	Trace        []security.TraceEntry `json:"trace,omitempty"`
	FeeConsumed  uint64                `json:"fee_consumed"`
	FeeBreakdown []costing.Entry       `json:"fee_breakdown,omitempty"`
	Outputs      []json.RawMessage     `json:"outputs,omitempty"`
}

// New creates a receipt whose id is derived from the transaction hash.
func New(txHash types.Hash) *TransactionReceipt {
	return &TransactionReceipt{
		ID:     uuid.NewSHA1(receiptNamespace, txHash[:]),
		TxHash: txHash,
	}
}

// Succeeded reports whether the transaction was committed.
func (r *TransactionReceipt) Succeeded() bool {
	return r.Outcome == Success
}

// Fail marks the receipt as failed and drops any state updates.
func (r *TransactionReceipt) Fail(err error) {
	r.Outcome = Failure
	r.ErrorClass = core.ClassOf(err)
	r.Error = err.Error()
	r.StateUpdates = nil
	r.Changes = nil
	r.Outputs = nil
}
