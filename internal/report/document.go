package report

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

// Document is the serialised form of a run shared by the archive, the audit
// log and the event channel.
type Document struct {
	ID           string        `json:"id"`
	Event        string        `json:"event"`
	Kind         string        `json:"kind"`
	Outcome      string        `json:"outcome"`
	FailedStep   string        `json:"failed_step,omitempty"`
	Error        string        `json:"error,omitempty"`
	Amount       string        `json:"amount"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	DurationMS   int64         `json:"duration_ms"`
	Transactions []Transaction `json:"transactions"`
}

// Transaction is one step's on-chain result.
type Transaction struct {
	Method      string `json:"method"`
	Contract    string `json:"contract"`
	TxHash      string `json:"tx_hash,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// NewDocument converts run.
func NewDocument(run domain.PipelineRun) Document {
	d := Document{
		ID:           run.ID,
		Event:        EventName(run),
		Kind:         string(run.Kind),
		Outcome:      string(run.Outcome),
		FailedStep:   string(run.FailedStep),
		Error:        run.Error,
		Amount:       run.AmountString(),
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		DurationMS:   run.Duration().Milliseconds(),
		Transactions: make([]Transaction, 0, len(run.Transactions)),
	}
	for _, tx := range run.Transactions {
		t := Transaction{
			Method:      tx.Method,
			Contract:    tx.Contract.Hex(),
			BlockNumber: tx.BlockNumber,
			GasUsed:     tx.GasUsed,
			Status:      string(tx.Status),
			Reason:      tx.Reason,
		}
		if tx.TxHash != (common.Hash{}) {
			t.TxHash = tx.TxHash.Hex()
		}
		d.Transactions = append(d.Transactions, t)
	}
	return d
}

// Detail flattens the document for the audit log's JSONB column.
func (d Document) Detail() map[string]any {
	raw, err := json.Marshal(d)
	if err != nil {
		return map[string]any{"id": d.ID}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"id": d.ID}
	}
	return m
}
