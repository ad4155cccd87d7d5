package tracker

import (
	"math/big"
	"time"
)

type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

const DefaultCategory = "payment"

// Descriptor is what a caller hands to Record.
type Descriptor struct {
	Hash     string
	From     string
	To       string
	Value    *big.Int // smallest unit
	Memo     string
	GasPrice *big.Int
	Category string
}

type Record struct {
	Hash          string    `json:"hash" cbor:"hash"`
	From          string    `json:"from" cbor:"from"`
	To            string    `json:"to" cbor:"to"`
	Value         *big.Int  `json:"value" cbor:"value"`
	Memo          string    `json:"memo,omitempty" cbor:"memo,omitempty"`
	SubmittedAt   time.Time `json:"submittedAt" cbor:"submittedAt"`
	State         State     `json:"status" cbor:"status"`
	Confirmations uint64    `json:"confirmations" cbor:"confirmations"`
	GasUsed       *uint64   `json:"gasUsed,omitempty" cbor:"gasUsed,omitempty"`
	GasPrice      *big.Int  `json:"gasPrice,omitempty" cbor:"gasPrice,omitempty"`
	BlockNumber   *uint64   `json:"blockNumber,omitempty" cbor:"blockNumber,omitempty"`
	Category      string    `json:"type" cbor:"type"`
}

func (r *Record) clone() Record {
	out := *r
	if r.Value != nil {
		out.Value = new(big.Int).Set(r.Value)
	}
	if r.GasPrice != nil {
		out.GasPrice = new(big.Int).Set(r.GasPrice)
	}
	if r.GasUsed != nil {
		v := *r.GasUsed
		out.GasUsed = &v
	}
	if r.BlockNumber != nil {
		v := *r.BlockNumber
		out.BlockNumber = &v
	}
	return out
}

// Mark is a short display status: pending, failed, then by confirmation depth.
func (r Record) Mark() string {
	switch {
	case r.State == StatePending:
		return "⏳"
	case r.State == StateFailed:
		return "❌"
	case r.Confirmations < 3:
		return "🔄"
	case r.Confirmations < 12:
		return "⚡"
	default:
		return "✅"
	}
}

type Stats struct {
	Total        int
	Pending      int
	Confirmed    int
	Failed       int
	TotalValue   *big.Int // sum over confirmed records
	TotalGasUsed uint64
	SuccessRate  float64 // confirmed / total, 0 when empty
}
