package anchor

import (
	"context"
	"time"
)

// Ledger is the anchor ledger boundary. Both MemoryLedger and
// EthereumLedger implement this interface.
type Ledger interface {
	// Submit writes s3Key into the slot addressed by key, replacing any
	// previous value. payload is the canonical checkpoint the write commits
	// to; its digest is returned in the receipt. Every call costs a ledger
	// write, even when nothing changed.
	Submit(ctx context.Context, key [KeySize]byte, s3Key string, payload []byte) (*Receipt, error)

	// Query reads the slot addressed by key. An unwritten slot comes back
	// with an empty S3Key and a nil error.
	Query(ctx context.Context, key [KeySize]byte) (*Slot, error)

	// Ping checks that the ledger is reachable.
	Ping(ctx context.Context) error

	// Info describes the ledger connection.
	Info(ctx context.Context) (*ChainInfo, error)
}

// Slot is the raw content of one ledger slot.
type Slot struct {
	S3Key     string
	Timestamp time.Time
	Uploader  string
}

// Receipt status values.
const (
	StatusSubmitted = "submitted" // accepted by the ledger node, not yet confirmed
	StatusConfirmed = "confirmed" // included in the ledger
)

// Receipt is proof that a write was submitted, independent of finality.
type Receipt struct {
	MissionKey    string    `json:"mission_key"`
	SubmissionID  string    `json:"transaction_hash"`
	Status        string    `json:"status"`
	BlockNumber   uint64    `json:"block_number,omitempty"`
	PayloadDigest string    `json:"payload_digest,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// ChainInfo describes the ledger endpoint and the signing identity.
type ChainInfo struct {
	Connected         bool   `json:"connected"`
	Backend           string `json:"backend"`
	RPCURL            string `json:"rpc_url,omitempty"`
	ConfiguredChainID int64  `json:"configured_chain_id,omitempty"`
	NodeChainID       int64  `json:"node_chain_id,omitempty"`
	LatestBlock       uint64 `json:"latest_block,omitempty"`
	ContractAddress   string `json:"contract_address,omitempty"`
	AccountAddress    string `json:"account_address"`
}
