package chainclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// nonceSyncInterval is how long a locally tracked nonce is trusted before
// it is compared with the node again
const nonceSyncInterval = 5 * time.Minute

// TransactionStatus represents the status of a tracked transaction
type TransactionStatus int

const (
	TxPending TransactionStatus = iota
	TxConfirmed
	TxFailed
)

// TransactionRecord tracks details about a transaction
type TransactionRecord struct {
	Hash      common.Hash
	Nonce     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    TransactionStatus
}

// NonceSource returns the next nonce the node would accept for an account
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager allocates nonces for one account on one chain so that
// concurrent submissions never reuse a nonce
type NonceManager struct {
	chainID uint64
	source  NonceSource
	address common.Address
	now     func() time.Time

	mu       sync.Mutex
	current  uint64
	lastSync time.Time
	pending  map[uint64]*TransactionRecord
	byHash   map[common.Hash]uint64
}

// NewNonceManager creates a nonce manager for address
func NewNonceManager(chainID uint64, source NonceSource, address common.Address) *NonceManager {
	return &NonceManager{
		chainID: chainID,
		source:  source,
		address: address,
		now:     time.Now,
		pending: make(map[uint64]*TransactionRecord),
		byHash:  make(map[common.Hash]uint64),
	}
}

// Next reserves and returns the next nonce
func (nm *NonceManager) Next(ctx context.Context) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if nm.lastSync.IsZero() || nm.now().Sub(nm.lastSync) > nonceSyncInterval {
		if err := nm.syncLocked(ctx); err != nil {
			return 0, err
		}
	}

	nonce := nm.current
	nm.current++
	return nonce, nil
}

// Sync compares the local counter with the node and moves it forward if behind
func (nm *NonceManager) Sync(ctx context.Context) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.syncLocked(ctx)
}

func (nm *NonceManager) syncLocked(ctx context.Context) error {
	nonce, err := nm.source.PendingNonceAt(ctx, nm.address)
	if err != nil {
		return fmt.Errorf("failed to get pending nonce: %w", err)
	}
	if nonce > nm.current {
		nm.current = nonce
	}
	nm.lastSync = nm.now()
	return nil
}

// Track records a sent transaction under its nonce
func (nm *NonceManager) Track(hash common.Hash, nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	now := nm.now()
	nm.pending[nonce] = &TransactionRecord{
		Hash:      hash,
		Nonce:     nonce,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    TxPending,
	}
	nm.byHash[hash] = nonce
}

// Confirmed releases the nonce of a mined transaction
func (nm *NonceManager) Confirmed(hash common.Hash) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nonce, ok := nm.byHash[hash]
	if !ok {
		return false
	}
	delete(nm.byHash, hash)
	delete(nm.pending, nonce)
	return true
}

// Failed releases a nonce whose transaction never made it to the chain.
// The nonce is handed out again when nothing above it is in flight.
func (nm *NonceManager) Failed(nonce uint64) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if rec, ok := nm.pending[nonce]; ok {
		delete(nm.byHash, rec.Hash)
		delete(nm.pending, nonce)
	}
	if nonce+1 != nm.current {
		return false
	}
	for n := range nm.pending {
		if n > nonce {
			return false
		}
	}
	nm.current = nonce
	return true
}

// PendingCount returns the number of sent transactions not yet mined
func (nm *NonceManager) PendingCount() int {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return len(nm.pending)
}
