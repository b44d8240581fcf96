package consensus

import (
	"sync"

	"github.com/notarius/notarius/src/types"
)

// txPool holds validated transactions awaiting a block, in arrival order.
type txPool struct {
	mu sync.Mutex

	txs   map[string]*types.Transaction //by content hash
	order []string
	limit int
}

func newTxPool(limit int) *txPool {
	return &txPool{
		txs:   make(map[string]*types.Transaction),
		order: []string{},
		limit: limit,
	}
}

func (p *txPool) Add(tx *types.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.txs[tx.ContentHash]; ok {
		return types.ErrDuplicate
	}
	if len(p.order) >= p.limit {
		return ErrPoolFull
	}

	p.txs[tx.ContentHash] = tx
	p.order = append(p.order, tx.ContentHash)

	return nil
}

func (p *txPool) Contains(contentHash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.txs[contentHash]

	return ok
}

// Batch returns up to max transactions in arrival order without removing
// them; they leave the pool only when a block commits.
func (p *txPool) Batch(max int) []types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch := []types.Transaction{}
	for _, hash := range p.order {
		if len(batch) >= max {
			break
		}
		batch = append(batch, *p.txs[hash])
	}

	return batch
}

// Remove drops a single transaction from the pool.
func (p *txPool) Remove(contentHash string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.txs[contentHash]; !ok {
		return
	}
	delete(p.txs, contentHash)

	order := p.order[:0]
	for _, hash := range p.order {
		if hash != contentHash {
			order = append(order, hash)
		}
	}
	p.order = order
}

// RemoveCommitted drops every pool transaction included in the block. Other
// validators' blocks purge our pool the same way our own do.
func (p *txPool) RemoveCommitted(block *types.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	committed := make(map[string]bool)
	for _, tx := range block.Transactions() {
		committed[tx.ContentHash] = true
	}

	order := p.order[:0]
	for _, hash := range p.order {
		if committed[hash] {
			delete(p.txs, hash)
			continue
		}
		order = append(order, hash)
	}
	p.order = order
}

func (p *txPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.order)
}
