package node

import (
	"sync"
	"time"

	"github.com/meridianlabs/ledgerchain/foundation/blockchain/gossip"
)

// pendingMessage is one outbound send awaiting retry after a transport
// failure.
type pendingMessage struct {
	peerID   string
	env      gossip.Envelope
	attempts int
	nextAt   time.Time
}

// pendingTable is the bounded retry table from §4.7/§5: keyed by
// message id, overflow drops the oldest pending message.
type pendingTable struct {
	mu      sync.Mutex
	maxSize int
	order   []string
	byID    map[string]pendingMessage
}

func newPendingTable(maxSize int) *pendingTable {
	return &pendingTable{
		maxSize: maxSize,
		byID:    make(map[string]pendingMessage),
	}
}

// add inserts or replaces pm, evicting the oldest entry if the table
// is full.
func (p *pendingTable) add(pm pendingMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := pm.env.MsgID

	if _, exists := p.byID[id]; !exists {
		if len(p.order) >= p.maxSize {
			oldest := p.order[0]
			p.order = p.order[1:]
			delete(p.byID, oldest)
		}
		p.order = append(p.order, id)
	}

	p.byID[id] = pm
}

// due removes and returns every pending message whose retry time has
// arrived and whose attempt count is still within maxRetries.
func (p *pendingTable) due(maxRetries int) []pendingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var due []pendingMessage
	var remaining []string

	for _, id := range p.order {
		pm, ok := p.byID[id]
		if !ok {
			continue
		}

		if pm.attempts > maxRetries {
			delete(p.byID, id)
			continue
		}

		if now.Before(pm.nextAt) {
			remaining = append(remaining, id)
			continue
		}

		due = append(due, pm)
		delete(p.byID, id)
	}

	p.order = remaining

	return due
}
