package testutil

import (
	"fmt"
	"sync"
)

// SequentialNames generates partition names prefix-0001, prefix-0002, ...
//
// Unlike kv.NewPartitionName, the sequence is reproducible, so golden
// snapshots that mention partition names stay byte-identical.
//
// Thread-safety: all methods are safe for concurrent use.
type SequentialNames struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewSequentialNames returns a generator. An empty prefix means "trace".
func NewSequentialNames(prefix string) *SequentialNames {
	if prefix == "" {
		prefix = "trace"
	}
	return &SequentialNames{prefix: prefix}
}

// Next returns the next name.
func (n *SequentialNames) Next() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	return fmt.Sprintf("%s-%04d", n.prefix, n.seq)
}

// Reset restarts the sequence.
func (n *SequentialNames) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq = 0
}
