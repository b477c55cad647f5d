package index

import (
	"os"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
)

// Generation is one immutable-to-readers snapshot of the index contents.
// The store holds one reference for as long as the generation is served;
// each in-flight query holds one more. When the last reference is
// released on a retired generation, the underlying Bleve index is closed
// and, if the generation was superseded rather than shut down, its
// directory removed.
type Generation struct {
	seq  uint64
	idx  bleve.Index
	path string // empty for in-memory generations

	refs      atomic.Int64
	retired   atomic.Bool
	removeDir atomic.Bool
}

func newGeneration(seq uint64, idx bleve.Index, path string) *Generation {
	g := &Generation{seq: seq, idx: idx, path: path}
	g.refs.Store(1) // the store's own reference
	return g
}

// Seq is the creation-order identifier of this generation.
func (g *Generation) Seq() uint64 {
	return g.seq
}

// Index exposes the underlying Bleve index for query execution. Callers
// must hold a reference obtained from Store.Acquire.
func (g *Generation) Index() bleve.Index {
	return g.idx
}

// DocCount returns the number of documents in this generation.
func (g *Generation) DocCount() (uint64, error) {
	return g.idx.DocCount()
}

// tryAcquire increments the refcount unless it already reached zero.
func (g *Generation) tryAcquire() bool {
	for {
		n := g.refs.Load()
		if n <= 0 {
			return false
		}
		if g.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference. The generation is destroyed when the last
// reference on a retired generation goes away; the currently served
// generation always keeps the store's reference alive.
func (g *Generation) Release() {
	if g.refs.Add(-1) == 0 {
		g.destroy()
	}
}

// retire marks the generation as no longer served and drops the store's
// reference. In-flight readers finish against it before it is destroyed.
// removeDir controls whether the on-disk directory goes away too: a
// generation superseded by a swap is garbage, but the generation retired
// by a clean store close must survive for the next open.
func (g *Generation) retire(removeDir bool) {
	g.retired.Store(true)
	g.removeDir.Store(removeDir)
	g.Release()
}

func (g *Generation) destroy() {
	_ = g.idx.Close()
	if g.path != "" && g.removeDir.Load() {
		_ = os.RemoveAll(g.path)
	}
}
