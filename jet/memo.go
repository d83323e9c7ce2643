package jet

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/noxide/loam/noun"
)

// The memo cache is transactional, like everything else that runs
// under a computation frame.  Products offered during a reduction
// are only pending: they live in the reduction's frame and would be
// reclaimed by its rollback.  When the embedder commits the
// computation, pending entries are exported to the root frame and
// installed in the bounded LRU; on abort they are dropped.

// memoKey is the (formula, subject) content hash.  Structural keys
// are retained in the entries to resolve collisions.
type memoKey struct {
	formula uint32
	subject uint32
}

type memoEntry struct {
	subject noun.Noun
	formula noun.Noun
	product noun.Noun
}

// memoList chains entries whose hashes collide.
type memoList struct {
	entries []memoEntry
}

type memoCache struct {
	h       *noun.Heap
	cache   *lru.Cache[memoKey, *memoList]
	pending []memoEntry
}

func newMemoCache(h *noun.Heap, size int) *memoCache {
	m := &memoCache{h: h}
	if size > 0 {
		m.cache, _ = lru.NewWithEvict(size, func(_ memoKey, l *memoList) {
			for _, e := range l.entries {
				h.LoseSenior(e.subject)
				h.LoseSenior(e.formula)
				h.LoseSenior(e.product)
			}
		})
	}
	return m
}

func (m *memoCache) enabled() bool {
	return m != nil && m.cache != nil
}

func key(subject, formula noun.Noun) memoKey {
	return memoKey{formula: noun.Mug(formula), subject: noun.Mug(subject)}
}

// get returns an owned product for (subject, formula), if cached.
func (m *memoCache) get(subject, formula noun.Noun) (noun.Noun, bool) {
	if !m.enabled() {
		return noun.Noun{}, false
	}
	for _, e := range m.pending {
		if noun.Equal(e.formula, formula) && noun.Equal(e.subject, subject) {
			return m.h.Gain(e.product), true
		}
	}
	l, ok := m.cache.Get(key(subject, formula))
	if !ok {
		return noun.Noun{}, false
	}
	for _, e := range l.entries {
		if noun.Equal(e.formula, formula) && noun.Equal(e.subject, subject) {
			return m.h.Gain(e.product), true
		}
	}
	return noun.Noun{}, false
}

// put records a product as pending.  All nouns are borrowed; the
// cache takes its own references.
func (m *memoCache) put(subject, formula, product noun.Noun) {
	if !m.enabled() {
		return
	}
	m.pending = append(m.pending, memoEntry{
		subject: m.h.Gain(subject),
		formula: m.h.Gain(formula),
		product: m.h.Gain(product),
	})
}

// commit exports the pending entries to the root frame and installs
// them.  Must run before the computation frame rolls back.
func (m *memoCache) commit() {
	if m == nil {
		return
	}
	for _, e := range m.pending {
		m.install(e)
		m.h.Lose(e.subject)
		m.h.Lose(e.formula)
		m.h.Lose(e.product)
	}
	m.pending = m.pending[:0]
}

func (m *memoCache) install(e memoEntry) {
	k := key(e.subject, e.formula)
	if l, ok := m.cache.Get(k); ok {
		for i := range l.entries {
			if noun.Equal(l.entries[i].formula, e.formula) && noun.Equal(l.entries[i].subject, e.subject) {
				// Same computation cached twice; keep the
				// newer product.
				m.h.LoseSenior(l.entries[i].product)
				l.entries[i].product = m.h.Export(e.product)
				return
			}
		}
		l.entries = append(l.entries, memoEntry{
			subject: m.h.Export(e.subject),
			formula: m.h.Export(e.formula),
			product: m.h.Export(e.product),
		})
		return
	}
	m.cache.Add(k, &memoList{entries: []memoEntry{{
		subject: m.h.Export(e.subject),
		formula: m.h.Export(e.formula),
		product: m.h.Export(e.product),
	}}})
}

// abort drops the pending entries.
func (m *memoCache) abort() {
	if m == nil {
		return
	}
	for _, e := range m.pending {
		m.h.Lose(e.subject)
		m.h.Lose(e.formula)
		m.h.Lose(e.product)
	}
	m.pending = m.pending[:0]
}

// purge empties the cache, releasing every entry.  Teardown calls
// this before the heap's leak check.
func (m *memoCache) purge() {
	if m == nil {
		return
	}
	m.abort()
	if m.cache != nil {
		m.cache.Purge()
	}
}

// MemoGet implements nock.Dispatcher.
func (r *Registry) MemoGet(subject, formula noun.Noun) (noun.Noun, bool) {
	product, hit := r.memo.get(subject, formula)
	if hit {
		r.stats.MemoHits++
	}
	return product, hit
}

// MemoPut implements nock.Dispatcher.
func (r *Registry) MemoPut(subject, formula, product noun.Noun) {
	r.memo.put(subject, formula, product)
}

// Commit installs products cached during the computation that just
// succeeded.  Call after promoting the computation's own product but
// before rolling back its frame.
func (r *Registry) Commit() {
	r.memo.commit()
}

// Abort drops products cached during a computation that trapped.
func (r *Registry) Abort() {
	r.memo.abort()
}

// Close releases every cache entry.  Run before the heap's leak
// check at teardown.
func (r *Registry) Close() {
	r.memo.purge()
}
