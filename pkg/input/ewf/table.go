package ewf

import (
	"os"
	"sync"

	"github.com/xmount-go/xmount/internal/lru"
	"github.com/xmount-go/xmount/pkg/xerr"
)

// segmentCache owns the LRU of open segment file handles, capped at a
// configured maximum; opening another handle past the cap evicts the
// least-recently-used one. Admission/eviction is serialized by mu — a
// single mutex is sufficient here since eviction is rare compared to
// reads.
type segmentCache struct {
	mu       sync.Mutex
	byNumber map[int]*segmentEntry
	handles  *lru.Cache[int, *os.File]
}

func newSegmentCache(segments []segmentEntry, maxOpen int) *segmentCache {
	sc := &segmentCache{
		byNumber: make(map[int]*segmentEntry, len(segments)),
		handles:  lru.New[int, *os.File](maxOpen),
	}
	for i := range segments {
		sc.byNumber[segments[i].number] = &segments[i]
	}
	return sc
}

// open returns an open *os.File for segment number, evicting the
// least-recently-used handle if the cap would otherwise be exceeded,
// and rejects a segment whose current size is smaller than recorded
// at scan time.
func (sc *segmentCache) open(number int) (*os.File, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if f, ok := sc.handles.Get(number); ok {
		return f, nil
	}
	entry, ok := sc.byNumber[number]
	if !ok {
		return nil, xerr.New(xerr.ClassIO, "ewf: unknown segment number")
	}
	f, err := os.Open(entry.path)
	if err != nil {
		return nil, xerr.Wrap(xerr.ClassIO, err, "ewf: reopen segment")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerr.Wrap(xerr.ClassIO, err, "ewf: stat segment")
	}
	if info.Size() < entry.size {
		f.Close()
		return nil, xerr.New(xerr.ClassIO, "ewf: segment file shrank since open")
	}
	if _, evictedFile, evicted := sc.handles.Put(number, f); evicted {
		evictedFile.Close()
	}
	return f, nil
}

func (sc *segmentCache) closeAll() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.handles.Range(func(_ int, f *os.File) { f.Close() })
}

// tableCacheEntry pairs a decoded table with an approximate byte cost
// for the budget tracker.
type tableCacheEntry struct {
	table decodedTable
	bytes int
}

// tableStore owns the table array plus a byte-budgeted LRU of
// materialized (decoded) tables, evicting least-recently-used decoded
// tables until usage fits the configured budget.
type tableStore struct {
	mu     sync.Mutex
	tables []tableEntry
	cache  *lru.Cache[int, tableCacheEntry]
	budget int
	used   int
}

func newTableStore(tables []tableEntry, budgetBytes int) *tableStore {
	return &tableStore{
		tables: tables,
		cache:  lru.New[int, tableCacheEntry](0), // unbounded count; budget enforced below
		budget: budgetBytes,
	}
}

// indexForChunk returns the index of the table covering chunk, or
// false if chunk is out of range.
func (ts *tableStore) indexForChunk(chunk int64) (int, bool) {
	for i, t := range ts.tables {
		if chunk >= t.firstChunk && chunk < t.firstChunk+t.chunkCount {
			return i, true
		}
	}
	return 0, false
}

// materialize returns the decoded table at index, decoding and
// admitting it into the cache on a miss, evicting least-recently-used
// entries until the byte budget fits.
func (ts *tableStore) materialize(index int, sc *segmentCache) (decodedTable, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if e, ok := ts.cache.Get(index); ok {
		return e.table, nil
	}

	t := ts.tables[index]
	f, err := sc.open(t.segment)
	if err != nil {
		return decodedTable{}, err
	}
	buf := make([]byte, t.size)
	if _, err := f.ReadAt(buf, t.offset); err != nil {
		return decodedTable{}, xerr.Wrap(xerr.ClassIO, err, "ewf: read table section")
	}
	dt, err := decodeTable(buf)
	if err != nil {
		return decodedTable{}, err
	}

	cost := len(dt.chunks) * 8
	for ts.budget > 0 && ts.used+cost > ts.budget {
		_, evicted, ok := ts.cache.EvictLRU()
		if !ok {
			break
		}
		ts.used -= evicted.bytes
	}
	ts.cache.Put(index, tableCacheEntry{table: dt, bytes: cost})
	ts.used += cost
	return dt, nil
}
