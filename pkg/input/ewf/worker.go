package ewf

import "github.com/xmount-go/xmount/pkg/xerr"

// worker owns one set of chunk/compression scratch buffers and a
// single-entry chunk cache: a hit occurs when the requested chunk
// number matches the one buffer currently holds.
type worker struct {
	scratch      []byte // compressed-size scratch, grown on demand
	uncompressed []byte // uncompressed cluster-size scratch

	lastChunk int64
	lastValid bool
}

func newWorker(chunkSize int64) *worker {
	return &worker{
		scratch:      make([]byte, chunkSize),
		uncompressed: make([]byte, chunkSize),
		lastChunk:    -1,
	}
}

// readChunk returns chunk's decompressed bytes, satisfying the
// worker's own one-entry cache on a repeat request before falling
// through to the table/segment caches and a fresh decompress.
func (w *worker) readChunk(h *Handle, chunk int64) ([]byte, error) {
	if w.lastValid && w.lastChunk == chunk {
		return w.uncompressed, nil
	}

	index, ok := h.tables.indexForChunk(chunk)
	if !ok {
		return nil, xerr.New(xerr.ClassArgument, "ewf: chunk number out of range")
	}
	t := h.tables.tables[index]
	dt, err := h.tables.materialize(index, h.segments)
	if err != nil {
		return nil, err
	}
	localIndex := int(chunk - t.firstChunk)
	if localIndex < 0 || localIndex >= len(dt.chunks) {
		return nil, xerr.New(xerr.ClassIO, "ewf: chunk index out of table range")
	}

	data, err := readChunk(h.segments, t, dt, localIndex, h.chunkSize, w.scratch, w.uncompressed)
	if err != nil {
		w.lastValid = false
		return nil, err
	}
	w.lastChunk = chunk
	w.lastValid = true
	return data, nil
}
