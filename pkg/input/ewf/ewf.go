package ewf

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/registry"
	"github.com/xmount-go/xmount/pkg/xerr"
)

func init() {
	registry.RegisterInput("ewf", []string{"ewf", "aewf", "e01"}, New)
}

// Default resource caps: max open segment files, max decoded-table
// bytes held, and worker count. New does not parse its options
// string, so these values always apply.
const (
	DefaultMaxOpenSegments  = 8
	DefaultTableCacheBudget = 16 << 20
	DefaultWorkers          = 1
)

// Handle is the AEWF input plug-in's opaque handle: the segment array,
// table array, worker count, and the segment/table caches built over
// them.
type Handle struct {
	volume    volumeInfo
	chunkSize int64
	totalSize int64

	segments *segmentCache
	tables   *tableStore
	workers  int
}

// New opens an EWF/AEWF evidence set, scanning and validating every
// segment's section chain. options is currently unused (reserved for
// a future "workers=4"-style override).
func New(files []string, offset, sizeLimit int64, options string) (image.Image, error) {
	scan, err := scanSegments(files)
	if err != nil {
		return nil, err
	}

	chunkSize := scan.volume.chunkSize()
	if chunkSize <= 0 {
		return nil, xerr.New(xerr.ClassIO, "ewf: invalid chunk size in volume section")
	}

	var totalChunks int64
	for _, t := range scan.tables {
		totalChunks += t.chunkCount
	}
	total := int64(scan.volume.sectorCount) * int64(scan.volume.bytesPerSector)
	if total == 0 {
		total = totalChunks * chunkSize
	}

	h := &Handle{
		volume:    scan.volume,
		chunkSize: chunkSize,
		totalSize: total,
		segments:  newSegmentCache(scan.segments, DefaultMaxOpenSegments),
		tables:    newTableStore(scan.tables, DefaultTableCacheBudget),
		workers:   DefaultWorkers,
	}

	return applyRange(h, offset, sizeLimit), nil
}

// applyRange narrows h to [offset, offset+sizeLimit) the same way
// pkg/input/raw does, without needing a distinct wrapper type since
// EWF's Size/ReadAt already take absolute logical offsets.
func applyRange(h *Handle, offset, sizeLimit int64) image.Image {
	if offset == 0 && sizeLimit == 0 {
		return h
	}
	return &rangedHandle{h: h, offset: offset, sizeLimit: sizeLimit}
}

type rangedHandle struct {
	h         *Handle
	offset    int64
	sizeLimit int64
}

func (r *rangedHandle) Size() (int64, error) {
	n := r.h.totalSize - r.offset
	if n < 0 {
		n = 0
	}
	if r.sizeLimit > 0 && n > r.sizeLimit {
		n = r.sizeLimit
	}
	return n, nil
}

func (r *rangedHandle) ReadAt(p []byte, off int64) (int, error) {
	return r.h.ReadAt(p, off+r.offset)
}

func (r *rangedHandle) Close() error { return r.h.Close() }

// Size returns the logical image size derived from the volume section.
func (h *Handle) Size() (int64, error) {
	return h.totalSize, nil
}

// Close releases every open segment file handle.
func (h *Handle) Close() error {
	h.segments.closeAll()
	return nil
}

// ReadAt decomposes the request into a loop over chunks, dispatched
// across the configured worker pool. The pool is a bounded set of
// goroutines spawned per call, each owning its own chunk/compression
// scratch buffers; admission into the shared segment/table caches
// remains serialized by their own mutexes.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, xerr.New(xerr.ClassArgument, "ewf: negative offset")
	}
	if off >= h.totalSize {
		return 0, xerr.New(xerr.ClassArgument, "ewf: read past end of image")
	}
	if int64(len(p)) > h.totalSize-off {
		p = p[:h.totalSize-off]
	}
	if len(p) == 0 {
		return 0, nil
	}

	jobs := h.splitJobs(p, off)
	if len(jobs) == 1 || h.workers <= 1 {
		w := newWorker(h.chunkSize)
		for _, j := range jobs {
			if err := h.runJob(w, j); err != nil {
				return 0, err
			}
		}
		return len(p), nil
	}

	workerCount := h.workers
	if workerCount > len(jobs) {
		workerCount = len(jobs)
	}
	ch := make(chan chunkJob)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var result *multierror.Error

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := newWorker(h.chunkSize)
			for j := range ch {
				if err := h.runJob(w, j); err != nil {
					mu.Lock()
					result = multierror.Append(result, err)
					mu.Unlock()
				}
			}
		}()
	}
	for _, j := range jobs {
		ch <- j
	}
	close(ch)
	wg.Wait()

	if result != nil {
		return 0, result.ErrorOrNil()
	}
	return len(p), nil
}

// chunkJob is one worker job record: destination slice, chunk number,
// and the offset within that chunk to start copying from.
type chunkJob struct {
	chunk    int64
	chunkOff int64
	dst      []byte
}

// splitJobs decomposes [off, off+len(p)) into one job per chunk,
// mapping each byte offset to a chunk number by floor-dividing by the
// chunk size (sectors-per-chunk × sector size).
func (h *Handle) splitJobs(p []byte, off int64) []chunkJob {
	var jobs []chunkJob
	remaining := p
	pos := off
	for len(remaining) > 0 {
		chunk := pos / h.chunkSize
		chunkOff := pos % h.chunkSize
		n := h.chunkSize - chunkOff
		if int64(len(remaining)) < n {
			n = int64(len(remaining))
		}
		jobs = append(jobs, chunkJob{chunk: chunk, chunkOff: chunkOff, dst: remaining[:n]})
		remaining = remaining[n:]
		pos += n
	}
	return jobs
}

func (h *Handle) runJob(w *worker, j chunkJob) error {
	data, err := w.readChunk(h, j.chunk)
	if err != nil {
		return err
	}
	end := j.chunkOff + int64(len(j.dst))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if j.chunkOff > int64(len(data)) {
		return xerr.New(xerr.ClassIO, "ewf: read past end of chunk data")
	}
	copy(j.dst, data[j.chunkOff:end])
	return nil
}
