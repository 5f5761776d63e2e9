package bgzf2

import (
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// parallelWriter is the dedicated writer thread of §4.5: a single goroutine
// owns all actual frame I/O and index bookkeeping, fed by a bounded,
// order-preserving queue of jobs whose compression runs on the attached
// Pool. The queue of per-job done channels is the "channel of channels"
// ordering trick from the teacher's concurrent WriteMany: jobs may finish
// compressing out of order, but the writer thread drains them, and so
// writes frames, strictly in dispatch order.
type parallelWriter struct {
	h    *Handle
	pool Pool

	queue chan *job
	wg    sync.WaitGroup

	mu      sync.Mutex
	errOnce error

	flushed int // blocks written by the writer thread, for the periodic fsync
}

// attachWriterPool switches a write Handle from the synchronous single-
// threaded path to the parallel pipeline: compression for each flushed
// block runs on pool while a dedicated goroutine writes frames in order.
// queueSize bounds how many blocks may be in flight (dispatched but not
// yet written) before Write/Flush applies back-pressure.
func (h *Handle) attachWriterPool(pool Pool, queueSize int) error {
	if h.pw != nil {
		return newErr(KindFormat, "AttachThreadPool", errors.New("thread pool already attached"))
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	pw := &parallelWriter{h: h, pool: pool, queue: make(chan *job, queueSize)}
	h.pw = pw

	pw.wg.Add(1)
	go pw.run()
	return nil
}

// flush swaps out the current pending buffer for a fresh one, dispatches
// compression of the swapped-out buffer to the pool, and enqueues the job
// for the writer thread. It does not wait for compression or I/O to
// finish — callers observe back-pressure only once the queue is full.
func (pw *parallelWriter) flush() error {
	h := pw.h
	if h.wbuf.pos == 0 {
		return nil
	}

	j := h.getJob()
	j.uncomp = h.wbuf
	j.knownSize = true
	h.wbuf = h.bufFree.get(h.blockSize)
	h.lastFlushTry = 0

	if err := pw.pool.Submit(func() {
		defer close(j.done)
		data := j.uncomp.bytes[:j.uncomp.pos]
		compressed := h.enc.EncodeAll(data, nil)
		j.comp = &buffer{bytes: compressed, sz: len(compressed)}
	}); err != nil {
		h.putJob(j)
		return newErr(KindResource, "Flush", err)
	}

	pw.queue <- j
	return nil
}

// run is the dedicated writer thread: drain the queue strictly in order,
// wait for each job's compression to finish, then perform the actual
// frame write and index update (the same bookkeeping flushLocked does for
// the single-threaded path, just fed by a completed job instead of
// compressing inline).
func (pw *parallelWriter) run() {
	defer pw.wg.Done()
	h := pw.h

	for j := range pw.queue {
		<-j.done
		if err := pw.writeJob(j); err != nil {
			pw.latch(err)
		}
		h.putJob(j)
	}
}

func (pw *parallelWriter) writeJob(j *job) error {
	h := pw.h

	if !h.headerWritten {
		var preview []byte
		if j.uncomp.pos > 0 {
			n := j.uncomp.pos
			if n > headerPreviewMax {
				n = headerPreviewMax
			}
			preview = j.uncomp.bytes[:n]
		}
		hdrFrame := buildHeaderFrame(preview)
		if _, err := h.wf.Write(hdrFrame); err != nil {
			return newErr(KindIO, "Flush", err)
		}
		h.poolMu.Lock()
		h.seekIdx.append(uint32(len(hdrFrame)), 0, 0)
		h.poolMu.Unlock()
		h.headerWritten = true
	}

	data := j.uncomp.bytes[:j.uncomp.pos]
	compressed := j.comp.bytes

	preface := buildPrefaceFrame(uint32(len(compressed)))
	if _, err := h.wf.Write(preface); err != nil {
		return newErr(KindIO, "Flush", err)
	}
	if _, err := h.wf.Write(compressed); err != nil {
		return newErr(KindIO, "Flush", err)
	}

	var checksum uint32
	if h.seekIdx.hasChecksum {
		checksum = uint32(xxhash.Sum64(data))
	}

	h.poolMu.Lock()
	h.seekIdx.append(uint32(len(preface)), 0, 0)
	h.seekIdx.append(uint32(len(compressed)), uint32(len(data)), checksum)
	h.poolMu.Unlock()

	h.framePos += uint64(len(data))
	h.frameGen++

	pw.flushed++
	if pw.flushed%syncIntervalBlocks == 0 {
		if err := h.wf.Flush(); err != nil {
			return newErr(KindIO, "Flush", err)
		}
	}
	return nil
}

// syncIntervalBlocks is how often the dedicated writer thread calls the
// underlying file's Flush/fsync, balancing durability against the cost of
// a sync syscall per block.
const syncIntervalBlocks = 32

func (pw *parallelWriter) latch(err error) {
	pw.mu.Lock()
	if pw.errOnce == nil {
		pw.errOnce = err
		pw.h.writerErr.Store(err)
	}
	pw.mu.Unlock()
}

// drain flushes any remaining buffered bytes through the pipeline, closes
// the queue, waits for the writer thread to finish writing everything
// already dispatched, and returns the first error observed by either side.
func (pw *parallelWriter) drain() error {
	err := pw.flush()
	close(pw.queue)
	pw.wg.Wait()

	pw.mu.Lock()
	latched := pw.errOnce
	pw.mu.Unlock()

	if err != nil {
		return err
	}
	return latched
}
