package bgzf2

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// parallelReader is the dedicated reader thread of §4.6-§4.8: a goroutine
// walks the seekable index in order, dispatching each data frame's decode
// to pool and pushing the job onto an ordered queue; the consumer (Read)
// drains the queue, waiting on each job's done channel in queue order. A
// commandState lets the consumer
// interrupt it mid-stream with a seek, implementing the READING /
// AFTER_EOF / SHUTTING_DOWN state machine: the dispatch loop checks for a
// pending command between every dispatch, and blocks on it once the index
// is exhausted instead of exiting.
type parallelReader struct {
	h    *Handle
	pool Pool
	cmd  *commandState

	queue chan *job

	genMu sync.Mutex
	gen   uint64

	wg sync.WaitGroup

	mu      sync.Mutex
	errOnce error

	cur    *job
	curOff int

	seekTarget uint64 // next seek's destination, set by seek() under mu before posting SEEK

	// pendingOff is the relative offset (§4.6) that SEEK_DONE reported for
	// the block the seek landed in; read() applies it as curOff for the
	// first data job consumed after a seek, then clears it.
	pendingOff    int
	hasPendingOff bool
}

// attachReaderPool switches a read Handle onto the parallel decode
// pipeline.
func (h *Handle) attachReaderPool(pool Pool, queueSize int) error {
	if h.pr != nil {
		return newErr(KindFormat, "AttachThreadPool", errors.New("thread pool already attached"))
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	pr := &parallelReader{h: h, pool: pool, cmd: newCommandState(), queue: make(chan *job, queueSize)}
	h.pr = pr

	pr.wg.Add(1)
	go pr.run(h.seekIdx.firstDataEntry())
	return nil
}

func (pr *parallelReader) currentGen() uint64 {
	pr.genMu.Lock()
	defer pr.genMu.Unlock()
	return pr.gen
}

// run is the dedicated reader thread's dispatch loop: READING while
// nextEntry != nil, then AFTER_EOF once the index is exhausted, until a
// SEEK or CLOSE command arrives.
func (pr *parallelReader) run(start *SeekEntry) {
	defer pr.wg.Done()
	h := pr.h
	next := start
	myGen := pr.currentGen()

	for {
		if cmd := pr.cmd.peek(); cmd == cmdSeek || cmd == cmdClose {
			if !pr.handleCommand(cmd, &next, &myGen) {
				return
			}
			continue
		}

		if next == nil {
			j := h.getJob()
			j.hitEOF = true
			j.gen = myGen
			close(j.done)
			pr.queue <- j

			cmd := pr.cmd.waitForWork()
			if !pr.handleCommand(cmd, &next, &myGen) {
				return
			}
			continue
		}

		entry := next
		j := h.getJob()
		j.entry = entry
		j.gen = myGen
		if err := pr.pool.Submit(func() {
			defer close(j.done)
			comp := make([]byte, entry.CompSize)
			if _, err := h.rf.ReadAt(comp, int64(entry.CompPos)); err != nil {
				j.err = newErr(KindIO, "Read", err)
				return
			}
			out, err := h.dec.DecodeAll(comp, make([]byte, 0, entry.UncompSize))
			if err != nil {
				j.err = newErr(KindCodec, "Read", err)
				return
			}
			if h.seekIdx.hasChecksum && entry.Checksum != 0 {
				if got := uint32(xxhash.Sum64(out)); got != entry.Checksum {
					j.err = newErr(KindFormat, "Read", fmt.Errorf("block checksum mismatch: got %#x, want %#x", got, entry.Checksum))
					return
				}
			}
			j.uncomp = &buffer{bytes: out, sz: len(out)}
		}); err != nil {
			h.putJob(j)
			pr.latch(newErr(KindResource, "Read", err))
			return
		}
		pr.queue <- j
		next = h.seekIdx.nextDataEntry(entry)
	}
}

// handleCommand processes a pending SEEK or CLOSE, updating next/myGen in
// place. It returns false when the dispatch loop should exit.
func (pr *parallelReader) handleCommand(cmd command, next **SeekEntry, myGen *uint64) bool {
	h := pr.h
	switch cmd {
	case cmdClose:
		pr.cmd.ackClose()
		return false
	case cmdSeek:
		pr.genMu.Lock()
		pr.gen++
		*myGen = pr.gen
		pr.genMu.Unlock()
		pr.drainQueue()

		pr.mu.Lock()
		target := pr.seekTarget
		pr.mu.Unlock()

		entry, err := h.seekIdx.queryByUncompOffset(target)
		if err != nil {
			pr.cmd.seekFail(err)
			*next = nil
			return true
		}
		*next = entry
		pr.cmd.seekDone(target - entry.UncompPos)
		return true
	}
	return true
}

func (pr *parallelReader) drainQueue() {
	h := pr.h
	for {
		select {
		case j := <-pr.queue:
			<-j.done
			h.putJob(j)
		default:
			return
		}
	}
}

func (pr *parallelReader) latch(err error) {
	pr.mu.Lock()
	if pr.errOnce == nil {
		pr.errOnce = err
		pr.h.writerErr.Store(err)
	}
	pr.mu.Unlock()
}

// read pulls decoded bytes from the ordered job queue, discarding any
// stale (pre-seek) jobs, and copies into p.
func (pr *parallelReader) read(p []byte) (int, error) {
	h := pr.h
	total := 0
	for total < len(p) {
		if pr.cur != nil && pr.cur.hitEOF {
			// The EOF sentinel stays current until the next seek, so every
			// read past the end keeps reporting io.EOF.
			if total > 0 {
				return total, nil
			}
			return 0, io.EOF
		}
		if pr.cur == nil || pr.curOff >= pr.cur.uncomp.sz {
			j, err := pr.nextJob()
			if err != nil {
				return total, err
			}
			if j.hitEOF {
				pr.cur = j
				continue
			}
			if j.err != nil {
				err := j.err
				h.putJob(j)
				return total, err
			}
			pr.cur = j
			pr.mu.Lock()
			if pr.hasPendingOff {
				pr.curOff = pr.pendingOff
				pr.hasPendingOff = false
			} else {
				pr.curOff = 0
			}
			pr.mu.Unlock()
		}
		n := copy(p[total:], pr.cur.uncomp.bytes[pr.curOff:pr.cur.uncomp.sz])
		pr.curOff += n
		total += n
		h.offset += uint64(n)
		if pr.curOff >= pr.cur.uncomp.sz {
			h.putJob(pr.cur)
			pr.cur = nil
		}
	}
	return total, nil
}

func (pr *parallelReader) nextJob() (*job, error) {
	myGen := pr.currentGen()
	for {
		j := <-pr.queue
		<-j.done
		if j.gen != myGen {
			pr.h.putJob(j)
			continue
		}
		return j, nil
	}
}

func (pr *parallelReader) seek(target uint64) error {
	pr.mu.Lock()
	pr.seekTarget = target
	pr.mu.Unlock()
	if pr.cur != nil {
		pr.h.putJob(pr.cur)
		pr.cur = nil
	}
	pr.h.offset = target
	relOff, err := pr.cmd.requestSeek(target)
	if err != nil {
		return err
	}
	pr.mu.Lock()
	pr.pendingOff = int(relOff)
	pr.hasPendingOff = true
	pr.mu.Unlock()
	return nil
}

func (pr *parallelReader) close() {
	pr.cmd.requestClose()
	pr.wg.Wait()
	pr.drainQueue()
}
