package bgzf2

// job is a unit of work moving between the caller, the worker pool, and the
// dedicated I/O thread, per §3's Job entity: uncomp/comp buffers, error/EOF
// flags, the seek generation it was dispatched under, and an intrusive next
// pointer for the free list. jobNum is not assigned by any code path.
type job struct {
	uncomp *buffer
	comp   *buffer
	entry  *SeekEntry // the data entry this decode job corresponds to, nil for write-side jobs

	err       error
	hitEOF    bool
	knownSize bool
	jobNum    uint64
	gen       uint64 // seek generation this job was dispatched under; stale jobs are discarded

	// done is the order-preserving promise channel: the dispatching thread
	// hands each job a fresh done channel before submitting it to the pool,
	// then reads results off the channels in dispatch order regardless of
	// completion order (the "channel of channels" pattern, grounded in the
	// teacher's concurrent WriteMany).
	done chan struct{}

	next *job
}

// getJob pops a job off the free list (allocating if empty) and resets it,
// under the shared poolMu per §5/§9.
func (h *Handle) getJob() *job {
	h.poolMu.Lock()
	j := h.jobFree
	if j != nil {
		h.jobFree = j.next
	}
	h.jobsPending++
	h.poolMu.Unlock()

	if j == nil {
		j = &job{}
	}
	j.next = nil
	j.err = nil
	j.hitEOF = false
	j.knownSize = false
	j.entry = nil
	j.gen = 0
	j.done = make(chan struct{}, 1)
	return j
}

// putJob returns a job (and its buffers, via bufFree) to the free list.
func (h *Handle) putJob(j *job) {
	if j == nil {
		return
	}
	if j.uncomp != nil {
		h.bufFree.put(j.uncomp)
		j.uncomp = nil
	}
	if j.comp != nil {
		h.bufFree.put(j.comp)
		j.comp = nil
	}
	h.poolMu.Lock()
	j.next = h.jobFree
	h.jobFree = j
	h.jobsPending--
	h.poolMu.Unlock()
}
