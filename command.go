package bgzf2

import "sync"

// command is the small state machine §4.7/§4.8 describe for coordinating
// the caller ("main") with the dedicated reader/writer thread: a seek or
// close request travels one way, a done/fail/eof acknowledgment the other,
// all under one mutex/condition-variable pair.
type command int

const (
	cmdNone command = iota
	cmdSeek
	cmdSeekDone
	cmdSeekFail
	cmdHasEOF
	cmdHasEOFDone
	cmdClose
)

// commandState is the mutex+cond coordinator. The dedicated thread blocks
// in waitForWork() while idle (§4.8's AFTER_EOF state); the caller posts a
// command with requestSeek()/requestClose(), which block until it is
// acknowledged.
type commandState struct {
	mu   sync.Mutex
	cond *sync.Cond

	cmd    command
	seekTo uint64
	err    error

	// closed marks that a CLOSE command has been fully acknowledged, so
	// repeated Close() calls don't block forever on a thread that already
	// exited.
	closed bool
}

func newCommandState() *commandState {
	cs := &commandState{cmd: cmdNone}
	cs.cond = sync.NewCond(&cs.mu)
	return cs
}

// requestSeek posts a SEEK command carrying the target absolute offset and
// blocks until the thread acknowledges SEEK_DONE/SEEK_FAIL. On success it
// returns the relative offset (§4.6: "uncomp.pos = seek_to") that
// seekDone reported, the position within the first post-seek block the
// caller must resume from.
func (cs *commandState) requestSeek(target uint64) (uint64, error) {
	cs.mu.Lock()
	cs.cmd = cmdSeek
	cs.seekTo = target
	cs.cond.Broadcast()
	for cs.cmd == cmdSeek {
		cs.cond.Wait()
	}
	var err error
	var relOffset uint64
	if cs.cmd == cmdSeekFail {
		err = cs.err
	} else {
		relOffset = cs.seekTo
	}
	cs.cmd = cmdNone
	cs.mu.Unlock()
	return relOffset, err
}

// requestClose posts CLOSE and blocks until the thread has exited.
func (cs *commandState) requestClose() {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.cmd = cmdClose
	cs.cond.Broadcast()
	for !cs.closed {
		cs.cond.Wait()
	}
	cs.mu.Unlock()
}

// waitForWork blocks the dedicated thread (in AFTER_EOF or idle-between-
// dispatch state) until a SEEK or CLOSE command arrives, returning it.
func (cs *commandState) waitForWork() command {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for cs.cmd != cmdSeek && cs.cmd != cmdClose {
		cs.cond.Wait()
	}
	return cs.cmd
}

// peek returns the current command without blocking, for the dispatch
// loop's "check after every job" poll.
func (cs *commandState) peek() command {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.cmd
}

func (cs *commandState) seekDone(relOffset uint64) {
	cs.mu.Lock()
	cs.cmd = cmdSeekDone
	cs.seekTo = relOffset
	cs.cond.Broadcast()
	cs.mu.Unlock()
}

func (cs *commandState) seekFail(err error) {
	cs.mu.Lock()
	cs.cmd = cmdSeekFail
	cs.err = err
	cs.cond.Broadcast()
	cs.mu.Unlock()
}

// ackClose marks CLOSE as handled and wakes requestClose.
func (cs *commandState) ackClose() {
	cs.mu.Lock()
	cs.closed = true
	cs.cmd = cmdNone
	cs.cond.Broadcast()
	cs.mu.Unlock()
}
