package bgzf2

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// SetBlockSize flushes any buffered data, then resizes the pending buffer
// to sz, so subsequent frames target sz uncompressed bytes.
func (h *Handle) SetBlockSize(sz int) error {
	if h.mode != modeWrite {
		return newErr(KindFormat, "SetBlockSize", errors.New("handle not opened for writing"))
	}
	if sz <= 0 || sz > MaxBlockSize {
		return newErr(KindLimits, "SetBlockSize", errBlockSizeRange(sz))
	}
	if h.wbuf.pos > 0 {
		if err := h.flushOrDispatch(); err != nil {
			return err
		}
	}
	h.blockSize = sz
	h.wbuf.grow(sz)
	return nil
}

// Write appends bytes to the pending block. If canSplit is true, the data
// may be broken across frame boundaries at the configured block size; if
// false, the whole write lands in a single frame (growing the buffer if
// necessary), matching callers that must not let one logical record (e.g.
// an alignment) straddle two independently-decodable frames.
func (h *Handle) Write(p []byte, canSplit bool) (int, error) {
	if err := h.checkLatched(); err != nil {
		return 0, err
	}
	if h.mode != modeWrite {
		return 0, newErr(KindFormat, "Write", errors.New("handle not opened for writing"))
	}

	written := 0
	for len(p) > 0 {
		room := len(h.wbuf.bytes) - h.wbuf.pos
		if room <= 0 {
			if err := h.flushOrDispatch(); err != nil {
				return written, err
			}
			room = len(h.wbuf.bytes) - h.wbuf.pos
		}

		n := len(p)
		if n > room {
			if canSplit {
				n = room
			} else {
				h.wbuf.grow(h.wbuf.pos + n)
				room = n
			}
		}

		copy(h.wbuf.bytes[h.wbuf.pos:], p[:n])
		h.wbuf.pos += n
		h.wbuf.sz = h.wbuf.pos
		p = p[n:]
		written += n

		if canSplit && h.wbuf.pos >= h.blockSize {
			if err := h.flushOrDispatch(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Flush forces out whatever is buffered, even below the target block size.
func (h *Handle) Flush() error {
	if err := h.checkLatched(); err != nil {
		return err
	}
	return h.flushOrDispatch()
}

// FlushTry flushes only if appending size more bytes would overflow the
// current block (§4.2); otherwise it records the buffered position as
// last_flush_try, which IdxAdd uses to tag a frame-internal record start
// without forcing a flush. It is the non-forcing counterpart callers poll
// between writes to keep block boundaries close to a target.
func (h *Handle) FlushTry(size int) error {
	if err := h.checkLatched(); err != nil {
		return err
	}
	if h.wbuf.pos+size > h.blockSize {
		return h.flushOrDispatch()
	}
	h.lastFlushTry = h.wbuf.pos
	return nil
}

func (h *Handle) flushOrDispatch() error {
	if h.pw != nil {
		return h.pw.flush()
	}
	return h.flushLocked()
}

// flushLocked is the single-threaded writer's synchronous compress-and-emit
// path. With a pool attached it is not called; the parallel writer's
// writeJob does the same frame and index bookkeeping for pool-compressed
// jobs.
func (h *Handle) flushLocked() error {
	if !h.headerWritten {
		var preview []byte
		if h.wbuf.pos > 0 {
			n := h.wbuf.pos
			if n > headerPreviewMax {
				n = headerPreviewMax
			}
			preview = h.wbuf.bytes[:n]
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

	if h.wbuf.pos == 0 {
		return nil
	}

	data := h.wbuf.bytes[:h.wbuf.pos]
	compressed := h.enc.EncodeAll(data, nil)
	if uint64(len(compressed)) > uint64(^uint32(0)) {
		return newErr(KindLimits, "Flush", fmt.Errorf("compressed block of %d bytes exceeds uint32 range", len(compressed)))
	}

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
	h.wbuf.reset()
	h.lastFlushTry = 0
	return nil
}

// IdxAdd records that the data about to be written (or already buffered
// for the current, not-yet-flushed frame) falls within [begin, end) on the
// given reference. Consecutive calls that land in the same frame and
// reference are merged into one genomic index entry.
func (h *Handle) IdxAdd(tid int32, begin, end int64) error {
	if err := h.checkLatched(); err != nil {
		return err
	}
	if h.genIdx == nil {
		return newErr(KindNoIndex, "IdxAdd", errors.New("genomic index not enabled, see WithGenomicIndex"))
	}
	frameOffset := h.framePos + uint64(h.lastFlushTry)
	h.poolMu.Lock()
	err := h.genIdx.add(tid, begin, end, frameOffset, h.frameGen)
	h.poolMu.Unlock()
	return err
}
