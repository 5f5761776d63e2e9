package bgzf2

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// loadFrame decodes the data frame named by entry into h.rbuf, consulting
// the single-frame cache first (§9: "a one-entry frame cache avoids
// redecoding the same block for back-to-back small reads").
func (h *Handle) loadFrame(entry *SeekEntry) error {
	if cached, ok := h.frameCache.get(entry.UncompPos); ok {
		h.rbuf = h.bufFree.get(len(cached))
		h.rbuf.grow(len(cached))
		copy(h.rbuf.bytes, cached)
		h.rbuf.sz = len(cached)
		h.rbuf.pos = 0
		h.curEntry = entry
		return nil
	}

	comp := make([]byte, entry.CompSize)
	if _, err := h.rf.ReadAt(comp, int64(entry.CompPos)); err != nil {
		return newErr(KindIO, "Read", err)
	}

	out, err := h.dec.DecodeAll(comp, make([]byte, 0, entry.UncompSize))
	if err != nil {
		return newErr(KindCodec, "Read", err)
	}
	if uint32(len(out)) != entry.UncompSize {
		return newErr(KindFormat, "Read", fmt.Errorf("decoded %d bytes, index declares %d", len(out), entry.UncompSize))
	}
	if h.seekIdx.hasChecksum && entry.Checksum != 0 {
		if got := uint32(xxhash.Sum64(out)); got != entry.Checksum {
			return newErr(KindFormat, "Read", fmt.Errorf("block checksum mismatch: got %#x, want %#x", got, entry.Checksum))
		}
	}

	h.rbuf = h.bufFree.get(len(out))
	h.rbuf.grow(len(out))
	copy(h.rbuf.bytes, out)
	h.rbuf.sz = len(out)
	h.rbuf.pos = 0
	h.curEntry = entry
	h.frameCache.replace(entry.UncompPos, out)
	return nil
}

// ensureLoaded makes sure h.rbuf holds the frame covering the current
// h.offset, loading a new one (via the index) if the cursor has walked
// past the end of the currently-loaded frame.
func (h *Handle) ensureLoaded() error {
	if h.offset >= h.endOffset {
		return io.EOF
	}
	if h.curEntry != nil && h.offset >= h.curEntry.UncompPos && h.offset < h.curEntry.UncompPos+uint64(h.curEntry.UncompSize) {
		h.rbuf.pos = int(h.offset - h.curEntry.UncompPos)
		return nil
	}
	entry, err := h.seekIdx.queryByUncompOffset(h.offset)
	if err != nil {
		return err
	}
	if err := h.loadFrame(entry); err != nil {
		return err
	}
	h.rbuf.pos = int(h.offset - entry.UncompPos)
	return nil
}

// Read implements io.Reader semantics over the decompressed stream,
// dispatching to the parallel decode pipeline when one is attached.
func (h *Handle) Read(p []byte) (int, error) {
	if err := h.checkLatched(); err != nil {
		return 0, err
	}
	if h.mode != modeRead {
		return 0, newErr(KindFormat, "Read", errors.New("handle not opened for reading"))
	}
	if h.pr != nil {
		return h.pr.read(p)
	}

	total := 0
	for total < len(p) {
		if err := h.ensureLoaded(); err != nil {
			if err == io.EOF && total > 0 {
				return total, nil
			}
			return total, err
		}
		n := copy(p[total:], h.rbuf.bytes[h.rbuf.pos:h.rbuf.sz])
		h.rbuf.pos += n
		h.offset += uint64(n)
		total += n
	}
	return total, nil
}

// ReadZeroCopy returns a slice directly into the currently-loaded frame's
// buffer (valid only until the next Read/Seek invalidates it), avoiding a
// copy for callers that can consume in place.
func (h *Handle) ReadZeroCopy() ([]byte, error) {
	if err := h.checkLatched(); err != nil {
		return nil, err
	}
	if err := h.ensureLoaded(); err != nil {
		return nil, err
	}
	b := h.rbuf.bytes[h.rbuf.pos:h.rbuf.sz]
	h.rbuf.pos = h.rbuf.sz
	h.offset += uint64(len(b))
	return b, nil
}

// Peek returns the next n bytes without advancing the cursor. n must fit
// within the remaining bytes of the currently-loaded frame.
func (h *Handle) Peek(n int) ([]byte, error) {
	if err := h.checkLatched(); err != nil {
		return nil, err
	}
	if err := h.ensureLoaded(); err != nil {
		return nil, err
	}
	avail := h.rbuf.remaining()
	if n > avail {
		n = avail
	}
	return h.rbuf.bytes[h.rbuf.pos : h.rbuf.pos+n], nil
}

// GetLine reads up to and including the next '\n', or to EOF.
func (h *Handle) GetLine() ([]byte, error) {
	if err := h.checkLatched(); err != nil {
		return nil, err
	}
	var line []byte
	for {
		if err := h.ensureLoaded(); err != nil {
			if err == io.EOF && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		chunk := h.rbuf.bytes[h.rbuf.pos:h.rbuf.sz]
		if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
			line = append(line, chunk[:i+1]...)
			h.rbuf.pos += i + 1
			h.offset += uint64(i + 1)
			return line, nil
		}
		line = append(line, chunk...)
		h.offset += uint64(len(chunk))
		h.rbuf.pos = h.rbuf.sz
	}
}

// ReadAt decodes len(p) bytes starting at the given uncompressed offset
// without disturbing the sequential cursor, looping across frame
// boundaries as needed, for random single-shot access.
func (h *Handle) ReadAt(p []byte, off uint64) (int, error) {
	if err := h.checkLatched(); err != nil {
		return 0, err
	}

	saved, savedOff := h.rbuf, h.offset
	savedEntry := h.curEntry
	defer func() { h.rbuf, h.offset, h.curEntry = saved, savedOff, savedEntry }()

	h.offset = off
	h.curEntry = nil

	total := 0
	for total < len(p) {
		if err := h.ensureLoaded(); err != nil {
			if err == io.EOF {
				break
			}
			return total, err
		}
		n := copy(p[total:], h.rbuf.bytes[h.rbuf.pos:h.rbuf.sz])
		h.rbuf.pos += n
		h.offset += uint64(n)
		total += n
	}
	return total, nil
}

// Seek repositions the sequential cursor to an uncompressed byte offset,
// per §4.3/§4.6: whence semantics match io.Seeker, with SeekEnd requiring
// the total length already known from the loaded seekable index.
func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	if err := h.checkLatched(); err != nil {
		return 0, err
	}
	if h.mode != modeRead {
		return 0, newErr(KindFormat, "Seek", errors.New("handle not opened for reading"))
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = int64(h.offset) + offset
	case io.SeekEnd:
		target = int64(h.endOffset) + offset
	default:
		return 0, newErr(KindFormat, "Seek", fmt.Errorf("invalid whence %d", whence))
	}
	if target < 0 || uint64(target) > h.endOffset {
		return 0, newErr(KindRange, "Seek", fmt.Errorf("offset %d out of range [0, %d]", target, h.endOffset))
	}

	if h.pr != nil {
		if err := h.pr.seek(uint64(target)); err != nil {
			return 0, err
		}
		return target, nil
	}

	h.offset = uint64(target)
	h.curEntry = nil
	return target, nil
}

// LoadSeekableIndex re-parses and replaces the in-memory index, for callers
// that reopened a file whose trailing index was appended after this Handle
// was created (e.g. a producer still writing concurrently).
func (h *Handle) LoadSeekableIndex() error {
	if h.mode != modeRead {
		return newErr(KindFormat, "LoadSeekableIndex", errors.New("handle not opened for reading"))
	}
	rs := &readSeekerAt{rf: h.rf}
	idx, indexOffset, err := loadSeekableIndex(rs)
	if err != nil {
		return err
	}
	h.seekIdx = idx
	h.seekableOff = indexOffset
	h.endOffset = idx.totalUncompressed()
	h.frameCache.invalidate()

	genIdx, err := loadGenomicIndex(rs, indexOffset)
	if err == nil {
		h.genIdx = genIdx
	}
	return nil
}

// Query resolves a (reference, range) to the uncompressed stream offset a
// caller should Seek to in order to start reading records that might
// overlap [begin, end), per §4.4.
func (h *Handle) Query(tid int32, begin, end int64) (uint64, error) {
	if h.genIdx == nil {
		return NoFrameOffset, newErr(KindNoIndex, "Query", errors.New("no genomic index loaded"))
	}
	return h.genIdx.query(tid, begin, end)
}
