package bgzf2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"go.uber.org/zap/zapcore"
)

const (
	genomicFooterSize    = 8 // size_back:u32le + magic:u32le
	genomicRefHeaderSize = 5 // flag:u8 + frame_count:u32le
	genomicEntryOnDisk   = 20
)

// NoFrameOffset is the sentinel §4.4's query() returns (wrapped in a Range
// error) when no reference at or after tid carries any entries.
const NoFrameOffset = ^uint64(0)

// GenomicEntry is §3's genomic index entry: a (reference, range) tuple
// naming the uncompressed offset of the data frame that contains it.
type GenomicEntry struct {
	TID         uint32 // shifted: caller's -1 "unmapped" is stored as 0
	Begin       int64
	End         int64
	FrameOffset uint64
}

func (e *GenomicEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("tid", e.TID)
	enc.AddInt64("begin", e.Begin)
	enc.AddInt64("end", e.End)
	enc.AddUint64("frameOffset", e.FrameOffset)
	return nil
}

type genomicRef struct {
	tid     uint32
	entries []*GenomicEntry
}

// genomicIndex is §4.4's Genomic Index component: per-reference ordered
// lists of ranges, built incrementally by idx_add and queried by (tid,
// begin, end).
type genomicIndex struct {
	refs   []*genomicRef
	byTID  map[uint32]*genomicRef
	lastE  *GenomicEntry
	lastAt int64 // frame generation lastE was added at, -1 if none
}

func newGenomicIndex() *genomicIndex {
	return &genomicIndex{byTID: make(map[uint32]*genomicRef), lastAt: -1}
}

func (g *genomicIndex) empty() bool { return len(g.refs) == 0 }

// shiftTID maps the caller's tid (which may be -1 for "unmapped") onto the
// stored representation where 0 means unmapped, per §4.2's idx_add.
func shiftTID(tid int32) (uint32, error) {
	if tid < -1 {
		return 0, fmt.Errorf("tid must be >= -1, got %d", tid)
	}
	return uint32(tid + 1), nil
}

// add implements idx_add: same frame generation + same reference expands
// the previous entry's range; otherwise a new entry is appended.
func (g *genomicIndex) add(tid int32, begin, end int64, frameOffset uint64, frameGen int64) error {
	if begin > math.MaxInt32 || end > math.MaxInt32 || begin < math.MinInt32 || end < math.MinInt32 {
		return newErr(KindLimits, "idx_add", fmt.Errorf("begin/end %d/%d exceed 32-bit on-disk range", begin, end))
	}
	storedTID, err := shiftTID(tid)
	if err != nil {
		return newErr(KindFormat, "idx_add", err)
	}

	if g.lastE != nil && g.lastAt == frameGen && g.lastE.TID == storedTID {
		if begin < g.lastE.Begin {
			g.lastE.Begin = begin
		}
		if end > g.lastE.End {
			g.lastE.End = end
		}
		return nil
	}

	ref, ok := g.byTID[storedTID]
	if !ok {
		ref = &genomicRef{tid: storedTID}
		g.byTID[storedTID] = ref
		g.refs = append(g.refs, ref)
	}
	e := &GenomicEntry{TID: storedTID, Begin: begin, End: end, FrameOffset: frameOffset}
	ref.entries = append(ref.entries, e)
	g.lastE = e
	g.lastAt = frameGen
	return nil
}

// query implements §4.4's query: first entry on tid whose End >= begin; if
// none on that reference, the first entry on any subsequent (by stored
// tid, ascending) reference that has entries at all.
func (g *genomicIndex) query(tid int32, begin, end int64) (uint64, error) {
	storedTID, err := shiftTID(tid)
	if err != nil {
		return NoFrameOffset, newErr(KindFormat, "query", err)
	}

	sorted := append([]*genomicRef(nil), g.refs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].tid < sorted[j].tid })

	for _, ref := range sorted {
		if ref.tid < storedTID {
			continue
		}
		if ref.tid == storedTID {
			for _, e := range ref.entries {
				if e.End >= begin {
					return e.FrameOffset, nil
				}
			}
			continue // exhausted this reference with no match; fall through to later ones
		}
		// ref.tid > storedTID: first reference at/after tid with any entries.
		if len(ref.entries) > 0 {
			return ref.entries[0].FrameOffset, nil
		}
	}
	return NoFrameOffset, newErr(KindRange, "query", errors.New("no entries at or past requested reference"))
}

// marshalFrame serializes the genomic index as a skippable frame sharing
// magicHeaderOrGenomic. The last 8 bytes of its payload are the back-pointer
// footer: the whole frame's size followed by magicGenomicFooter.
func (g *genomicIndex) marshalFrame() []byte {
	sorted := append([]*genomicRef(nil), g.refs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].tid < sorted[j].tid })

	size := 1 + 4 // flag + nchr
	for _, ref := range sorted {
		size += genomicRefHeaderSize + len(ref.entries)*genomicEntryOnDisk
	}
	payload := make([]byte, size+genomicFooterSize)
	payload[0] = 0 // reserved flag
	binary.LittleEndian.PutUint32(payload[1:5], uint32(len(sorted)))

	off := 5
	for _, ref := range sorted {
		payload[off] = 0 // reserved flag
		binary.LittleEndian.PutUint32(payload[off+1:off+5], uint32(len(ref.entries)))
		off += genomicRefHeaderSize
		for _, e := range ref.entries {
			binary.LittleEndian.PutUint32(payload[off:off+4], e.TID)
			binary.LittleEndian.PutUint32(payload[off+4:off+8], uint32(int32(e.Begin)))
			binary.LittleEndian.PutUint32(payload[off+8:off+12], uint32(int32(e.End)))
			binary.LittleEndian.PutUint64(payload[off+12:off+20], e.FrameOffset)
			off += genomicEntryOnDisk
		}
	}

	binary.LittleEndian.PutUint32(payload[size:size+4], uint32(frameHeaderSize+len(payload)))
	binary.LittleEndian.PutUint32(payload[size+4:size+8], magicGenomicFooter)
	return buildSkippableFrame(magicHeaderOrGenomic, payload)
}

// loadGenomicIndex parses the genomic index frame that ends immediately
// before seekableIndexOffset, the file offset of the seekable index frame.
// Returns nil, nil if the preceding 8 bytes don't carry the genomic footer
// magic (no genomic index was written).
func loadGenomicIndex(rs io.ReadSeeker, seekableIndexOffset int64) (*genomicIndex, error) {
	if seekableIndexOffset < genomicFooterSize {
		return nil, nil
	}
	footer := make([]byte, genomicFooterSize)
	if _, err := rs.Seek(seekableIndexOffset-genomicFooterSize, io.SeekStart); err != nil {
		return nil, newErr(KindIO, "loadGenomicIndex", err)
	}
	if _, err := io.ReadFull(rs, footer); err != nil {
		return nil, newErr(KindIO, "loadGenomicIndex", err)
	}
	magic := binary.LittleEndian.Uint32(footer[4:8])
	if magic != magicGenomicFooter {
		return nil, nil // no genomic index present
	}
	frameSize := int64(binary.LittleEndian.Uint32(footer[0:4]))
	frameStart := seekableIndexOffset - frameSize

	if _, err := rs.Seek(frameStart, io.SeekStart); err != nil {
		return nil, newErr(KindIO, "loadGenomicIndex", err)
	}
	raw := make([]byte, frameSize)
	if _, err := io.ReadFull(rs, raw); err != nil {
		return nil, newErr(KindIO, "loadGenomicIndex", err)
	}

	magicHdr, length, err := decodeFrameHeader(raw)
	if err != nil {
		return nil, newErr(KindFormat, "loadGenomicIndex", err)
	}
	if magicHdr != magicHeaderOrGenomic {
		return nil, newErr(KindFormat, "loadGenomicIndex", fmt.Errorf("genomic frame magic mismatch: %#x", magicHdr))
	}
	if int64(length) != int64(len(raw))-frameHeaderSize {
		return nil, newErr(KindFormat, "loadGenomicIndex", fmt.Errorf("genomic frame length mismatch: %d vs %d", length, len(raw)-frameHeaderSize))
	}

	body := raw[frameHeaderSize:]
	if len(body) < 5+genomicFooterSize {
		return nil, newErr(KindFormat, "loadGenomicIndex", errors.New("genomic payload truncated"))
	}
	body = body[:len(body)-genomicFooterSize]
	nchr := binary.LittleEndian.Uint32(body[1:5])
	off := 5

	gi := newGenomicIndex()
	for i := uint32(0); i < nchr; i++ {
		if off+genomicRefHeaderSize > len(body) {
			return nil, newErr(KindFormat, "loadGenomicIndex", errors.New("genomic payload truncated at ref header"))
		}
		frameCount := binary.LittleEndian.Uint32(body[off+1 : off+5])
		off += genomicRefHeaderSize
		for j := uint32(0); j < frameCount; j++ {
			if off+genomicEntryOnDisk > len(body) {
				return nil, newErr(KindFormat, "loadGenomicIndex", errors.New("genomic payload truncated at entry"))
			}
			tid := binary.LittleEndian.Uint32(body[off : off+4])
			begin := int64(int32(binary.LittleEndian.Uint32(body[off+4 : off+8])))
			end := int64(int32(binary.LittleEndian.Uint32(body[off+8 : off+12])))
			frameStart := binary.LittleEndian.Uint64(body[off+12 : off+20])
			off += genomicEntryOnDisk

			ref, ok := gi.byTID[tid]
			if !ok {
				ref = &genomicRef{tid: tid}
				gi.byTID[tid] = ref
				gi.refs = append(gi.refs, ref)
			}
			ref.entries = append(ref.entries, &GenomicEntry{TID: tid, Begin: begin, End: end, FrameOffset: frameStart})
		}
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, newErr(KindIO, "loadGenomicIndex", err)
	}
	return gi, nil
}
