package bgzf2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"syscall"

	"github.com/google/btree"
	"go.uber.org/zap/zapcore"
)

const (
	seekTableFooterSize   = 9  // N:u32le + flags:u8 + magic:u32le
	seekEntryPlainSize    = 8  // comp:u32le + uncomp:u32le
	seekEntryChecksumSize = 12 // + checksum:u32le

	seekChecksumFlagBit = 1 << 7
	seekReservedBitMask = 0b0111_1100 // bits 2-6
)

// SeekEntry is an in-memory seekable-index entry: the on-disk
// (comp_sz, uncomp_sz[, checksum]) pair plus the derived running totals
// (§3: "in memory also carries running totals {uncomp_pos, comp_pos}").
// A data-frame entry has UncompSize > 0; a skippable-frame entry (header,
// preface) has UncompSize == 0 and is "transparent" to range queries.
type SeekEntry struct {
	ID int64

	CompSize   uint32
	UncompSize uint32
	Checksum   uint32

	CompPos   uint64
	UncompPos uint64
}

func (e *SeekEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("id", e.ID)
	enc.AddUint32("compSize", e.CompSize)
	enc.AddUint32("uncompSize", e.UncompSize)
	enc.AddUint64("compPos", e.CompPos)
	enc.AddUint64("uncompPos", e.UncompPos)
	return nil
}

// seekEntryLess orders primarily by UncompPos; skip entries and the data
// entry that immediately follows them can share an UncompPos (the skip
// entry contributes 0 to the running total), so ID breaks the tie and
// keeps btree.ReplaceOrInsert from conflating the two.
func seekEntryLess(a, b *SeekEntry) bool {
	if a.UncompPos != b.UncompPos {
		return a.UncompPos < b.UncompPos
	}
	return a.ID < b.ID
}

// seekableIndex is §4.3's "Seekable Index" component: an ordered list of
// entries (append order == file order) plus a btree for binary-search
// query by uncompressed offset.
type seekableIndex struct {
	entries     []*SeekEntry
	tree        *btree.BTreeG[*SeekEntry]
	hasChecksum bool
}

func newSeekableIndex(hasChecksum bool) *seekableIndex {
	return &seekableIndex{tree: btree.NewG[*SeekEntry](8, seekEntryLess), hasChecksum: hasChecksum}
}

// append records a frame (data or skippable) in file order, deriving its
// running totals from the previous entry.
func (si *seekableIndex) append(compSize, uncompSize, checksum uint32) *SeekEntry {
	var compPos, uncompPos uint64
	if n := len(si.entries); n > 0 {
		last := si.entries[n-1]
		compPos = last.CompPos + uint64(last.CompSize)
		uncompPos = last.UncompPos + uint64(last.UncompSize)
	}
	e := &SeekEntry{
		ID:         int64(len(si.entries)),
		CompSize:   compSize,
		UncompSize: uncompSize,
		Checksum:   checksum,
		CompPos:    compPos,
		UncompPos:  uncompPos,
	}
	si.entries = append(si.entries, e)
	si.tree.ReplaceOrInsert(e)
	return e
}

func (si *seekableIndex) len() int { return len(si.entries) }

func (si *seekableIndex) totalUncompressed() uint64 {
	if len(si.entries) == 0 {
		return 0
	}
	last := si.entries[len(si.entries)-1]
	return last.UncompPos + uint64(last.UncompSize)
}

func (si *seekableIndex) totalCompressed() uint64 {
	if len(si.entries) == 0 {
		return 0
	}
	last := si.entries[len(si.entries)-1]
	return last.CompPos + uint64(last.CompSize)
}

// marshalFrame serializes the seek table as a skippable frame:
// magic | N*entry | N:u32le | flags:u8 | magicSeekableFooter.
func (si *seekableIndex) marshalFrame() []byte {
	entrySize := seekEntryPlainSize
	if si.hasChecksum {
		entrySize = seekEntryChecksumSize
	}
	n := len(si.entries)
	payload := make([]byte, n*entrySize+seekTableFooterSize)
	for i, e := range si.entries {
		off := i * entrySize
		binary.LittleEndian.PutUint32(payload[off:off+4], e.CompSize)
		binary.LittleEndian.PutUint32(payload[off+4:off+8], e.UncompSize)
		if si.hasChecksum {
			binary.LittleEndian.PutUint32(payload[off+8:off+12], e.Checksum)
		}
	}
	footerOff := n * entrySize
	binary.LittleEndian.PutUint32(payload[footerOff:footerOff+4], uint32(n))
	var flags byte
	if si.hasChecksum {
		flags |= seekChecksumFlagBit
	}
	payload[footerOff+4] = flags
	binary.LittleEndian.PutUint32(payload[footerOff+5:footerOff+9], magicSeekableFooter)
	return buildSkippableFrame(magicSeekableIndex, payload)
}

// queryByUncompOffset implements §4.3's binary-search query: land on the
// entry whose range covers u, transparently skipping forward over zero-
// length (skippable-frame) entries. The returned entry is always a data
// entry (UncompSize > 0) whose CompPos/CompSize locate the Zstd frame
// directly, suitable for a positioned ReadAt decode.
func (si *seekableIndex) queryByUncompOffset(u uint64) (*SeekEntry, error) {
	if len(si.entries) == 0 {
		return nil, newErr(KindNoIndex, "query", errors.New("no seekable index loaded"))
	}

	var landing *SeekEntry
	si.tree.DescendLessOrEqual(&SeekEntry{UncompPos: u, ID: math.MaxInt64}, func(e *SeekEntry) bool {
		landing = e
		return false
	})
	if landing == nil {
		return nil, newErr(KindRange, "query", fmt.Errorf("offset %d before start of stream", u))
	}

	cur := landing
	for cur != nil && (cur.UncompSize == 0 || u >= cur.UncompPos+uint64(cur.UncompSize)) {
		cur = si.nextEntry(cur)
	}
	if cur == nil {
		return nil, newErr(KindRange, "query", fmt.Errorf("offset %d past end of stream (total %d)", u, si.totalUncompressed()))
	}
	return cur, nil
}

// firstDataEntry returns the first entry with UncompSize > 0, or nil if the
// index holds no data frames at all.
func (si *seekableIndex) firstDataEntry() *SeekEntry {
	for _, e := range si.entries {
		if e.UncompSize > 0 {
			return e
		}
	}
	return nil
}

// nextDataEntry returns the next entry after e with UncompSize > 0,
// skipping any intervening skippable-frame entries, or nil past the end.
func (si *seekableIndex) nextDataEntry(e *SeekEntry) *SeekEntry {
	cur := si.nextEntry(e)
	for cur != nil && cur.UncompSize == 0 {
		cur = si.nextEntry(cur)
	}
	return cur
}

func (si *seekableIndex) nextEntry(e *SeekEntry) *SeekEntry {
	if int(e.ID)+1 >= len(si.entries) {
		return nil
	}
	return si.entries[e.ID+1]
}

// loadSeekableIndex implements §4.3's Load: seek to end-9, validate the
// footer, size the full skippable frame, seek to it from the end, parse.
// Returns (index, file offset of the seekable index frame's first byte, error).
func loadSeekableIndex(rs io.ReadSeeker) (*seekableIndex, int64, error) {
	footer := make([]byte, seekTableFooterSize)
	if _, err := rs.Seek(-seekTableFooterSize, io.SeekEnd); err != nil {
		if isNonSeekableErr(err) {
			return nil, 0, newErr(KindNonSeekable, "loadSeekableIndex", err)
		}
		return nil, 0, newErr(KindNoIndex, "loadSeekableIndex", fmt.Errorf("seek to footer: %w", err))
	}
	if _, err := io.ReadFull(rs, footer); err != nil {
		return nil, 0, newErr(KindNoIndex, "loadSeekableIndex", fmt.Errorf("read footer: %w", err))
	}

	magic := binary.LittleEndian.Uint32(footer[5:9])
	if magic != magicSeekableFooter {
		return nil, 0, newErr(KindNoIndex, "loadSeekableIndex", fmt.Errorf("footer magic mismatch: %#x", magic))
	}
	reserved := footer[4] & seekReservedBitMask
	if reserved != 0 {
		return nil, 0, newErr(KindFormat, "loadSeekableIndex", fmt.Errorf("reserved bits set: %#x", reserved))
	}
	hasChecksum := footer[4]&seekChecksumFlagBit != 0
	n := binary.LittleEndian.Uint32(footer[0:4])

	entrySize := int64(seekEntryPlainSize)
	if hasChecksum {
		entrySize = seekEntryChecksumSize
	}

	frameSize := seekTableFooterSize + entrySize*int64(n) + frameHeaderSize
	if _, err := rs.Seek(-frameSize, io.SeekEnd); err != nil {
		return nil, 0, newErr(KindNoIndex, "loadSeekableIndex", fmt.Errorf("seek to frame: %w", err))
	}
	indexFrameOffset, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, newErr(KindIO, "loadSeekableIndex", err)
	}

	raw := make([]byte, frameSize)
	if _, err := io.ReadFull(rs, raw); err != nil {
		return nil, 0, newErr(KindNoIndex, "loadSeekableIndex", fmt.Errorf("read frame: %w", err))
	}

	fmagic, flen, err := decodeFrameHeader(raw)
	if err != nil {
		return nil, 0, newErr(KindFormat, "loadSeekableIndex", err)
	}
	if fmagic != magicSeekableIndex {
		return nil, 0, newErr(KindFormat, "loadSeekableIndex", fmt.Errorf("frame magic mismatch: %#x", fmagic))
	}
	if int64(flen) != frameSize-frameHeaderSize {
		return nil, 0, newErr(KindFormat, "loadSeekableIndex", fmt.Errorf("frame length mismatch: %d vs %d", flen, frameSize-frameHeaderSize))
	}

	si := newSeekableIndex(hasChecksum)
	body := raw[frameHeaderSize : len(raw)-seekTableFooterSize]
	for off := int64(0); off < int64(len(body)); off += entrySize {
		compSz := binary.LittleEndian.Uint32(body[off : off+4])
		uncompSz := binary.LittleEndian.Uint32(body[off+4 : off+8])
		var checksum uint32
		if hasChecksum {
			checksum = binary.LittleEndian.Uint32(body[off+8 : off+12])
		}
		si.append(compSz, uncompSz, checksum)
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, 0, newErr(KindIO, "loadSeekableIndex", err)
	}

	return si, indexFrameOffset, nil
}

func isNonSeekableErr(err error) bool {
	return errors.Is(err, syscall.ESPIPE)
}
