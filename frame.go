// Package bgzf2 implements the BGZF2 container format: an ordered sequence
// of independently-decodable Zstd frames interleaved with Zstd skippable
// frames that carry a preface (next frame's compressed size, for parallel
// dispatch without an index scan) plus two trailing indices (byte-offset
// seekable index and an optional genomic-range index).
//
// Every produced file remains a fully conforming Zstd stream: any stock
// Zstd decoder ignores the skippable frames and reproduces the original
// byte stream.
package bgzf2

import (
	"encoding/binary"
	"fmt"
)

// Frame magic numbers, all little-endian u32, per §4.1/§6.
const (
	// magicSkippableLow/magicSkippableHigh bound the 16 valid skippable
	// frame magics, as tested by isSkippableMagic. The reader locates data
	// frames through the seekable index and does not scan frame headers.
	magicSkippableLow  uint32 = 0x184D2A50
	magicSkippableHigh uint32 = 0x184D2A5F

	// magicPreface identifies the 12-byte preface skippable frame
	// (pzstd-compatible): magic + length==4 together, not magic alone.
	magicPreface uint32 = 0x184D2A50

	// magicHeaderOrGenomic is shared by the BGZF2 header frame and the
	// genomic index frame; which one it is depends on stream position
	// (first skippable frame vs. trailing, before the seekable index).
	magicHeaderOrGenomic uint32 = 0x184D2A5B

	// magicSeekableIndex identifies the trailing seekable index frame.
	magicSeekableIndex uint32 = 0x184D2A5E

	// magicZstdData is the ordinary Zstd frame magic. It lies outside the
	// skippable range; no reader path checks for it.
	magicZstdData uint32 = 0x28B52FFD

	// magicSeekableFooter is both the seekable index's trailing magic and
	// the overall EOF marker (§6, check_eof).
	magicSeekableFooter uint32 = 0x8F92EAB1

	// magicGenomicFooter is the genomic index frame's own back-pointer
	// trailing magic.
	magicGenomicFooter uint32 = 0x8F92EABB
)

// MaxBlockSize is the hard ceiling on a single frame's uncompressed size
// (2^30 bytes, §3 invariants / §4.9(iii)): a frame claiming more aborts the
// read as an anti-amplification defense.
const MaxBlockSize = 1 << 30

// headerMagicPayload is the literal 4-byte tag inside the BGZF2 header
// frame (§4.1).
var headerMagicPayload = [4]byte{'B', 'G', 'Z', '2'}

// headerPreviewMax is the largest uncompressed preview the header frame
// carries, copied from the first written block.
const headerPreviewMax = 16

const (
	frameHeaderSize   = 8 // magic:u32le + length:u32le
	prefaceFrameSize  = frameHeaderSize + 4
	prefacePayloadLen = 4
)

// isSkippableMagic reports whether magic falls in the skippable range
// 0x184D2A50-0x184D2A5F, per the Zstd skippable frame convention BGZF2
// rides on top of.
func isSkippableMagic(magic uint32) bool {
	return magic >= magicSkippableLow && magic <= magicSkippableHigh
}

// encodeFrameHeader writes the 8-byte [magic][length] header inline into
// dst, which must be at least frameHeaderSize long.
func encodeFrameHeader(dst []byte, magic, length uint32) {
	binary.LittleEndian.PutUint32(dst[0:4], magic)
	binary.LittleEndian.PutUint32(dst[4:8], length)
}

func decodeFrameHeader(src []byte) (magic, length uint32, err error) {
	if len(src) < frameHeaderSize {
		return 0, 0, fmt.Errorf("frame header truncated: got %d bytes, want %d", len(src), frameHeaderSize)
	}
	magic = binary.LittleEndian.Uint32(src[0:4])
	length = binary.LittleEndian.Uint32(src[4:8])
	return magic, length, nil
}

// buildSkippableFrame serializes a skippable frame: [magic][length][payload].
func buildSkippableFrame(magic uint32, payload []byte) []byte {
	dst := make([]byte, frameHeaderSize+len(payload))
	encodeFrameHeader(dst, magic, uint32(len(payload)))
	copy(dst[frameHeaderSize:], payload)
	return dst
}

// buildHeaderFrame constructs the BGZF2 header frame: "BGZ2" followed by up
// to headerPreviewMax bytes copied from the first written block.
func buildHeaderFrame(preview []byte) []byte {
	if len(preview) > headerPreviewMax {
		preview = preview[:headerPreviewMax]
	}
	payload := make([]byte, 0, len(headerMagicPayload)+len(preview))
	payload = append(payload, headerMagicPayload[:]...)
	payload = append(payload, preview...)
	return buildSkippableFrame(magicHeaderOrGenomic, payload)
}

// buildPrefaceFrame constructs the 12-byte preface frame publishing the
// next data frame's compressed size.
func buildPrefaceFrame(nextFrameCompSz uint32) []byte {
	payload := make([]byte, prefacePayloadLen)
	binary.LittleEndian.PutUint32(payload, nextFrameCompSz)
	return buildSkippableFrame(magicPreface, payload)
}

// parsePreface recognizes a preface frame: it requires both the preface
// magic AND length==4 together (§4.1); a length mismatch under the same
// magic means it is an unrelated skippable frame and must merely be
// skipped, not treated as a parse error.
func parsePreface(magic, length uint32, payload []byte) (compSz uint32, ok bool) {
	if magic != magicPreface || length != prefacePayloadLen {
		return 0, false
	}
	if len(payload) != prefacePayloadLen {
		return 0, false
	}
	return binary.LittleEndian.Uint32(payload), true
}
