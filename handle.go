package bgzf2

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// WriterFile is the write-side half of the "abstract file handle" external
// collaborator (§1): append-style write, a flush/fsync primitive, close.
type WriterFile interface {
	io.Writer
	Flush() error
	io.Closer
}

// ReaderFile is the read-side half: positioned read, positioned seek
// (which may fail as non-seekable), close.
type ReaderFile interface {
	io.ReaderAt
	io.Seeker
	io.Closer
}

type osWriterFile struct{ f *os.File }

func (w *osWriterFile) Write(p []byte) (int, error) { return w.f.Write(p) }
func (w *osWriterFile) Flush() error                { return w.f.Sync() }
func (w *osWriterFile) Close() error                { return w.f.Close() }

type osReaderFile struct{ f *os.File }

func (r *osReaderFile) ReadAt(p []byte, off int64) (int, error)    { return r.f.ReadAt(p, off) }
func (r *osReaderFile) Seek(off int64, whence int) (int64, error) { return r.f.Seek(off, whence) }
func (r *osReaderFile) Close() error                              { return r.f.Close() }

// readSeekerAt adapts a ReaderFile to io.ReadSeeker for the index loaders,
// which only need sequential Seek+Read during Open.
type readSeekerAt struct {
	rf  ReaderFile
	pos int64
}

func (r *readSeekerAt) Read(p []byte) (int, error) {
	n, err := r.rf.ReadAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}

func (r *readSeekerAt) Seek(offset int64, whence int) (int64, error) {
	// Reads go through ReadAt and never move the file's own offset, so
	// SeekCurrent is resolved against r.pos here.
	if whence == io.SeekCurrent {
		offset += r.pos
		whence = io.SeekStart
	}
	pos, err := r.rf.Seek(offset, whence)
	if err != nil {
		return 0, err
	}
	r.pos = pos
	return pos, nil
}

type ioMode int

const (
	modeRead ioMode = iota
	modeWrite
)

// Handle is the top-level object bundling everything the spec's §3 "Handle"
// entity names: file handle, mode, level, block size, both indices,
// current uncomp/comp buffers, frame_pos, flags, optional thread pool, job
// free list, command state.
type Handle struct {
	mode   ioMode
	logger *zap.Logger
	cfg    config

	// single-threaded writer state
	wf            WriterFile
	enc           *zstd.Encoder
	wbuf          *buffer
	headerWritten bool
	lastFlushTry  int
	framePos      uint64
	frameGen      int64
	blockSize     int

	// single-threaded reader state
	rf          ReaderFile
	dec         *zstd.Decoder
	rbuf        *buffer
	curEntry    *SeekEntry
	offset      uint64
	endOffset   uint64
	frameCache  cachedFrame
	seekableOff int64 // file offset of the seekable index frame, once loaded

	// shared index state, guarded by poolMu per §5's "single job_pool_m
	// mutex protects all index structures, the job free-list, and
	// jobs_pending".
	poolMu      sync.Mutex
	seekIdx     *seekableIndex
	genIdx      *genomicIndex
	jobFree     *job
	jobsPending int

	// parallel pipelines, nil unless AttachThreadPool was called
	pw *parallelWriter
	pr *parallelReader

	bufFree bufferFreeList

	writerErr atomic.Error
	closed    bool
	closeOnce sync.Once
}

type cachedFrame struct {
	mu        sync.Mutex
	uncompPos uint64
	valid     bool
	data      []byte
}

func (c *cachedFrame) get(uncompPos uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.uncompPos == uncompPos {
		return c.data, true
	}
	return nil, false
}

func (c *cachedFrame) replace(uncompPos uint64, data []byte) {
	c.mu.Lock()
	c.uncompPos = uncompPos
	c.data = data
	c.valid = true
	c.mu.Unlock()
}

func (c *cachedFrame) invalidate() {
	c.mu.Lock()
	c.valid = false
	c.data = nil
	c.mu.Unlock()
}

// parseMode parses the §6 mode grammar: "r", "w", or "w<digits>" (1-19,
// clamped by the codec).
func parseMode(mode string) (ioMode, int, error) {
	switch {
	case mode == "r":
		return modeRead, 0, nil
	case mode == "w":
		return modeWrite, defaultCompressionLevel, nil
	case strings.HasPrefix(mode, "w"):
		lvl, err := strconv.Atoi(mode[1:])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid compression level in mode %q: %w", mode, err)
		}
		return modeWrite, lvl, nil
	default:
		return 0, 0, fmt.Errorf("unrecognized mode %q, want \"r\" or \"w[0-9]+\"", mode)
	}
}

// Open opens path per §6: mode is "r" or "w"/"w<digits>". This is the
// file-path convenience entry point; NewWriterFile/NewReaderFile below
// compose directly over a WriterFile/ReaderFile for embedding or testing.
func Open(path string, mode string, opts ...Option) (*Handle, error) {
	m, level, err := parseMode(mode)
	if err != nil {
		return nil, newErr(KindFormat, "Open", err)
	}

	if m == modeWrite {
		opts = append([]Option{WithLevel(level)}, opts...)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, newErr(KindIO, "Open", err)
		}
		h, err := NewWriterFile(&osWriterFile{f: f}, opts...)
		if err != nil {
			f.Close()
			return nil, err
		}
		return h, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, newErr(KindIO, "Open", err)
	}
	h, err := NewReaderFile(&osReaderFile{f: f}, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return h, nil
}

// WithLevel sets the compression level (1-19); out-of-range values are
// clamped by the underlying codec, per §6.
func WithLevel(level int) Option {
	return func(c *config) error { c.level = level; return nil }
}

func buildConfig(opts []Option) (config, error) {
	var c config
	c.setDefault()
	for _, o := range opts {
		if err := o(&c); err != nil {
			return c, newErr(KindFormat, "Open", err)
		}
	}
	return c, nil
}

func zstdEncoderLevel(level int) zstd.EncoderLevel {
	if level < 1 {
		level = 1
	}
	if level > 19 {
		level = 19
	}
	return zstd.EncoderLevelFromZstd(level)
}

// NewWriterFile wraps a WriterFile (e.g. a real os.File) into a BGZF2
// writer Handle.
func NewWriterFile(wf WriterFile, opts ...Option) (*Handle, error) {
	c, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	eOpts := append([]zstd.EOption{
		zstd.WithEncoderLevel(zstdEncoderLevel(c.level)),
	}, c.zstdEOpts...)
	enc, err := zstd.NewWriter(nil, eOpts...)
	if err != nil {
		return nil, newErr(KindCodec, "Open", err)
	}

	h := &Handle{
		mode:      modeWrite,
		logger:    c.logger,
		cfg:       c,
		wf:        wf,
		enc:       enc,
		wbuf:      newBuffer(c.blockSize),
		blockSize: c.blockSize,
		seekIdx:   newSeekableIndex(c.checksums),
	}
	if c.genomic {
		h.genIdx = newGenomicIndex()
	}
	return h, nil
}

// NewReaderFile wraps a ReaderFile into a BGZF2 reader Handle, loading the
// seekable (and, if present, genomic) index eagerly.
func NewReaderFile(rf ReaderFile, opts ...Option) (*Handle, error) {
	c, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	dOpts := append([]zstd.DOption{}, c.zstdDOpts...)
	dec, err := zstd.NewReader(nil, dOpts...)
	if err != nil {
		return nil, newErr(KindCodec, "Open", err)
	}

	h := &Handle{
		mode:   modeRead,
		logger: c.logger,
		cfg:    c,
		rf:     rf,
		dec:    dec,
	}

	rs := &readSeekerAt{rf: rf}
	seekIdx, indexOffset, err := loadSeekableIndex(rs)
	if err != nil {
		var bErr *Error
		if asError(err, &bErr) && (bErr.Kind == KindNoIndex || bErr.Kind == KindNonSeekable) {
			// A non-seekable or index-less stream still yields a Handle,
			// with an empty index: endOffset stays 0, so Read reports
			// io.EOF at once and no frame is decoded. Frames are only
			// ever located through the seekable index; there is no
			// sequential frame-by-frame decode path.
			h.seekIdx = newSeekableIndex(false)
			return h, nil
		}
		dec.Close()
		return nil, err
	}
	h.seekIdx = seekIdx
	h.seekableOff = indexOffset
	h.endOffset = seekIdx.totalUncompressed()

	genIdx, err := loadGenomicIndex(rs, indexOffset)
	if err == nil {
		h.genIdx = genIdx
	}

	return h, nil
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

// AttachThreadPool switches a Handle from its synchronous, single-
// threaded path onto a parallel encode (write mode) or decode (read mode)
// pipeline backed by pool. queueSize bounds how many blocks may be
// in flight before Write/Flush/Read applies back-pressure.
func (h *Handle) AttachThreadPool(pool Pool, queueSize int) error {
	if h.mode == modeWrite {
		return h.attachWriterPool(pool, queueSize)
	}
	return h.attachReaderPool(pool, queueSize)
}

// CheckEOF returns 1 if the trailing seekable-index EOF marker is present
// and valid, 0 if absent/corrupt, 2 on a non-seekable stream, -1 on I/O
// error, per §6/§8.
func (h *Handle) CheckEOF() int {
	if h.mode != modeRead {
		return -1
	}
	if h.seekIdx != nil && h.seekableOff > 0 {
		return 1
	}
	rs := &readSeekerAt{rf: h.rf}
	_, _, err := loadSeekableIndex(rs)
	if err == nil {
		return 1
	}
	var bErr *Error
	if asError(err, &bErr) {
		switch bErr.Kind {
		case KindNonSeekable:
			return 2
		case KindNoIndex, KindFormat:
			return 0
		}
	}
	return -1
}

// Close implements §4.2's close invariant: for writers, flush, drain
// workers, emit genomic index (if non-empty), emit seekable index, close
// file; for readers, simply release resources.
func (h *Handle) Close() (err error) {
	h.closeOnce.Do(func() {
		if h.mode == modeWrite {
			err = h.closeWriter()
			return
		}
		err = h.closeReader()
	})
	return err
}

func (h *Handle) closeReader() error {
	h.frameCache.invalidate()
	if h.pr != nil {
		h.pr.close()
	}
	h.closed = true
	if h.dec != nil {
		h.dec.Close()
	}
	if h.rf != nil {
		return h.rf.Close()
	}
	return nil
}

func (h *Handle) closeWriter() (err error) {
	if h.pw != nil {
		err = multierr.Append(err, h.pw.drain())
	} else {
		err = multierr.Append(err, h.flushLocked())
	}

	h.poolMu.Lock()
	if h.genIdx != nil && !h.genIdx.empty() {
		if _, werr := h.wf.Write(h.genIdx.marshalFrame()); werr != nil {
			err = multierr.Append(err, newErr(KindIO, "Close", werr))
		}
	}
	if _, werr := h.wf.Write(h.seekIdx.marshalFrame()); werr != nil {
		err = multierr.Append(err, newErr(KindIO, "Close", werr))
	}
	h.poolMu.Unlock()

	if h.enc != nil {
		err = multierr.Append(err, h.enc.Close())
	}
	h.closed = true
	err = multierr.Append(err, h.wf.Close())
	return err
}

// checkLatched surfaces a writer-thread error latched by §4.9(ii)/(iii) at
// the next caller entry point.
func (h *Handle) checkLatched() error {
	if err := h.writerErr.Load(); err != nil {
		return err
	}
	if h.closed {
		return newErr(KindIO, "op", fmt.Errorf("handle is closed"))
	}
	return nil
}
