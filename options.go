package bgzf2

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	defaultCompressionLevel = 5
	defaultBlockSize        = 256_000
)

// Option configures a Handle at Open time, following the teacher's
// functional-option pattern (writer_options.go/reader_options.go):
// setDefault() first, then each Option applied in order.
type Option func(*config) error

type config struct {
	logger *zap.Logger

	level     int
	blockSize int

	zstdEOpts []zstd.EOption
	zstdDOpts []zstd.DOption

	checksums bool
	genomic   bool
}

func (c *config) setDefault() {
	*c = config{
		logger:    zap.NewNop(),
		level:     defaultCompressionLevel,
		blockSize: defaultBlockSize,
		checksums: true,
	}
}

// WithLogger attaches a *zap.Logger; the default is zap.NewNop() so the
// library stays silent unless a caller opts in.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) error { c.logger = l; return nil }
}

// WithBlockSize sets the initial target block size (bytes of uncompressed
// data per frame). Equivalent to calling SetBlockSize right after Open:
// both size the pending buffer to sz.
func WithBlockSize(sz int) Option {
	return func(c *config) error {
		if sz <= 0 || sz > MaxBlockSize {
			return newErr(KindLimits, "WithBlockSize", errBlockSizeRange(sz))
		}
		c.blockSize = sz
		return nil
	}
}

// WithZSTDEncoderOptions passes options straight through to the underlying
// encoder, e.g. zstd.WithEncoderConcurrency.
func WithZSTDEncoderOptions(opts ...zstd.EOption) Option {
	return func(c *config) error { c.zstdEOpts = opts; return nil }
}

// WithZSTDDecoderOptions passes options straight through to the underlying
// decoder.
func WithZSTDDecoderOptions(opts ...zstd.DOption) Option {
	return func(c *config) error { c.zstdDOpts = opts; return nil }
}

// WithChecksums enables/disables the per-entry XXH64 checksum on the
// seekable index (footer flag bit 7, §4.1). Enabled by default.
func WithChecksums(enabled bool) Option {
	return func(c *config) error { c.checksums = enabled; return nil }
}

// WithGenomicIndex enables building the optional genomic range index as
// the caller drives IdxAdd.
func WithGenomicIndex(enabled bool) Option {
	return func(c *config) error { c.genomic = enabled; return nil }
}

func errBlockSizeRange(sz int) error {
	return fmt.Errorf("block size %d out of range (0, %d]", sz, MaxBlockSize)
}
