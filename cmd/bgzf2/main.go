// Command bgzf2 compresses or decompresses a file into/from the BGZF2
// container format, content-defined chunking the input so that frame
// boundaries land on stable, reproducible points instead of fixed byte
// offsets.
package main

import (
	"bytes"
	"crypto/sha512"
	"errors"
	"flag"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	fastcdc "github.com/SaveTheRbtz/fastcdc-go"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/bgzf2-project/bgzf2"
)

type readCloser struct {
	io.Reader
	io.Closer
}

func main() {
	var (
		inputFlag, chunkingFlag, outputFlag string
		qualityFlag, workersFlag            int
		verifyFlag, verboseFlag, genomicFlag bool
	)

	flag.StringVar(&inputFlag, "f", "", "input filename, - for stdin")
	flag.StringVar(&outputFlag, "o", "", "output filename, - for stdout")
	flag.StringVar(&chunkingFlag, "c", "16:128", "min:max chunking block size (in kb)")
	flag.BoolVar(&verifyFlag, "t", false, "test reading after the write")
	flag.IntVar(&qualityFlag, "q", 5, "compression quality (1-19, lower == faster)")
	flag.IntVar(&workersFlag, "j", 0, "parallel encode workers (0 disables the thread pool)")
	flag.BoolVar(&genomicFlag, "g", false, "enable the genomic index (no ranges are recorded, so no genomic index frame is written)")
	flag.BoolVar(&verboseFlag, "v", false, "be verbose")

	flag.Parse()

	var err error
	var logger *zap.Logger
	if verboseFlag {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer func() { _ = logger.Sync() }()

	if inputFlag == "" || outputFlag == "" {
		logger.Fatal("both -f and -o need to be defined")
	}
	if verifyFlag && outputFlag == "-" {
		logger.Fatal("verify can't be used with stdout output")
	}

	var input io.ReadCloser
	if inputFlag == "-" {
		input = os.Stdin
	} else {
		if input, err = os.Open(inputFlag); err != nil {
			logger.Fatal("failed to open input", zap.Error(err))
		}
	}

	expected := sha512.New512_256()
	origDone := make(chan struct{})
	if verifyFlag {
		pr, pw := io.Pipe()
		tee := io.TeeReader(input, pw)
		input = readCloser{tee, pw}

		go func() {
			defer close(origDone)
			if _, err := io.CopyBuffer(expected, pr, make([]byte, 128<<10)); err != nil {
				logger.Fatal("failed to compute expected checksum", zap.Error(err))
			}
		}()
	}

	opts := []bgzf2.Option{bgzf2.WithLogger(logger), bgzf2.WithGenomicIndex(genomicFlag)}
	var h *bgzf2.Handle
	if outputFlag == "-" {
		h, err = bgzf2.NewWriterFile(stdoutWriterFile{}, append(opts, bgzf2.WithLevel(qualityFlag))...)
	} else {
		h, err = bgzf2.Open(outputFlag, "w"+strconv.Itoa(qualityFlag), opts...)
	}
	if err != nil {
		logger.Fatal("failed to create bgzf2 writer", zap.Error(err))
	}

	if workersFlag > 0 {
		if err := h.AttachThreadPool(bgzf2.NewFixedPool(workersFlag), workersFlag*2); err != nil {
			logger.Fatal("failed to attach thread pool", zap.Error(err))
		}
	}

	minChunkSize, maxChunkSize := parseChunkSizes(logger, chunkingFlag)
	logger.Info("chunking input", zap.Uint64("min", uint64(minChunkSize)), zap.Uint64("max", uint64(maxChunkSize)))

	chunker, err := fastcdc.NewChunker(input, fastcdc.Options{
		MinSize:     minChunkSize,
		AverageSize: (minChunkSize + maxChunkSize) / 2,
		MaxSize:     maxChunkSize,
	})
	if err != nil {
		logger.Fatal("failed to create chunker", zap.Error(err))
	}

	bar := progressbar.DefaultBytes(-1, "compressing")
	for {
		chunk, err := chunker.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			logger.Fatal("failed to read chunk", zap.Error(err))
		}
		if _, err := h.Write(chunk.Data, false); err != nil {
			logger.Fatal("failed to write chunk", zap.Error(err))
		}
		if err := h.Flush(); err != nil {
			logger.Fatal("failed to flush chunk", zap.Error(err))
		}
		_ = bar.Add(len(chunk.Data))
	}
	_ = bar.Close()

	if err := input.Close(); err != nil {
		logger.Warn("failed to close input", zap.Error(err))
	}
	if err := h.Close(); err != nil {
		logger.Fatal("failed to close bgzf2 writer", zap.Error(err))
	}

	if verifyFlag {
		verify(logger, outputFlag, origDone, expected)
	}
}

func parseChunkSizes(logger *zap.Logger, chunkingFlag string) (int, int) {
	parts := strings.SplitN(chunkingFlag, ":", 2)
	if len(parts) != 2 {
		logger.Fatal("failed to parse chunker params, want min:max", zap.Int("parts", len(parts)))
	}
	mustConv := func(s string) int {
		n, err := strconv.Atoi(s)
		if err != nil {
			logger.Fatal("failed to parse int", zap.String("value", s), zap.Error(err))
		}
		return n
	}
	minKB, maxKB := mustConv(parts[0]), mustConv(parts[1])
	min := int(math.Max(1, float64(minKB))) * 1024
	max := int(math.Max(float64(min), float64(maxKB*1024)))
	return min, max
}

func verify(logger *zap.Logger, outputFlag string, origDone chan struct{}, expected interface{ Sum([]byte) []byte }) {
	h, err := bgzf2.Open(outputFlag, "r", bgzf2.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to open file for verification", zap.Error(err))
	}
	defer h.Close()

	actual := sha512.New512_256()
	if _, err := io.CopyBuffer(actual, readerFunc(h.Read), make([]byte, 128<<10)); err != nil {
		logger.Fatal("failed to compute actual checksum", zap.Error(err))
	}
	<-origDone

	if !bytes.Equal(actual.Sum(nil), expected.Sum(nil)) {
		logger.Fatal("checksum verification failed",
			zap.Binary("actual", actual.Sum(nil)), zap.Binary("expected", expected.Sum(nil)))
	}
	logger.Info("checksum verification succeeded", zap.Binary("digest", actual.Sum(nil)))
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// stdoutWriterFile adapts os.Stdout to bgzf2.WriterFile when -o - is used;
// Flush is a no-op since stdout has no fsync primitive worth calling.
type stdoutWriterFile struct{}

func (stdoutWriterFile) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdoutWriterFile) Flush() error                { return nil }
func (stdoutWriterFile) Close() error                { return nil }
