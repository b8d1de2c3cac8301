// Package compressor wraps zstd encode/decode against a single process-wide
// trained dictionary, mirroring how the chapter compressor in the ingestion
// pipeline is used: one Compressor is built at startup and shared read-only
// across every book worker.
package compressor

import (
	"os"

	"github.com/klauspost/compress/zstd"

	bverrors "github.com/FocuswithJustin/bookvault/core/errors"
)

// DefaultLevel is the zstd level used when no compression_level is configured.
const DefaultLevel = 3

// Compressor compresses and decompresses chapter bodies against an optional
// shared dictionary. The dictionary's identity is never recorded alongside
// the compressed bytes — callers must keep a bundle paired with whichever
// dictionary produced it.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New builds a Compressor at the given level. dictPath may be empty or
// point to a missing file — the dictionary is then simply not used, which
// is tolerated rather than treated as an error.
func New(level int, dictPath string) (*Compressor, error) {
	zl := levelFor(level)

	var encOpts []zstd.EOption
	var decOpts []zstd.DOption
	encOpts = append(encOpts, zstd.WithEncoderLevel(zl))

	if dictPath != "" {
		dict, err := os.ReadFile(dictPath)
		if err == nil {
			encOpts = append(encOpts, zstd.WithEncoderDict(dict))
			decOpts = append(decOpts, zstd.WithDecoderDicts(dict))
		} else if !os.IsNotExist(err) {
			return nil, bverrors.NewIO("read", dictPath, err)
		}
	}

	enc, err := zstd.NewWriter(nil, encOpts...)
	if err != nil {
		return nil, bverrors.Wrap(err, "compressor: build encoder")
	}
	dec, err := zstd.NewReader(nil, decOpts...)
	if err != nil {
		return nil, bverrors.Wrap(err, "compressor: build decoder")
	}
	return &Compressor{encoder: enc, decoder: dec}, nil
}

func levelFor(level int) zstd.EncoderLevel {
	switch {
	case level <= 0:
		return zstd.SpeedDefault
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 9:
		return zstd.SpeedDefault
	case level <= 15:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Compress encodes body against the Compressor's dictionary. Safe for
// concurrent use across goroutines.
func (c *Compressor) Compress(body []byte) []byte {
	return c.encoder.EncodeAll(body, nil)
}

// Decompress reverses Compress. rawLen is used to preallocate the output
// buffer; it is not required to be exact.
func (c *Compressor) Decompress(compressed []byte, rawLen uint32) ([]byte, error) {
	dst := make([]byte, 0, rawLen)
	out, err := c.decoder.DecodeAll(compressed, dst)
	if err != nil {
		return nil, bverrors.Wrap(err, "compressor: decode")
	}
	return out, nil
}

// Close releases the decoder's background goroutines. The encoder has no
// resources beyond GC'd memory.
func (c *Compressor) Close() {
	c.decoder.Close()
}

// ValidateDictionary is an operator helper for a candidate global.dict: it
// reads the file at path and checks that it loads as a zstd decoder
// dictionary. It does not build or train a dictionary.
func ValidateDictionary(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return bverrors.NewIO("read", path, err)
	}
	if _, err := zstd.NewReader(nil, zstd.WithDecoderDicts(data)); err != nil {
		return bverrors.Wrap(err, "compressor: invalid dictionary")
	}
	return nil
}
