// Package compression provides transparent payload compression for the
// storage tiers. Payloads above a size threshold are run through a codec
// chain (Zstd first, LZ4 fallback, Gzip as the legacy path); the framing
// records which algorithm was used so decompression is self-describing.
package compression

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/developer-mesh/memory-engine/pkg/errors"
)

// Algorithm identifies a compression codec. The byte values are persisted
// in payload frames and must never be renumbered.
type Algorithm byte

const (
	// None means the payload is stored uncompressed
	None Algorithm = 0
	// LZ4 is the fast fallback codec
	LZ4 Algorithm = 1
	// Zstd is the preferred codec
	Zstd Algorithm = 2
	// Gzip is the legacy codec, kept for old payloads
	Gzip Algorithm = 3
)

// String returns the codec name.
func (a Algorithm) String() string {
	switch a {
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	case Gzip:
		return "gzip"
	default:
		return "none"
	}
}

// DefaultThreshold is the payload size below which compression is skipped.
const DefaultThreshold = 1024

// zstdRatioCutoff: Zstd output is accepted only when it more than halves the
// payload (ratio strictly below 0.5); otherwise the cheaper LZ4 pass is used.
const zstdRatioCutoff = 0.5

// Payload is a compressed payload with the metadata needed to reverse it.
type Payload struct {
	OriginalSize   int       `json:"original_size"`
	CompressedSize int       `json:"compressed_size"`
	Ratio          float64   `json:"ratio"`
	Algorithm      Algorithm `json:"algorithm"`
	Data           []byte    `json:"data"`
}

// BandwidthSavingsPercent returns the share of bytes saved, e.g. 40.0 for
// a payload compressed to 60% of its original size.
func (p *Payload) BandwidthSavingsPercent() float64 {
	return (1.0 - p.Ratio) * 100.0
}

// BytesSaved returns the absolute byte savings, never negative.
func (p *Payload) BytesSaved() int {
	if p.CompressedSize >= p.OriginalSize {
		return 0
	}
	return p.OriginalSize - p.CompressedSize
}

// Compress picks a codec for the data. Payloads below threshold pass
// through with Algorithm None. Larger payloads try Zstd first and accept
// the result when the ratio is below 0.5; otherwise LZ4 is used.
func Compress(data []byte, threshold int) (*Payload, error) {
	if len(data) < threshold {
		return passthrough(data), nil
	}

	z, err := compressZstd(data)
	if err == nil && z.Ratio < zstdRatioCutoff {
		return z, nil
	}
	return compressLZ4(data)
}

// CompressGzip compresses using the legacy Gzip path. New payloads use
// Compress; this exists for compatibility with stores written before the
// Zstd/LZ4 chain.
func CompressGzip(data []byte) (*Payload, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "gzip compression failed")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "gzip compression failed")
	}
	return payloadFor(data, buf.Bytes(), Gzip), nil
}

// Decompress reverses the codec recorded in the payload. Mismatched or
// truncated data yields a Serialization error.
func Decompress(p *Payload) ([]byte, error) {
	return DecompressRaw(p.Data, p.Algorithm, p.OriginalSize)
}

// DecompressRaw reverses a codec given the stored algorithm tag and the
// original size from the payload frame.
func DecompressRaw(data []byte, algorithm Algorithm, originalSize int) ([]byte, error) {
	switch algorithm {
	case None:
		return data, nil
	case LZ4:
		out := make([]byte, originalSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindSerialization, "lz4 decompression failed")
		}
		if n != originalSize {
			return nil, errors.Newf(errors.KindSerialization,
				"lz4 decompression produced %d bytes, expected %d", n, originalSize)
		}
		return out, nil
	case Zstd:
		r, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindSerialization, "zstd reader init failed")
		}
		defer r.Close()
		out, err := r.DecodeAll(data, nil)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindSerialization, "zstd decompression failed")
		}
		return out, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, errors.KindSerialization, "gzip decompression failed")
		}
		defer func() { _ = r.Close() }()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindSerialization, "gzip decompression failed")
		}
		return out, nil
	default:
		return nil, errors.Newf(errors.KindSerialization, "unknown compression algorithm %d", algorithm)
	}
}

func passthrough(data []byte) *Payload {
	return &Payload{
		OriginalSize:   len(data),
		CompressedSize: len(data),
		Ratio:          1.0,
		Algorithm:      None,
		Data:           data,
	}
}

func payloadFor(original, compressed []byte, algorithm Algorithm) *Payload {
	ratio := 1.0
	if len(original) > 0 {
		ratio = float64(len(compressed)) / float64(len(original))
	}
	return &Payload{
		OriginalSize:   len(original),
		CompressedSize: len(compressed),
		Ratio:          ratio,
		Algorithm:      algorithm,
		Data:           compressed,
	}
}

func compressZstd(data []byte) (*Payload, error) {
	w, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "zstd writer init failed")
	}
	compressed := w.EncodeAll(data, nil)
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "zstd compression failed")
	}
	return payloadFor(data, compressed, Zstd), nil
}

func compressLZ4(data []byte) (*Payload, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	var c lz4.Compressor
	n, err := c.CompressBlock(data, buf)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "lz4 compression failed")
	}
	if n == 0 {
		// Incompressible data; store as-is rather than growing it.
		return passthrough(data), nil
	}
	return payloadFor(data, buf[:n], LZ4), nil
}
