package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/memory-engine/pkg/errors"
)

func repetitive(n int) []byte {
	return bytes.Repeat([]byte("episodic memory engine "), n)
}

func TestBelowThresholdPassthrough(t *testing.T) {
	data := []byte("tiny")
	p, err := Compress(data, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, None, p.Algorithm)
	assert.Equal(t, data, p.Data)
	assert.Equal(t, 1.0, p.Ratio)
	assert.Zero(t, p.BytesSaved())

	out, err := Decompress(p)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestRepetitiveDataUsesZstd(t *testing.T) {
	data := repetitive(200)
	p, err := Compress(data, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, Zstd, p.Algorithm)
	assert.Less(t, p.Ratio, 0.5)
	assert.Positive(t, p.BytesSaved())
	assert.Greater(t, p.BandwidthSavingsPercent(), 50.0)

	out, err := Decompress(p)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestGzipLegacyRoundTrip(t *testing.T) {
	data := repetitive(100)
	p, err := CompressGzip(data)
	require.NoError(t, err)
	assert.Equal(t, Gzip, p.Algorithm)

	out, err := Decompress(p)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestLZ4RoundTrip(t *testing.T) {
	data := repetitive(100)
	p, err := compressLZ4(data)
	require.NoError(t, err)
	require.Equal(t, LZ4, p.Algorithm)

	out, err := Decompress(p)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestEmbeddingBytesCompressWell(t *testing.T) {
	// Packed float32 vectors with many repeated values compress strongly.
	vec := make([]byte, 1536*4)
	for i := 0; i < len(vec); i += 4 {
		vec[i] = byte(i % 7)
	}
	p, err := Compress(vec, DefaultThreshold)
	require.NoError(t, err)
	assert.NotEqual(t, None, p.Algorithm)

	out, err := Decompress(p)
	require.NoError(t, err)
	assert.Equal(t, vec, out)
}

func TestDecompressTruncatedFails(t *testing.T) {
	data := repetitive(200)
	p, err := Compress(data, DefaultThreshold)
	require.NoError(t, err)
	require.Equal(t, Zstd, p.Algorithm)

	p.Data = p.Data[:len(p.Data)/2]
	_, err = Decompress(p)
	require.Error(t, err)
	assert.True(t, errors.IsSerialization(err))
}

func TestDecompressAlgorithmMismatchFails(t *testing.T) {
	data := repetitive(200)
	p, err := Compress(data, DefaultThreshold)
	require.NoError(t, err)
	require.Equal(t, Zstd, p.Algorithm)

	_, err = DecompressRaw(p.Data, Gzip, p.OriginalSize)
	require.Error(t, err)
	assert.True(t, errors.IsSerialization(err))
}

func TestDecompressUnknownAlgorithm(t *testing.T) {
	_, err := DecompressRaw([]byte{1, 2, 3}, Algorithm(42), 3)
	require.Error(t, err)
	assert.True(t, errors.IsSerialization(err))
}

func TestAlgorithmNames(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "lz4", LZ4.String())
	assert.Equal(t, "zstd", Zstd.String())
	assert.Equal(t, "gzip", Gzip.String())
}
