package models

import (
	"encoding/binary"
	"encoding/json"

	"github.com/developer-mesh/memory-engine/pkg/errors"
)

// PayloadKind tags the entity type inside a cache payload frame.
type PayloadKind byte

const (
	// PayloadEpisode frames an Episode
	PayloadEpisode PayloadKind = 0x01
	// PayloadPattern frames a Pattern
	PayloadPattern PayloadKind = 0x02
	// PayloadEmbedding frames a packed embedding vector
	PayloadEmbedding PayloadKind = 0x03
	// PayloadQueryResult frames a cached result set
	PayloadQueryResult PayloadKind = 0x04
	// PayloadSummary frames an EpisodeSummary
	PayloadSummary PayloadKind = 0x05
)

// codecVersion is bumped on incompatible frame changes.
const codecVersion byte = 1

// frame layout:
//
//	[0]    magic 'M'
//	[1]    magic 'E'
//	[2]    version
//	[3]    payload kind
//	[4]    compression algorithm tag
//	[5:9]  original (uncompressed) size, little-endian u32
//	[9:13] body length, little-endian u32
//	[13:]  body
const frameHeaderLen = 13

// Frame wraps a serialized body in the cache tier's binary envelope.
// The compression tag describes how the body was encoded; the codec itself
// does not compress.
func Frame(kind PayloadKind, compressionTag byte, originalSize int, body []byte) []byte {
	buf := make([]byte, frameHeaderLen+len(body))
	buf[0] = 'M'
	buf[1] = 'E'
	buf[2] = codecVersion
	buf[3] = byte(kind)
	buf[4] = compressionTag
	binary.LittleEndian.PutUint32(buf[5:], uint32(originalSize))
	binary.LittleEndian.PutUint32(buf[9:], uint32(len(body)))
	copy(buf[frameHeaderLen:], body)
	return buf
}

// Unframe validates the envelope and returns the kind, compression tag,
// original size, and body. Truncated or foreign bytes yield a
// Serialization error.
func Unframe(frame []byte) (PayloadKind, byte, int, []byte, error) {
	if len(frame) < frameHeaderLen {
		return 0, 0, 0, nil, errors.Newf(errors.KindSerialization,
			"payload frame truncated: %d bytes", len(frame))
	}
	if frame[0] != 'M' || frame[1] != 'E' {
		return 0, 0, 0, nil, errors.New(errors.KindSerialization, "payload frame has wrong magic")
	}
	if frame[2] != codecVersion {
		return 0, 0, 0, nil, errors.Newf(errors.KindSerialization,
			"unsupported payload version %d", frame[2])
	}
	kind := PayloadKind(frame[3])
	tag := frame[4]
	originalSize := int(binary.LittleEndian.Uint32(frame[5:]))
	bodyLen := int(binary.LittleEndian.Uint32(frame[9:]))
	if len(frame) != frameHeaderLen+bodyLen {
		return 0, 0, 0, nil, errors.Newf(errors.KindSerialization,
			"payload frame length mismatch: header says %d, have %d",
			bodyLen, len(frame)-frameHeaderLen)
	}
	return kind, tag, originalSize, frame[frameHeaderLen:], nil
}

// MarshalEntity serializes a domain entity for storage. JSON keeps the SQL
// tier queryable via json_extract; the cache tier wraps the same bytes in a
// binary frame.
func MarshalEntity(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "failed to marshal entity")
	}
	return data, nil
}

// UnmarshalEntity deserializes a domain entity.
func UnmarshalEntity(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, errors.KindSerialization, "failed to unmarshal entity")
	}
	return nil
}
