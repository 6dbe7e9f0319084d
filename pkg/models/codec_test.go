package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/memory-engine/pkg/errors"
)

func TestFrameRoundTrip(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	frame := Frame(PayloadEpisode, 2, 100, body)

	kind, tag, original, got, err := Unframe(frame)
	require.NoError(t, err)
	assert.Equal(t, PayloadEpisode, kind)
	assert.Equal(t, byte(2), tag)
	assert.Equal(t, 100, original)
	assert.Equal(t, body, got)
}

func TestUnframeRejectsTruncation(t *testing.T) {
	frame := Frame(PayloadPattern, 0, 10, []byte("0123456789"))
	_, _, _, _, err := Unframe(frame[:len(frame)-3])
	require.Error(t, err)
	assert.True(t, errors.IsSerialization(err))

	_, _, _, _, err = Unframe([]byte{1, 2})
	require.Error(t, err)
	assert.True(t, errors.IsSerialization(err))
}

func TestUnframeRejectsForeignBytes(t *testing.T) {
	frame := Frame(PayloadEmbedding, 1, 4, []byte{0, 0, 0, 0})
	frame[0] = 'X'
	_, _, _, _, err := Unframe(frame)
	require.Error(t, err)
	assert.True(t, errors.IsSerialization(err))
}

func TestUnframeRejectsVersionDrift(t *testing.T) {
	frame := Frame(PayloadSummary, 0, 1, []byte{7})
	frame[2] = 99
	_, _, _, _, err := Unframe(frame)
	assert.Error(t, err)
}

func TestMarshalEntityRoundTrip(t *testing.T) {
	e := NewEpisode("round trip", TaskContext{Domain: "data"}, TaskTypeAnalysis)
	e.AddTag("roundtrip")
	require.NoError(t, e.AddStep(ExecutionStep{StepNumber: 1, Tool: "editor", Action: "edit", LatencyMs: 12}))

	data, err := MarshalEntity(e)
	require.NoError(t, err)

	var decoded Episode
	require.NoError(t, UnmarshalEntity(data, &decoded))
	assert.Equal(t, e.EpisodeID, decoded.EpisodeID)
	assert.Equal(t, e.TaskDescription, decoded.TaskDescription)
	assert.Len(t, decoded.Steps, 1)
	assert.Equal(t, e.Tags, decoded.Tags)
}

func TestUnmarshalEntityRejectsGarbage(t *testing.T) {
	var e Episode
	err := UnmarshalEntity([]byte("{not json"), &e)
	require.Error(t, err)
	assert.True(t, errors.IsSerialization(err))
}

func TestEmbeddingPackRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75, 0}
	packed := PackEmbedding(vec)
	assert.Len(t, packed, 16)

	got, err := UnpackEmbedding(packed)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestUnpackEmbeddingRejectsRaggedBlob(t *testing.T) {
	_, err := UnpackEmbedding([]byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.IsSerialization(err))
}

func TestDimensionRouting(t *testing.T) {
	assert.Equal(t, Dimension384, DimensionFor(384))
	assert.Equal(t, Dimension1024, DimensionFor(1024))
	assert.Equal(t, Dimension1536, DimensionFor(1536))
	assert.Equal(t, Dimension3072, DimensionFor(3072))
	assert.Equal(t, DimensionOther, DimensionFor(768))
	assert.Equal(t, "other", DimensionOther.TableSuffix())
	assert.Equal(t, "1536", Dimension1536.TableSuffix())
	assert.Len(t, AllDimensions(), 5)
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	c := []float32{0, 1, 0}
	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity(a, c), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity(a, []float32{1, 2}), "length mismatch")
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{0, 0}), "zero vector")
}

func TestHeuristicEvidence(t *testing.T) {
	h := NewHeuristic("tests fail on CI only", "pin the clock", 0.5)
	require.NoError(t, h.Validate())

	h.AddEvidence(NewEpisode("x", TaskContext{Domain: "ci"}, TaskTypeDebugging).EpisodeID, true)
	h.AddEvidence(NewEpisode("y", TaskContext{Domain: "ci"}, TaskTypeDebugging).EpisodeID, true)
	h.AddEvidence(NewEpisode("z", TaskContext{Domain: "ci"}, TaskTypeDebugging).EpisodeID, false)

	assert.InDelta(t, 2.0/3.0, h.Confidence, 1e-9)
	assert.Len(t, h.Evidence.EpisodeIDs, 3)
}

func TestRelationshipValidate(t *testing.T) {
	a, b := NewEpisode("a", TaskContext{}, TaskTypeTesting), NewEpisode("b", TaskContext{}, TaskTypeTesting)

	rel := NewRelationship(a.EpisodeID, b.EpisodeID, RelDependsOn, RelationshipMetadata{Priority: 5})
	require.NoError(t, rel.Validate())
	assert.True(t, RelDependsOn.RequiresAcyclic())
	assert.True(t, RelParentChild.RequiresAcyclic())
	assert.True(t, RelBlocks.RequiresAcyclic())
	assert.False(t, RelFollows.RequiresAcyclic())
	assert.False(t, RelRelatedTo.RequiresAcyclic())

	self := NewRelationship(a.EpisodeID, a.EpisodeID, RelFollows, RelationshipMetadata{})
	assert.Error(t, self.Validate())

	bad := NewRelationship(a.EpisodeID, b.EpisodeID, "entangled_with", RelationshipMetadata{})
	assert.Error(t, bad.Validate())

	outOfRange := NewRelationship(a.EpisodeID, b.EpisodeID, RelBlocks, RelationshipMetadata{Priority: 11})
	assert.Error(t, outOfRange.Validate())
}

func TestDomainStatisticsReliability(t *testing.T) {
	assert.False(t, DomainStatistics{EpisodeCount: 4}.Reliable())
	assert.True(t, DomainStatistics{EpisodeCount: 5}.Reliable())
}
