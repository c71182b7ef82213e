package patterns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorhome/anchor/pkg/models"
)

func TestEmbedIsDeterministic(t *testing.T) {
	fs := hardshipFeatures(14)

	v1, err := Embed(fs)
	require.NoError(t, err)
	v2, err := Embed(fs)
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, EmbeddingDim)
}

func TestEmbedSeparatesDistinctSituations(t *testing.T) {
	calm, err := Embed(hardshipFeatures(10))
	require.NoError(t, err)
	crisis, err := Embed(escalationFeatures())
	require.NoError(t, err)

	same := CosineSimilarity(calm, calm)
	cross := CosineSimilarity(calm, crisis)

	assert.InDelta(t, 1.0, float64(same), 1e-5)
	assert.Less(t, cross, same)
}

func TestEmbedNormalizesToUnitRange(t *testing.T) {
	fs := models.FeatureSet{
		Content: models.ContentFeatures{
			Length:     1_000_000, // far beyond the normalization cap
			Sentiment:  -1,
			Complexity: 1,
		},
		Performance: models.PerformanceFeatures{
			ResponseTime: time.Hour,
		},
		Temporal: models.TemporalFeatures{
			DaysSinceLast: 400,
		},
	}

	vec, err := Embed(fs)
	require.NoError(t, err)
	for i, v := range vec {
		assert.GreaterOrEqual(t, v, float32(0), "dimension %d", i)
		assert.LessOrEqual(t, v, float32(1), "dimension %d", i)
	}
}

func TestSimpleEmbeddingIsDeterministic(t *testing.T) {
	fs := escalationFeatures()
	assert.Equal(t, SimpleEmbedding(fs), SimpleEmbedding(fs))
	assert.Len(t, SimpleEmbedding(fs), EmbeddingDim)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	vec := []float32{0, 0.25, -1.5, 3.14159, 1}
	assert.Equal(t, vec, UnpackFloat32(PackFloat32(vec)))
	assert.Empty(t, UnpackFloat32(nil))

	// A blob that is not a whole number of floats is rejected.
	assert.Nil(t, UnpackFloat32([]byte{1, 2, 3}))
}

func TestKMeansClustersSeparatedGroups(t *testing.T) {
	var vectors [][]float32
	for i := 0; i < 6; i++ {
		v := make([]float32, EmbeddingDim)
		v[0] = 1
		vectors = append(vectors, v)
	}
	for i := 0; i < 6; i++ {
		v := make([]float32, EmbeddingDim)
		v[1] = 1
		vectors = append(vectors, v)
	}

	clusters := kmeansCluster(vectors, 2)
	require.Len(t, clusters, 2)

	for _, cl := range clusters {
		assert.Len(t, cl.Members, 6)
		assert.InDelta(t, 1.0, cl.Cohesion, 1e-5)

		// No cluster mixes the two groups.
		first := cl.Members[0] < 6
		for _, m := range cl.Members {
			assert.Equal(t, first, m < 6)
		}
	}
}
