package patterns

import (
	"encoding/binary"
	"encoding/json"
	"hash/fnv"
	"math"

	"github.com/anchorhome/anchor/pkg/models"
)

// EmbeddingDim is the fixed dimensionality of pattern embeddings. Feature
// vectors are padded or truncated to this length so every stored pattern
// is comparable.
const EmbeddingDim = 50

// EmbedFunc converts a feature set to a fixed-length vector. It may fail
// when it depends on an external scoring service; callers fall back to
// SimpleEmbedding.
type EmbedFunc func(fs models.FeatureSet) ([]float32, error)

// Embed is the default deterministic embedding: each feature group is
// normalized into [0,1] slots by known scale factors.
func Embed(fs models.FeatureSet) ([]float32, error) {
	v := make([]float32, 0, EmbeddingDim)

	// Temporal
	v = append(v,
		float32(fs.Temporal.DayOfWeek)/6.0,
		float32(fs.Temporal.HourOfDay)/23.0,
		seasonSlot(fs.Temporal.Season),
		clamp01(float32(fs.Temporal.DaysSinceLast/30.0)),
	)

	// Content
	v = append(v,
		clamp01(float32(fs.Content.Length)/2000.0),
		float32(fs.Content.Sentiment+1)/2.0, // [-1,1] -> [0,1]
		clamp01(float32(fs.Content.Complexity)),
	)
	v = append(v, topicSlots(fs.Content.Topics, 8)...)

	// Context
	v = append(v,
		hashSlot(fs.Context.CaseStage),
		clamp01(float32(fs.Context.InteractionCount)/50.0),
		urgencySlot(fs.Context.Urgency),
		hashSlot(fs.Context.Servicer),
	)

	// Performance
	v = append(v,
		clamp01(float32(fs.Performance.ResponseTime.Seconds()/10.0)),
		boolSlot(fs.Performance.Resolved),
		boolSlot(fs.Performance.Escalated),
	)

	// Historical
	v = append(v,
		clamp01(float32(len(fs.Historical.PatternMatches))/10.0),
		clamp01(float32(len(fs.Historical.SuccessfulStrategies))/10.0),
	)

	return fitDimension(v), nil
}

// SimpleEmbedding is the degraded-accuracy fallback: a deterministic hash
// spread of the serialized feature set. Trades accuracy for availability
// when the richer embedding path is unavailable.
func SimpleEmbedding(fs models.FeatureSet) []float32 {
	raw, err := json.Marshal(fs)
	if err != nil {
		raw = []byte{}
	}

	v := make([]float32, EmbeddingDim)
	h := fnv.New32a()
	for i := 0; i < EmbeddingDim; i++ {
		h.Reset()
		h.Write(raw)
		h.Write([]byte{byte(i)})
		v[i] = float32(h.Sum32()%1000) / 1000.0
	}
	return v
}

// fitDimension pads with zeros or truncates to EmbeddingDim.
func fitDimension(v []float32) []float32 {
	if len(v) == EmbeddingDim {
		return v
	}
	if len(v) > EmbeddingDim {
		return v[:EmbeddingDim]
	}
	out := make([]float32, EmbeddingDim)
	copy(out, v)
	return out
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// PackFloat32 encodes a float32 vector as a compact little-endian BLOB,
// 4 bytes per float. Used by the Postgres pattern store.
func PackFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// UnpackFloat32 reconstructs a float32 vector from a packed BLOB.
// Returns nil if the input length is not a multiple of 4.
func UnpackFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func clamp01(f float32) float32 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func boolSlot(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

func seasonSlot(season string) float32 {
	switch season {
	case "winter":
		return 0.0
	case "spring":
		return 0.33
	case "summer":
		return 0.66
	case "fall":
		return 1.0
	}
	return 0.5
}

func urgencySlot(u models.Urgency) float32 {
	switch u {
	case models.UrgencyLow:
		return 0.0
	case models.UrgencyMedium:
		return 0.33
	case models.UrgencyHigh:
		return 0.66
	case models.UrgencyCritical:
		return 1.0
	}
	return 0.0
}

// hashSlot maps an arbitrary label into a stable [0,1] slot value.
func hashSlot(s string) float32 {
	if s == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(s))
	return float32(h.Sum32()%1000) / 1000.0
}

// topicSlots spreads topic labels across n slots by hash.
func topicSlots(topics []string, n int) []float32 {
	slots := make([]float32, n)
	for _, t := range topics {
		h := fnv.New32a()
		h.Write([]byte(t))
		slots[h.Sum32()%uint32(n)] = 1.0
	}
	return slots
}
