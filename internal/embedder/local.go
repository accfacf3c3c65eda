package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// LocalDimension is the vector size of the local provider.
const LocalDimension = 384

// localProvider produces deterministic embeddings from content hashes.
// It needs no credentials or network and backs development and tests;
// vectors are stable across platforms but carry no semantic signal.
type localProvider struct {
	model string
}

func newLocalProvider(model string) Provider {
	if model == "" {
		model = "hash-384"
	}
	return &localProvider{model: model}
}

func (l *localProvider) Embed(_ context.Context, texts []string, _ InputType) ([][]float32, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = normalize(hashVector(t))
	}
	return out, nil
}

// hashVector expands the SHA-256 of the text into LocalDimension
// pseudo-random components by hashing counter-suffixed copies.
func hashVector(text string) []float32 {
	v := make([]float32, LocalDimension)
	seed := sha256.Sum256([]byte(text))
	var counter [8]byte
	filled := 0
	for filled < LocalDimension {
		binary.LittleEndian.PutUint64(counter[:], uint64(filled))
		h := sha256.New()
		h.Write(seed[:])
		h.Write(counter[:])
		block := h.Sum(nil)
		for i := 0; i+4 <= len(block) && filled < LocalDimension; i += 4 {
			bits := binary.LittleEndian.Uint32(block[i : i+4])
			// reinterpret as signed so components center on zero
			v[filled] = float32(int32(bits)) / float32(1<<31)
			filled++
		}
	}
	return v
}

func (l *localProvider) Dim() int                 { return LocalDimension }
func (l *localProvider) ModelID() string          { return ProviderLocal + ":" + l.model }
func (l *localProvider) MaxTokensPerRequest() int { return 1 << 20 }
func (l *localProvider) Close() error             { return nil }
