package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"

	"github.com/kozaktomas/voter-gate/internal/embedding"
)

const defaultDevDim = 128

// DevEmbedder returns pseudo-embeddings seeded by the image content. The same
// bytes always produce the same vector, different bytes are close to
// orthogonal. Development only.
type DevEmbedder struct {
	model string
	dim   int
}

func NewDevEmbedder(model string, dim int) *DevEmbedder {
	if dim <= 0 {
		dim = defaultDevDim
	}
	if model == "" {
		model = "dev-random"
	}
	return &DevEmbedder{model: model, dim: dim}
}

func (d *DevEmbedder) Name() string  { return NameDev }
func (d *DevEmbedder) Model() string { return d.model }

func (d *DevEmbedder) Embed(ctx context.Context, image []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, noFace()
	}

	sum := sha256.Sum256(image)
	rng := rand.New(rand.NewPCG(binary.LittleEndian.Uint64(sum[0:8]), binary.LittleEndian.Uint64(sum[8:16])))

	vec := make(embedding.Vector, d.dim)
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
	}
	return &Result{Vector: vec, Provider: NameDev, Model: d.model}, nil
}
