package nn

import (
	"math/rand"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
)

// Init fills freshly built parameters. It is seeded so that two heads built
// from the same configuration hold identical weights.
type Init struct {
	rng *rand.Rand
}

// NewInit creates an initializer seeded with seed.
func NewInit(seed int64) *Init {
	return &Init{rng: rand.New(rand.NewSource(seed))}
}

// XavierNormal fills an (in, out) weight with N(0, gain^2 * 2 / (in + out)).
func (i *Init) XavierNormal(t *tensor.Dense, gain float32) {
	s := t.Shape()
	fanIn, fanOut := s[0], s[len(s)-1]
	std := gain * math32.Sqrt(2/float32(fanIn+fanOut))
	i.Normal(t, std)
}

// Normal fills t with N(0, std^2).
func (i *Init) Normal(t *tensor.Dense, std float32) {
	data := Values(t)
	for k := range data {
		data[k] = float32(i.rng.NormFloat64()) * std
	}
}

// Uniform fills t with U(-bound, bound).
func (i *Init) Uniform(t *tensor.Dense, bound float32) {
	data := Values(t)
	for k := range data {
		data[k] = (2*i.rng.Float32() - 1) * bound
	}
}

// Fill sets every element of t to v.
func Fill(t *tensor.Dense, v float32) {
	data := Values(t)
	for k := range data {
		data[k] = v
	}
}

// vector allocates a 1-d float32 tensor.
func vector(n int) *tensor.Dense {
	return tensor.New(tensor.WithShape(n), tensor.WithBacking(make([]float32, n)))
}
