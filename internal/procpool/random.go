package procpool

import "math/rand/v2"

// RandomBuffer is a deterministic uniform source. Streams are derived from the run seed and a
// key sequence, so every rank that seeks to the same keys draws the same numbers no matter
// which goroutine it runs on.
type RandomBuffer struct {
	seed uint64
	rank *Rank
	pcg  *rand.PCG
	rng  *rand.Rand
}

func NewRandomBuffer(seed uint64, r *Rank) *RandomBuffer {
	pcg := rand.NewPCG(seed, mix(seed, 0))
	return &RandomBuffer{seed: seed, rank: r, pcg: pcg, rng: rand.New(pcg)}
}

// Random returns a number in [0,1).
func (b *RandomBuffer) Random() float64 { return b.rng.Float64() }

// RandomPlusMinusOne returns a number in [-1,1).
func (b *RandomBuffer) RandomPlusMinusOne() float64 { return 2*b.rng.Float64() - 1 }

// Rand exposes the underlying generator for helpers that take *rand.Rand.
func (b *RandomBuffer) Rand() *rand.Rand { return b.rng }

// Seek restarts the stream at the position identified by keys.
func (b *RandomBuffer) Seek(keys ...uint64) {
	h := b.seed
	for _, k := range keys {
		h = mix(h, k)
	}
	b.pcg.Seed(h, mix(h, 0x632be59bd9b4e019))
}

// Reset partitions the stream for strategy s: ranks sharing a division draw the same sequence.
func (b *RandomBuffer) Reset(s Strategy) {
	div := uint64(0)
	if b.rank != nil {
		div = uint64(b.rank.DivisionIndex(s))
	}
	b.Seek(0xd1b54a32d192ed03, uint64(s), div)
}

// mix folds k into h (golden-ratio combine plus the splitmix64 finaliser).
func mix(h, k uint64) uint64 {
	h ^= k + 0x9e3779b97f4a7c15 + (h << 6) + (h >> 2)
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31
	return h
}
