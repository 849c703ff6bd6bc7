package msm

import (
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/zkfoundry/bn254core/gpu"
	"github.com/zkfoundry/bn254core/internal/parallel"
	"github.com/zkfoundry/bn254core/logger"
)

// G1Jac is 96 bytes; pad buckets to two cache lines so neighbouring
// buckets never share one.
type g1Bucket struct {
	p bn254.G1Jac
	_ [32]byte
}

// G1 computes res = sum_i scalars[i] * bases[i]. Scalars are a contiguous
// little-endian buffer of len(bases)*scalarSize bytes, scalarSize >= 8.
func G1(res *bn254.G1Jac, bases []bn254.G1Affine, scalars []byte, scalarSize int, opts ...Option) error {
	cfg, err := newConfig(opts...)
	if err != nil {
		return err
	}
	if err := checkArgs(len(bases), scalars, scalarSize); err != nil {
		return err
	}
	return g1MultiExp(res, bases, scalars, scalarSize, nil, cfg)
}

// G1Masked computes the sum over the ragged interleaved subset described by
// sizes: base i contributes iff i/len(sizes) < sizes[i%len(sizes)].
func G1Masked(res *bn254.G1Jac, bases []bn254.G1Affine, scalars []byte, scalarSize int, sizes []uint64, opts ...Option) error {
	cfg, err := newConfig(opts...)
	if err != nil {
		return err
	}
	if err := checkArgs(len(bases), scalars, scalarSize); err != nil {
		return err
	}
	if err := checkMask(len(bases), sizes); err != nil {
		return err
	}
	return g1MultiExp(res, bases, scalars, scalarSize, sizes, cfg)
}

func g1MultiExp(res *bn254.G1Jac, bases []bn254.G1Affine, scalars []byte, scalarSize int, sizes []uint64, cfg Config) error {
	n := len(bases)
	start := time.Now()
	log := logger.Logger().With().Str("package", "msm").Str("group", "g1").Logger()
	defer func() {
		log.Debug().Int("n", n).Bool("masked", sizes != nil).Dur("took", time.Since(start)).Msg("multiexp")
	}()

	if n == 0 {
		*res = bn254.G1Jac{}
		return nil
	}
	if n == 1 {
		if (sizes != nil && !maskIncludes(0, len(sizes), sizes)) || bases[0].IsInfinity() {
			*res = bn254.G1Jac{}
			return nil
		}
		var q bn254.G1Jac
		q.FromAffine(&bases[0])
		res.ScalarMultiplication(&q, scalarBigInt(scalars, scalarSize, 0))
		return nil
	}

	// the device API carries no lane mask
	if sizes == nil {
		if aff, ok := gpu.MsmG1(bases, scalars, scalarSize); ok {
			res.FromAffine(&aff)
			return nil
		}
	}

	bitsPerChunk, nChunks, accsPerChunk := chunkLayout(n, scalarSize, cfg)
	nbWorkers := cfg.nbWorkers
	nx := len(sizes)

	accs := make([]g1Bucket, nbWorkers*accsPerChunk)

	var result bn254.G1Jac
	for chunk := nChunks - 1; chunk >= 0; chunk-- {
		if chunk != nChunks-1 {
			for i := 0; i < bitsPerChunk; i++ {
				result.DoubleAssign()
			}
		}
		bitStart := chunk * bitsPerChunk

		// scatter points into per-worker bucket stripes
		parallel.ExecuteWorkers(n, nbWorkers, func(start, end, worker int) {
			stripe := accs[worker*accsPerChunk : (worker+1)*accsPerChunk]
			for i := start; i < end; i++ {
				if sizes != nil && !maskIncludes(i, nx, sizes) {
					continue
				}
				if bases[i].IsInfinity() {
					continue
				}
				v := chunkValue(scalars, scalarSize, i, bitStart, bitsPerChunk)
				if v == 0 {
					continue
				}
				stripe[v].p.AddMixed(&bases[i])
			}
		})

		// fold stripes t >= 1 into stripe 0, zeroing them for the next chunk
		parallel.ExecuteWorkers(accsPerChunk, nbWorkers, func(start, end, _ int) {
			for b := start; b < end; b++ {
				for t := 1; t < nbWorkers; t++ {
					q := &accs[t*accsPerChunk+b]
					if q.p.Z.IsZero() {
						continue
					}
					accs[b].p.AddAssign(&q.p)
					q.p = bn254.G1Jac{}
				}
			}
		})

		chunkResult := g1Reduce(accs[:accsPerChunk], nbWorkers)
		result.AddAssign(&chunkResult)
	}

	*res = result
	return nil
}

// g1Reduce computes sum_b b*buckets[b].p and zeroes the buckets. Halving:
// sum over [0, m) equals the same sum over the folded lower half plus m/2
// times the sum of the upper half.
func g1Reduce(buckets []g1Bucket, nbWorkers int) bn254.G1Jac {
	m := len(buckets)
	if m == 1 {
		buckets[0].p = bn254.G1Jac{}
		return bn254.G1Jac{}
	}
	half := m / 2

	sides := make([]bn254.G1Jac, nbWorkers)
	parallel.ExecuteWorkers(half, nbWorkers, func(start, end, worker int) {
		for i := start; i < end; i++ {
			hi := &buckets[half+i]
			if hi.p.Z.IsZero() {
				continue
			}
			sides[worker].AddAssign(&hi.p)
			buckets[i].p.AddAssign(&hi.p)
			hi.p = bn254.G1Jac{}
		}
	})
	var side bn254.G1Jac
	for w := range sides {
		if !sides[w].Z.IsZero() {
			side.AddAssign(&sides[w])
		}
	}

	total := g1Reduce(buckets[:half], nbWorkers)
	for k := half; k > 1; k >>= 1 {
		side.DoubleAssign()
	}
	total.AddAssign(&side)
	return total
}
