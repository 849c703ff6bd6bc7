// Package msm computes multi scalar multiplications over BN254 G1 and G2
// with a parallel windowed bucket method.
//
// Scalars are passed as one contiguous little-endian byte buffer of
// n*scalarSize bytes. A masked variant restricts the sum to a ragged
// interleaved subset of the bases.
package msm

import (
	"encoding/binary"
	"errors"
	"math/big"
	"math/bits"

	"github.com/zkfoundry/bn254core/internal/parallel"
)

var (
	// ErrScalarSize is returned when scalarSize is below the 8 bytes the
	// chunk extraction reads at a time.
	ErrScalarSize = errors.New("msm: scalarSize must be at least 8")

	// ErrLengthMismatch is returned when the scalar buffer does not hold
	// exactly one scalar per base.
	ErrLengthMismatch = errors.New("msm: scalars length must be len(bases)*scalarSize")

	// ErrMaskShape is returned when the lane sizes of a masked call do not
	// describe a subset of the bases.
	ErrMaskShape = errors.New("msm: mask does not fit the bases")
)

const (
	defaultPackFactor   = 2
	defaultMinChunkBits = 2
	defaultMaxChunkBits = 16
)

// Config holds the tunables of a multi scalar multiplication.
type Config struct {
	packFactor   int
	minChunkBits int
	maxChunkBits int
	nbWorkers    int
}

// Option modifies a Config.
type Option func(*Config) error

// WithPackFactor sets the ratio of points per bucket targeted when sizing
// the window.
func WithPackFactor(f int) Option {
	return func(c *Config) error {
		if f < 1 {
			return errors.New("msm: pack factor must be >= 1")
		}
		c.packFactor = f
		return nil
	}
}

// WithMinChunkBits sets the lower clamp of the window size.
func WithMinChunkBits(b int) Option {
	return func(c *Config) error {
		if b < 1 {
			return errors.New("msm: min chunk bits must be >= 1")
		}
		c.minChunkBits = b
		return nil
	}
}

// WithMaxChunkBits sets the upper clamp of the window size.
func WithMaxChunkBits(b int) Option {
	return func(c *Config) error {
		if b < 1 || b > 31 {
			return errors.New("msm: max chunk bits must be in [1, 31]")
		}
		c.maxChunkBits = b
		return nil
	}
}

// WithNbWorkers sets the number of goroutines used by the engine.
func WithNbWorkers(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return errors.New("msm: number of workers must be >= 1")
		}
		c.nbWorkers = n
		return nil
	}
}

func newConfig(opts ...Option) (Config, error) {
	c := Config{
		packFactor:   defaultPackFactor,
		minChunkBits: defaultMinChunkBits,
		maxChunkBits: defaultMaxChunkBits,
		nbWorkers:    parallel.NbWorkers(),
	}
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return Config{}, err
		}
	}
	if c.minChunkBits > c.maxChunkBits {
		return Config{}, errors.New("msm: min chunk bits exceeds max chunk bits")
	}
	return c, nil
}

func checkArgs(n int, scalars []byte, scalarSize int) error {
	if scalarSize < 8 {
		return ErrScalarSize
	}
	if len(scalars) != n*scalarSize {
		return ErrLengthMismatch
	}
	return nil
}

func checkMask(n int, sizes []uint64) error {
	nx := len(sizes)
	if nx == 0 {
		return ErrMaskShape
	}
	for m, s := range sizes {
		if s == 0 {
			continue
		}
		if (s-1)*uint64(nx)+uint64(m) >= uint64(n) {
			return ErrMaskShape
		}
	}
	return nil
}

// maskIncludes reports whether base index i belongs to the ragged subset.
// Lane m = i % nx holds entries i/nx = 0..sizes[m]-1.
func maskIncludes(i, nx int, sizes []uint64) bool {
	return uint64(i/nx) < sizes[i%nx]
}

// chunkLayout sizes the windows for n points: floor(log2(n/packFactor))
// clamped to [minChunkBits, maxChunkBits].
func chunkLayout(n, scalarSize int, c Config) (bitsPerChunk, nChunks, accsPerChunk int) {
	bitsPerChunk = c.minChunkBits
	if perBucket := n / c.packFactor; perBucket > 0 {
		bitsPerChunk = bits.Len(uint(perBucket)) - 1
		if bitsPerChunk < c.minChunkBits {
			bitsPerChunk = c.minChunkBits
		}
		if bitsPerChunk > c.maxChunkBits {
			bitsPerChunk = c.maxChunkBits
		}
	}
	nChunks = (scalarSize*8 + bitsPerChunk - 1) / bitsPerChunk
	accsPerChunk = 1 << bitsPerChunk
	return
}

// chunkValue extracts bitsPerChunk bits of scalar idx starting at bitStart.
// The byte offset is clamped to scalarSize-8 so the 8-byte load never reads
// past the scalar; the shift compensates.
func chunkValue(scalars []byte, scalarSize, idx, bitStart, bitsPerChunk int) uint64 {
	byteStart := bitStart / 8
	if byteStart > scalarSize-8 {
		byteStart = scalarSize - 8
	}
	shift := uint(bitStart - byteStart*8)

	base := idx*scalarSize + byteStart
	v := binary.LittleEndian.Uint64(scalars[base : base+8])
	v >>= shift

	eff := bitsPerChunk
	if rem := scalarSize*8 - bitStart; rem < eff {
		eff = rem
	}
	return v & ((1 << uint(eff)) - 1)
}

// scalarBigInt decodes the little-endian scalar at index i.
func scalarBigInt(scalars []byte, scalarSize, i int) *big.Int {
	buf := make([]byte, scalarSize)
	for j := 0; j < scalarSize; j++ {
		buf[j] = scalars[i*scalarSize+scalarSize-1-j]
	}
	return new(big.Int).SetBytes(buf)
}
