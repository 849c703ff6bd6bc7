package msm

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func randomFr(n int) []fr.Element {
	s := make([]fr.Element, n)
	for i := range s {
		s[i].SetRandom()
	}
	return s
}

// scalarsLE lays scalars out the way the engine reads them: contiguous
// little-endian, fr.Bytes each.
func scalarsLE(scalars []fr.Element) []byte {
	buf := make([]byte, len(scalars)*fr.Bytes)
	for i := range scalars {
		b := scalars[i].Bytes()
		for j := 0; j < fr.Bytes; j++ {
			buf[i*fr.Bytes+j] = b[fr.Bytes-1-j]
		}
	}
	return buf
}

func randomG1(n int) []bn254.G1Affine {
	g1Jac, _, _, _ := bn254.Generators()
	bases := make([]bn254.G1Affine, n)
	var k fr.Element
	var s big.Int
	for i := range bases {
		k.SetRandom()
		var p bn254.G1Jac
		p.ScalarMultiplication(&g1Jac, k.BigInt(&s))
		bases[i].FromJacobian(&p)
	}
	return bases
}

func randomG2(n int) []bn254.G2Affine {
	_, g2Jac, _, _ := bn254.Generators()
	bases := make([]bn254.G2Affine, n)
	var k fr.Element
	var s big.Int
	for i := range bases {
		k.SetRandom()
		var p bn254.G2Jac
		p.ScalarMultiplication(&g2Jac, k.BigInt(&s))
		bases[i].FromJacobian(&p)
	}
	return bases
}

func naiveG1(bases []bn254.G1Affine, scalars []fr.Element, include func(int) bool) bn254.G1Jac {
	var acc bn254.G1Jac
	var s big.Int
	for i := range bases {
		if include != nil && !include(i) {
			continue
		}
		var q, t bn254.G1Jac
		q.FromAffine(&bases[i])
		t.ScalarMultiplication(&q, scalars[i].BigInt(&s))
		acc.AddAssign(&t)
	}
	return acc
}

func naiveG2(bases []bn254.G2Affine, scalars []fr.Element, include func(int) bool) bn254.G2Jac {
	var acc bn254.G2Jac
	var s big.Int
	for i := range bases {
		if include != nil && !include(i) {
			continue
		}
		var q, t bn254.G2Jac
		q.FromAffine(&bases[i])
		t.ScalarMultiplication(&q, scalars[i].BigInt(&s))
		acc.AddAssign(&t)
	}
	return acc
}

func TestG1AgainstNaive(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 33, 257} {
		bases := randomG1(n)
		scalars := randomFr(n)

		var got bn254.G1Jac
		require.NoError(t, G1(&got, bases, scalarsLE(scalars), fr.Bytes))
		want := naiveG1(bases, scalars, nil)
		require.True(t, got.Equal(&want), "n=%d", n)
	}
}

func TestG2AgainstNaive(t *testing.T) {
	for _, n := range []int{0, 1, 2, 17, 65} {
		bases := randomG2(n)
		scalars := randomFr(n)

		var got bn254.G2Jac
		require.NoError(t, G2(&got, bases, scalarsLE(scalars), fr.Bytes))
		want := naiveG2(bases, scalars, nil)
		require.True(t, got.Equal(&want), "n=%d", n)
	}
}

func TestG1SmallScalarSize(t *testing.T) {
	const n = 50
	bases := randomG1(n)

	// 8-byte scalars
	buf := make([]byte, n*8)
	scalars := make([]fr.Element, n)
	for i := 0; i < n; i++ {
		v := uint64(i)*0x9e3779b97f4a7c15 + 1
		for j := 0; j < 8; j++ {
			buf[i*8+j] = byte(v >> (8 * j))
		}
		scalars[i].SetUint64(v)
	}

	var got bn254.G1Jac
	require.NoError(t, G1(&got, bases, buf, 8))
	want := naiveG1(bases, scalars, nil)
	require.True(t, got.Equal(&want))
}

func TestG1ZeroScalarsAndIdentityBases(t *testing.T) {
	const n = 40
	bases := randomG1(n)
	scalars := randomFr(n)

	// zero scalars and identity bases must not contribute
	for i := 0; i < n; i += 3 {
		scalars[i].SetZero()
	}
	for i := 1; i < n; i += 5 {
		bases[i] = bn254.G1Affine{}
	}

	var got bn254.G1Jac
	require.NoError(t, G1(&got, bases, scalarsLE(scalars), fr.Bytes))
	want := naiveG1(bases, scalars, func(i int) bool { return !bases[i].IsInfinity() })
	require.True(t, got.Equal(&want))
}

func TestG1AllZero(t *testing.T) {
	const n = 16
	bases := randomG1(n)
	scalars := make([]fr.Element, n)

	var got bn254.G1Jac
	require.NoError(t, G1(&got, bases, scalarsLE(scalars), fr.Bytes))
	require.True(t, got.Z.IsZero())
}

func TestG1TopBitScalar(t *testing.T) {
	// scalars with only their top bit set land in the trailing chunk,
	// whose extraction clamps the byte offset; two points keep the call
	// off the n=1 fast path
	bases := randomG1(2)
	buf := make([]byte, 2*fr.Bytes)
	buf[fr.Bytes-1] = 0x80
	buf[2*fr.Bytes-1] = 0x80

	var got bn254.G1Jac
	require.NoError(t, G1(&got, bases, buf, fr.Bytes))

	topBit := new(big.Int).Lsh(big.NewInt(1), uint(fr.Bytes*8-1))
	var want, q, tmp bn254.G1Jac
	for i := range bases {
		q.FromAffine(&bases[i])
		tmp.ScalarMultiplication(&q, topBit)
		want.AddAssign(&tmp)
	}
	require.True(t, got.Equal(&want))
}

func TestG1MaskedAgainstFilteredNaive(t *testing.T) {
	const nx = 4
	sizes := []uint64{7, 0, 12, 3}
	n := nx * 12
	bases := randomG1(n)
	scalars := randomFr(n)

	var got bn254.G1Jac
	require.NoError(t, G1Masked(&got, bases, scalarsLE(scalars), fr.Bytes, sizes))
	want := naiveG1(bases, scalars, func(i int) bool {
		return uint64(i/nx) < sizes[i%nx]
	})
	require.True(t, got.Equal(&want))
}

func TestG2MaskedAgainstFilteredNaive(t *testing.T) {
	const nx = 3
	sizes := []uint64{5, 8, 0}
	n := nx * 8
	bases := randomG2(n)
	scalars := randomFr(n)

	var got bn254.G2Jac
	require.NoError(t, G2Masked(&got, bases, scalarsLE(scalars), fr.Bytes, sizes))
	want := naiveG2(bases, scalars, func(i int) bool {
		return uint64(i/nx) < sizes[i%nx]
	})
	require.True(t, got.Equal(&want))
}

func TestG1MaskedEmptyLanes(t *testing.T) {
	const n = 8
	bases := randomG1(n)
	scalars := randomFr(n)

	var got bn254.G1Jac
	require.NoError(t, G1Masked(&got, bases, scalarsLE(scalars), fr.Bytes, []uint64{0, 0}))
	require.True(t, got.Z.IsZero())
}

func TestPreconditions(t *testing.T) {
	bases := randomG1(4)
	scalars := scalarsLE(randomFr(4))

	var res bn254.G1Jac
	require.ErrorIs(t, G1(&res, bases, scalars, 4), ErrScalarSize)
	require.ErrorIs(t, G1(&res, bases, scalars[:len(scalars)-1], fr.Bytes), ErrLengthMismatch)
	require.ErrorIs(t, G1Masked(&res, bases, scalars, fr.Bytes, nil), ErrMaskShape)
	require.ErrorIs(t, G1Masked(&res, bases, scalars, fr.Bytes, []uint64{5}), ErrMaskShape)

	var res2 bn254.G2Jac
	bases2 := randomG2(4)
	require.ErrorIs(t, G2(&res2, bases2, scalars, 7), ErrScalarSize)
	require.ErrorIs(t, G2Masked(&res2, bases2, scalars, fr.Bytes, []uint64{}), ErrMaskShape)
}

func TestOptions(t *testing.T) {
	bases := randomG1(20)
	scalars := randomFr(20)
	buf := scalarsLE(scalars)
	want := naiveG1(bases, scalars, nil)

	var got bn254.G1Jac
	require.NoError(t, G1(&got, bases, buf, fr.Bytes,
		WithPackFactor(4), WithMinChunkBits(3), WithMaxChunkBits(8), WithNbWorkers(2)))
	require.True(t, got.Equal(&want))

	require.Error(t, G1(&got, bases, buf, fr.Bytes, WithPackFactor(0)))
	require.Error(t, G1(&got, bases, buf, fr.Bytes, WithNbWorkers(0)))
	require.Error(t, G1(&got, bases, buf, fr.Bytes, WithMinChunkBits(10), WithMaxChunkBits(4)))
}

func TestG1Linearity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 10

	properties := gopter.NewProperties(parameters)
	properties.Property("msm(a||b) == msm(a) + msm(b)", prop.ForAll(
		func(na, nb uint8) bool {
			a := randomG1(int(na))
			b := randomG1(int(nb))
			sa := randomFr(int(na))
			sb := randomFr(int(nb))

			var ra, rb, rab bn254.G1Jac
			if err := G1(&ra, a, scalarsLE(sa), fr.Bytes); err != nil {
				return false
			}
			if err := G1(&rb, b, scalarsLE(sb), fr.Bytes); err != nil {
				return false
			}
			if err := G1(&rab, append(append([]bn254.G1Affine{}, a...), b...),
				scalarsLE(append(append([]fr.Element{}, sa...), sb...)), fr.Bytes); err != nil {
				return false
			}
			ra.AddAssign(&rb)
			return rab.Equal(&ra)
		},
		gen.UInt8Range(0, 64),
		gen.UInt8Range(0, 64),
	))
	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestChunkValue(t *testing.T) {
	// 16-byte scalar, value known bit by bit
	scalar := make([]byte, 16)
	for i := range scalar {
		scalar[i] = byte(i + 1)
	}

	// whole scalar reassembled from 11-bit chunks
	want := new(big.Int)
	for i := 15; i >= 0; i-- {
		want.Lsh(want, 8)
		want.Or(want, big.NewInt(int64(scalar[i])))
	}

	got := new(big.Int)
	const c = 11
	nChunks := (16*8 + c - 1) / c
	for chunk := nChunks - 1; chunk >= 0; chunk-- {
		got.Lsh(got, c)
		got.Or(got, new(big.Int).SetUint64(chunkValue(scalar, 16, 0, chunk*c, c)))
	}
	require.Zero(t, got.Cmp(want))
}
