// Package fft provides an in-place radix-2 number theoretic transform over
// the BN254 scalar field, with a precomputed root-of-unity domain.
package fft

import (
	"errors"
	"math/big"
	"math/bits"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/zkfoundry/bn254core/internal/parallel"
	"github.com/zkfoundry/bn254core/logger"
)

var (
	// ErrDomainTooLarge is returned by NewDomain when the requested size
	// exceeds the two-adicity of the scalar field.
	ErrDomainTooLarge = errors.New("fft: domain size exceeds field two-adicity")

	// ErrSizeNotPowerOfTwo is returned when a transform input length is not
	// a power of two.
	ErrSizeNotPowerOfTwo = errors.New("fft: size must be a power of two")

	// ErrSizeTooLarge is returned when a transform input is larger than the
	// domain cardinality.
	ErrSizeTooLarge = errors.New("fft: size exceeds domain cardinality")
)

// Domain holds the precomputed roots of unity used by the transforms.
// It is immutable after construction and safe for concurrent use.
type Domain struct {
	Cardinality uint64
	TwoAdicity  uint32

	// Generator is a primitive Cardinality-th root of unity.
	Generator    fr.Element
	GeneratorInv fr.Element

	// FrMultiplicativeGen is the quadratic non-residue the generator is
	// derived from.
	FrMultiplicativeGen fr.Element

	// roots[i] = Generator^i, len == Cardinality
	roots []fr.Element

	// powTwoInv[k] = 2^-k, len == TwoAdicity+1
	powTwoInv []fr.Element
}

// NewDomain builds a domain of cardinality the next power of two >= maxSize.
// It fails with ErrDomainTooLarge when the scalar field has no root of unity
// of that order.
func NewDomain(maxSize uint64) (*Domain, error) {
	if maxSize == 0 {
		return nil, ErrSizeNotPowerOfTwo
	}
	start := time.Now()

	domainPow := uint32(bits.Len64(maxSize - 1))
	if maxSize == 1 {
		domainPow = 0
	}

	rMinusOne := new(big.Int).Sub(fr.Modulus(), big.NewInt(1))
	fieldTwoAdicity := trailingZeroBits(rMinusOne)
	if uint32(fieldTwoAdicity) < domainPow {
		return nil, ErrDomainTooLarge
	}

	d := &Domain{
		Cardinality: uint64(1) << domainPow,
		TwoAdicity:  domainPow,
	}

	// smallest multiplicative generator candidate that is a quadratic
	// non-residue, found by the Euler criterion
	rHalf := new(big.Int).Rsh(rMinusOne, 1)
	one := big.NewInt(1)
	nqr := big.NewInt(2)
	for new(big.Int).Exp(nqr, rHalf, fr.Modulus()).Cmp(one) == 0 {
		nqr.Add(nqr, one)
	}
	d.FrMultiplicativeGen.SetBigInt(nqr)

	// Generator = nqr^((r-1)/2^TwoAdicity)
	exp := new(big.Int).Rsh(rMinusOne, uint(domainPow))
	gen := new(big.Int).Exp(nqr, exp, fr.Modulus())
	d.Generator.SetBigInt(gen)
	d.GeneratorInv.Inverse(&d.Generator)

	d.roots = make([]fr.Element, d.Cardinality)
	d.roots[0].SetOne()
	if d.Cardinality > 1 {
		d.roots[1].Set(&d.Generator)
	}
	if d.Cardinality > 2 {
		// each worker seeds its span with one exponentiation, then walks it
		// with one multiplication per entry
		parallel.Execute(int(d.Cardinality)-2, func(start, end, _ int) {
			i := uint64(start) + 2
			d.roots[i].Exp(d.Generator, new(big.Int).SetUint64(i))
			for i++; i < uint64(end)+2; i++ {
				d.roots[i].Mul(&d.roots[i-1], &d.Generator)
			}
		})
	}

	d.powTwoInv = make([]fr.Element, domainPow+1)
	d.powTwoInv[0].SetOne()
	var twoInv fr.Element
	twoInv.SetUint64(2)
	twoInv.Inverse(&twoInv)
	for k := 1; k <= int(domainPow); k++ {
		d.powTwoInv[k].Mul(&d.powTwoInv[k-1], &twoInv)
	}

	log := logger.Logger().With().Str("package", "fft").Logger()
	log.Debug().
		Uint64("cardinality", d.Cardinality).
		Uint32("twoAdicity", d.TwoAdicity).
		Dur("took", time.Since(start)).
		Msg("domain built")

	return d, nil
}

func trailingZeroBits(v *big.Int) int {
	for i := 0; i < v.BitLen(); i++ {
		if v.Bit(i) != 0 {
			return i
		}
	}
	return v.BitLen()
}
