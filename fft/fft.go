package fft

import (
	"math/big"
	"math/bits"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/zkfoundry/bn254core/gpu"
	"github.com/zkfoundry/bn254core/internal/parallel"
)

// FFT computes the forward transform of a in place. len(a) must be a power
// of two no larger than the domain cardinality.
func (d *Domain) FFT(a []fr.Element) error {
	if err := d.checkSize(len(a)); err != nil {
		return err
	}
	if gpu.NttForward(a) {
		return nil
	}
	d.fftCPU(a)
	return nil
}

// FFTInverse computes the inverse transform of a in place.
func (d *Domain) FFTInverse(a []fr.Element) error {
	if err := d.checkSize(len(a)); err != nil {
		return err
	}
	if gpu.NttInverse(a) {
		return nil
	}
	d.fftCPU(a)

	// the inverse of the forward transform is its mirror image scaled by 1/n
	n := len(a)
	logN := bits.TrailingZeros(uint(n))
	scale := d.powTwoInv[logN]
	a[0].Mul(&a[0], &scale)
	a[n/2].Mul(&a[n/2], &scale)
	parallel.Execute(n/2-1, func(start, end, _ int) {
		for ii := start; ii < end; ii++ {
			i := ii + 1
			j := n - i
			var tmp fr.Element
			tmp.Mul(&a[i], &scale)
			a[i].Mul(&a[j], &scale)
			a[j].Set(&tmp)
		}
	})
	return nil
}

// FFTCoset evaluates a on the coset shift·H by scaling a[i] by shift^i
// before the forward transform.
func (d *Domain) FFTCoset(a []fr.Element, shift fr.Element) error {
	if err := d.checkSize(len(a)); err != nil {
		return err
	}
	scaleByPowers(a, shift)
	return d.FFT(a)
}

// FFTInverseCoset interpolates a from its evaluations on the coset shift·H,
// applying the inverse scaling after the inverse transform.
func (d *Domain) FFTInverseCoset(a []fr.Element, shift fr.Element) error {
	if err := d.FFTInverse(a); err != nil {
		return err
	}
	var shiftInv fr.Element
	shiftInv.Inverse(&shift)
	scaleByPowers(a, shiftInv)
	return nil
}

func (d *Domain) checkSize(n int) error {
	if n == 0 || n&(n-1) != 0 {
		return ErrSizeNotPowerOfTwo
	}
	if uint64(n) > d.Cardinality {
		return ErrSizeTooLarge
	}
	return nil
}

func (d *Domain) fftCPU(a []fr.Element) {
	n := len(a)
	BitReverse(a)

	logN := bits.TrailingZeros(uint(n))
	for s := 1; s <= logN; s++ {
		mdiv2 := 1 << (s - 1)
		shift := d.TwoAdicity - uint32(s)
		parallel.Execute(n/2, func(start, end, _ int) {
			var t, u fr.Element
			for b := start; b < end; b++ {
				j := b & (mdiv2 - 1)
				k := (b >> (s - 1)) << s
				t.Mul(&d.roots[uint64(j)<<shift], &a[k+j+mdiv2])
				u.Set(&a[k+j])
				a[k+j].Add(&u, &t)
				a[k+j+mdiv2].Sub(&u, &t)
			}
		})
	}
}

// BitReverse permutes a in place so that a[i] and a[rev(i)] are swapped,
// rev being the bit reversal on log2(len(a)) bits. It is an involution.
func BitReverse(a []fr.Element) {
	n := uint64(len(a))
	if n <= 2 {
		return
	}
	nn := uint64(64 - bits.TrailingZeros64(n))
	parallel.Execute(int(n), func(start, end, _ int) {
		for i := uint64(start); i < uint64(end); i++ {
			irev := bits.Reverse64(i) >> nn
			if irev > i {
				a[i], a[irev] = a[irev], a[i]
			}
		}
	})
}

func scaleByPowers(a []fr.Element, shift fr.Element) {
	if len(a) == 0 {
		return
	}
	parallel.Execute(len(a), func(start, end, _ int) {
		var pow fr.Element
		pow.Exp(shift, new(big.Int).SetUint64(uint64(start)))
		for i := start; i < end; i++ {
			a[i].Mul(&a[i], &pow)
			pow.Mul(&pow, &shift)
		}
	})
}
