//go:build !icicle

// Package gpu offloads NTT and MSM calls to an ICICLE CUDA device when the
// program is built with the 'icicle' tag and a device is available.
//
// Every entry point returns ok=false when the work was not offloaded; the
// caller then runs its CPU path. Results are bit-identical between the two
// paths.
package gpu

import (
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const HasIcicle = false

// Initialize reports whether a device is available. Without the 'icicle'
// build tag there never is one.
func Initialize() bool { return false }

func NttForward(a []fr.Element) bool { return false }

func NttInverse(a []fr.Element) bool { return false }

func MsmG1(bases []bn254.G1Affine, scalars []byte, scalarSize int) (bn254.G1Affine, bool) {
	return bn254.G1Affine{}, false
}

func MsmG2(bases []bn254.G2Affine, scalars []byte, scalarSize int) (bn254.G2Affine, bool) {
	return bn254.G2Affine{}, false
}
