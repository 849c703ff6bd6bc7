//go:build icicle

package gpu

import (
	"math/bits"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/fft"
	"golang.org/x/sync/errgroup"

	icicle_core "github.com/ingonyama-zk/icicle-gnark/v3/wrappers/golang/core"
	icicle_bn254 "github.com/ingonyama-zk/icicle-gnark/v3/wrappers/golang/curves/bn254"
	icicle_g2 "github.com/ingonyama-zk/icicle-gnark/v3/wrappers/golang/curves/bn254/g2"
	icicle_msm "github.com/ingonyama-zk/icicle-gnark/v3/wrappers/golang/curves/bn254/msm"
	icicle_ntt "github.com/ingonyama-zk/icicle-gnark/v3/wrappers/golang/curves/bn254/ntt"
	icicle_runtime "github.com/ingonyama-zk/icicle-gnark/v3/wrappers/golang/runtime"

	"github.com/zkfoundry/bn254core/internal/parallel"
	"github.com/zkfoundry/bn254core/logger"
)

const HasIcicle = true

var (
	initOnce sync.Once
	initOK   bool
	device   icicle_runtime.Device
)

// Initialize loads the ICICLE backend and selects the first CUDA device.
// The outcome is cached; concurrent callers are safe. It returns false when
// no device is usable, in which case every offload call returns false too.
func Initialize() bool {
	initOnce.Do(func() {
		log := logger.Logger().With().Str("package", "gpu").Logger()
		if status := icicle_runtime.LoadBackendFromEnvOrDefault(); status != icicle_runtime.Success {
			log.Debug().Str("status", status.AsString()).Msg("icicle backend load failed, staying on cpu")
			return
		}
		nbDev, status := icicle_runtime.GetDeviceCount()
		if status != icicle_runtime.Success || nbDev == 0 {
			log.Debug().Msg("no cuda device detected, staying on cpu")
			return
		}
		device = icicle_runtime.CreateDevice("CUDA", 0)
		initOK = true
		log.Info().Int("nbDev", nbDev).Msg("icicle cuda backend initialized")
	})
	return initOK
}

// onDevice runs f pinned to the selected device and waits for it.
func onDevice(f func()) {
	done := make(chan struct{})
	icicle_runtime.RunOnDevice(&device, func(args ...any) {
		defer close(done)
		f()
	})
	<-done
}

var (
	domainMu sync.Mutex
	domains  bitset.BitSet
)

// ensureDomain makes sure the device twiddle domain covers transforms of
// size 2^logn. The domain built for the largest size seen so far covers all
// smaller sizes; growing it releases and rebuilds once.
func ensureDomain(logn uint) bool {
	domainMu.Lock()
	defer domainMu.Unlock()
	if domains.Test(logn) {
		return true
	}
	if top, any := topDomain(); any && logn < top {
		domains.Set(logn)
		return true
	}

	gen, err := fft.Generator(1 << logn)
	if err != nil {
		return false
	}
	genBits := gen.Bits()
	var rou icicle_bn254.ScalarField
	rou = rou.FromLimbs(icicle_core.ConvertUint64ArrToUint32Arr(genBits[:]))

	ok := false
	onDevice(func() {
		if domains.Any() {
			if status := icicle_ntt.ReleaseDomain(); status != icicle_runtime.Success {
				return
			}
		}
		status := icicle_ntt.InitDomain(rou, icicle_core.GetDefaultNTTInitDomainConfig())
		ok = status == icicle_runtime.Success
	})
	if ok {
		domains.Set(logn)
	}
	return ok
}

func topDomain() (uint, bool) {
	top, any := uint(0), false
	for i, e := domains.NextSet(0); e; i, e = domains.NextSet(i + 1) {
		top, any = i, true
	}
	return top, any
}

// NttForward runs the forward transform of a on the device, natural
// ordering in and out. len(a) must be a power of two.
func NttForward(a []fr.Element) bool {
	return ntt(a, icicle_core.KForward)
}

// NttInverse runs the inverse transform, including the 1/n scaling.
func NttInverse(a []fr.Element) bool {
	return ntt(a, icicle_core.KInverse)
}

func ntt(a []fr.Element, dir icicle_core.NTTDir) bool {
	n := len(a)
	if n == 0 || n&(n-1) != 0 {
		return false
	}
	if !Initialize() {
		return false
	}
	if !ensureDomain(uint(bits.TrailingZeros(uint(n)))) {
		return false
	}

	host := icicle_core.HostSliceFromElements(a)
	cfg := icicle_ntt.GetDefaultNttConfig()
	cfg.Ordering = icicle_core.KNN

	var status icicle_runtime.EIcicleError
	onDevice(func() {
		status = icicle_ntt.Ntt(host, dir, &cfg, host)
	})
	return status == icicle_runtime.Success
}

// MsmG1 runs a G1 multi scalar multiplication on the device. Scalars must
// be fr.Bytes wide; other widths fall back to the CPU path.
func MsmG1(bases []bn254.G1Affine, scalars []byte, scalarSize int) (bn254.G1Affine, bool) {
	if scalarSize != fr.Bytes || len(bases) == 0 {
		return bn254.G1Affine{}, false
	}
	if !Initialize() {
		return bn254.G1Affine{}, false
	}

	frScalars := decodeScalars(scalars, len(bases))
	scalarsHost := icicle_core.HostSliceFromElements(frScalars)
	basesHost := icicle_core.HostSlice[bn254.G1Affine](bases)

	cfg := icicle_msm.GetDefaultMSMConfig()
	cfg.AreScalarsMontgomeryForm = true
	cfg.AreBasesMontgomeryForm = true

	out := make(icicle_core.HostSlice[icicle_bn254.Projective], 1)
	var status icicle_runtime.EIcicleError
	onDevice(func() {
		status = icicle_msm.Msm(scalarsHost, basesHost, &cfg, out)
	})
	if status != icicle_runtime.Success {
		return bn254.G1Affine{}, false
	}
	return g1ProjectiveToAffine(&out[0]), true
}

// MsmG2 is MsmG1 over G2.
func MsmG2(bases []bn254.G2Affine, scalars []byte, scalarSize int) (bn254.G2Affine, bool) {
	if scalarSize != fr.Bytes || len(bases) == 0 {
		return bn254.G2Affine{}, false
	}
	if !Initialize() {
		return bn254.G2Affine{}, false
	}

	frScalars := decodeScalars(scalars, len(bases))
	scalarsHost := icicle_core.HostSliceFromElements(frScalars)
	basesHost := icicle_core.HostSlice[bn254.G2Affine](bases)

	cfg := icicle_g2.G2GetDefaultMSMConfig()
	cfg.AreScalarsMontgomeryForm = true
	cfg.AreBasesMontgomeryForm = true

	out := make(icicle_core.HostSlice[icicle_g2.G2Projective], 1)
	var status icicle_runtime.EIcicleError
	onDevice(func() {
		status = icicle_g2.G2Msm(scalarsHost, basesHost, &cfg, out)
	})
	if status != icicle_runtime.Success {
		return bn254.G2Affine{}, false
	}
	return g2ProjectiveToAffine(&out[0]), true
}

// decodeScalars turns the contiguous little-endian buffer into field
// elements, one goroutine per worker span.
func decodeScalars(scalars []byte, n int) []fr.Element {
	out := make([]fr.Element, n)
	var g errgroup.Group
	nbWorkers := parallel.NbWorkers()
	span := (n + nbWorkers - 1) / nbWorkers
	for start := 0; start < n; start += span {
		end := start + span
		if end > n {
			end = n
		}
		g.Go(func() error {
			var be [fr.Bytes]byte
			for i := start; i < end; i++ {
				le := scalars[i*fr.Bytes : (i+1)*fr.Bytes]
				for j := 0; j < fr.Bytes; j++ {
					be[j] = le[fr.Bytes-1-j]
				}
				out[i].SetBytes(be[:])
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// g1ProjectiveToAffine maps the device result to a gnark affine point;
// z = 0 is the group identity.
func g1ProjectiveToAffine(p *icicle_bn254.Projective) bn254.G1Affine {
	bz := p.Z.ToBytesLittleEndian()
	az, _ := fp.LittleEndian.Element((*[fp.Bytes]byte)(bz))
	if az.IsZero() {
		return bn254.G1Affine{}
	}
	bx := p.X.ToBytesLittleEndian()
	by := p.Y.ToBytesLittleEndian()
	ax, _ := fp.LittleEndian.Element((*[fp.Bytes]byte)(bx))
	ay, _ := fp.LittleEndian.Element((*[fp.Bytes]byte)(by))

	var zInv fp.Element
	zInv.Inverse(&az)
	ax.Mul(&ax, &zInv)
	ay.Mul(&ay, &zInv)
	return bn254.G1Affine{X: ax, Y: ay}
}

func g2ProjectiveToAffine(p *icicle_g2.G2Projective) bn254.G2Affine {
	bz := p.Z.ToBytesLittleEndian()
	bx := p.X.ToBytesLittleEndian()
	by := p.Y.ToBytesLittleEndian()

	var aff bn254.G2Affine
	z := aff.X
	z.A0, _ = fp.LittleEndian.Element((*[fp.Bytes]byte)(bz[:fp.Bytes]))
	z.A1, _ = fp.LittleEndian.Element((*[fp.Bytes]byte)(bz[fp.Bytes:]))
	if z.IsZero() {
		return bn254.G2Affine{}
	}

	aff.X.A0, _ = fp.LittleEndian.Element((*[fp.Bytes]byte)(bx[:fp.Bytes]))
	aff.X.A1, _ = fp.LittleEndian.Element((*[fp.Bytes]byte)(bx[fp.Bytes:]))
	aff.Y.A0, _ = fp.LittleEndian.Element((*[fp.Bytes]byte)(by[:fp.Bytes]))
	aff.Y.A1, _ = fp.LittleEndian.Element((*[fp.Bytes]byte)(by[fp.Bytes:]))

	z.Inverse(&z)
	aff.X.Mul(&aff.X, &z)
	aff.Y.Mul(&aff.Y, &z)
	return aff
}
