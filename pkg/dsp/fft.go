package dsp

import "math"

// FFT computes the discrete Fourier transform of input using an iterative
// radix-2 algorithm. The input is zero-padded to the next power of two.
func FFT(input []float32) []complex128 {
	n := nextPow2(len(input))
	buf := make([]complex128, n)
	for i, v := range input {
		buf[i] = complex(float64(v), 0)
	}
	fftInPlace(buf)
	return buf
}

// IFFT computes the inverse transform. len(input) must be a power of two.
func IFFT(input []complex128) []complex128 {
	n := len(input)
	buf := make([]complex128, n)
	for i, v := range input {
		buf[i] = complex(real(v), -imag(v))
	}
	fftInPlace(buf)
	inv := 1 / float64(n)
	for i, v := range buf {
		buf[i] = complex(real(v)*inv, -imag(v)*inv)
	}
	return buf
}

func fftInPlace(buf []complex128) {
	n := len(buf)
	if n < 2 {
		return
	}

	// bit-reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wl := complex(math.Cos(angle), math.Sin(angle))
		for start := 0; start < n; start += length {
			w := complex(1, 0)
			half := length / 2
			for k := 0; k < half; k++ {
				even := buf[start+k]
				odd := buf[start+k+half] * w
				buf[start+k] = even + odd
				buf[start+k+half] = even - odd
				w *= wl
			}
		}
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
