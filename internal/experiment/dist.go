package experiment

import "math"

// zQuantile returns the standard normal quantile for probability p in
// (0, 1), via the inverse error function.
func zQuantile(p float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*p-1)
}

// studentTCDF returns P(T <= t) for Student's t distribution with df
// degrees of freedom, via the regularized incomplete beta function.
func studentTCDF(t, df float64) float64 {
	if t == 0 {
		return 0.5
	}
	x := df / (df + t*t)
	tail := 0.5 * regIncBeta(df/2, 0.5, x)
	if t > 0 {
		return 1 - tail
	}
	return tail
}

// regIncBeta computes the regularized incomplete beta function I_x(a, b)
// with the standard continued-fraction expansion (Lentz's method).
func regIncBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lbeta := lgamma(a+b) - lgamma(a) - lgamma(b)
	front := math.Exp(lbeta + a*math.Log(x) + b*math.Log(1-x))

	// The continued fraction converges fast for x < (a+1)/(a+b+2);
	// otherwise use the symmetry I_x(a,b) = 1 - I_{1-x}(b,a).
	if x >= (a+1)/(a+b+2) {
		return 1 - regIncBeta(b, a, 1-x)
	}

	const maxIter = 200
	const eps = 1e-14
	const tiny = 1e-30

	c := 1.0
	d := 1 - (a+b)*x/(a+1)
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	result := d

	for m := 1; m <= maxIter; m++ {
		fm := float64(m)

		num := fm * (b - fm) * x / ((a + 2*fm - 1) * (a + 2*fm))
		d = 1 + num*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + num/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		result *= d * c

		num = -(a + fm) * (a + b + fm) * x / ((a + 2*fm) * (a + 2*fm + 1))
		d = 1 + num*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + num/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		delta := d * c
		result *= delta

		if math.Abs(delta-1) < eps {
			break
		}
	}
	return front * result / a
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
