// Package experiment provides the A/B sizing and significance calculator:
// pure functions over summary statistics, no event-level data.
package experiment

import (
	"math"

	serrors "github.com/shopsignal/shopsignal/internal/errors"
)

// Proportions summarizes one arm of a conversion experiment.
type Proportions struct {
	Successes int64
	Trials    int64
}

// Sample summarizes one arm of a continuous-metric experiment.
type Sample struct {
	N        int64
	Mean     float64
	Variance float64
}

// SignificanceResult is the outcome of a two-sided hypothesis test.
type SignificanceResult struct {
	Statistic        float64
	DegreesOfFreedom float64 // 0 for the z-test
	PValue           float64
	Significant      bool
}

// RequiredSampleSize returns the per-arm sample size needed to detect a
// relative lift over the baseline conversion rate with the given
// two-sided alpha and power, using the two-proportion z-test formula.
func RequiredSampleSize(baselineRate, minDetectableLift, alpha, power float64) (int64, error) {
	if err := checkRate("baseline_rate", baselineRate); err != nil {
		return 0, err
	}
	if err := checkRate("alpha", alpha); err != nil {
		return 0, err
	}
	if err := checkRate("power", power); err != nil {
		return 0, err
	}
	if minDetectableLift == 0 {
		return 0, serrors.NewInvalidParameter("min_detectable_lift", minDetectableLift)
	}
	target := baselineRate * (1 + minDetectableLift)
	if target <= 0 || target >= 1 {
		return 0, serrors.NewInvalidParameter("min_detectable_lift", minDetectableLift)
	}

	n := sampleSize(baselineRate, target, alpha, power)
	return int64(math.Ceil(n)), nil
}

// sampleSize is the unvalidated closed form shared with the bisection.
func sampleSize(p1, p2, alpha, power float64) float64 {
	zAlpha := zQuantile(1 - alpha/2)
	zBeta := zQuantile(power)
	pBar := (p1 + p2) / 2
	num := zAlpha*math.Sqrt(2*pBar*(1-pBar)) + zBeta*math.Sqrt(p1*(1-p1)+p2*(1-p2))
	diff := p2 - p1
	return num * num / (diff * diff)
}

// MinDetectableEffect inverts RequiredSampleSize: the smallest relative
// lift detectable with nPerArm subjects per arm, found by bisection.
func MinDetectableEffect(nPerArm int64, baselineRate, alpha, power float64) (float64, error) {
	if nPerArm < 1 {
		return 0, serrors.NewInvalidParameter("n_per_arm", nPerArm)
	}
	if err := checkRate("baseline_rate", baselineRate); err != nil {
		return 0, err
	}
	if err := checkRate("alpha", alpha); err != nil {
		return 0, err
	}
	if err := checkRate("power", power); err != nil {
		return 0, err
	}

	n := float64(nPerArm)

	// Required n decreases monotonically in the lift; bisect on the lift
	// between "no effect" and the largest lift keeping the target rate
	// below 1.
	lo := 0.0
	hi := (1-baselineRate)/baselineRate - 1e-12
	if sampleSize(baselineRate, baselineRate*(1+hi), alpha, power) > n {
		return 0, serrors.NewInsufficientData(serrors.StageExperiment,
			"n_per_arm too small to detect any lift at the requested alpha and power")
	}

	const tol = 1e-9
	for hi-lo > tol {
		mid := (lo + hi) / 2
		if sampleSize(baselineRate, baselineRate*(1+mid), alpha, power) > n {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi, nil
}

// SignificanceProportions runs a two-sided pooled two-proportion z-test.
func SignificanceProportions(control, treatment Proportions, alpha float64) (*SignificanceResult, error) {
	if err := checkRate("alpha", alpha); err != nil {
		return nil, err
	}
	if control.Trials < 1 {
		return nil, serrors.NewInvalidParameter("control.trials", control.Trials)
	}
	if treatment.Trials < 1 {
		return nil, serrors.NewInvalidParameter("treatment.trials", treatment.Trials)
	}
	if control.Successes < 0 || control.Successes > control.Trials {
		return nil, serrors.NewInvalidParameter("control.successes", control.Successes)
	}
	if treatment.Successes < 0 || treatment.Successes > treatment.Trials {
		return nil, serrors.NewInvalidParameter("treatment.successes", treatment.Successes)
	}

	n1, n2 := float64(control.Trials), float64(treatment.Trials)
	p1, p2 := float64(control.Successes)/n1, float64(treatment.Successes)/n2
	pooled := float64(control.Successes+treatment.Successes) / (n1 + n2)

	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		// Both arms all-success or all-failure: no evidence of difference.
		return &SignificanceResult{PValue: 1}, nil
	}

	z := (p2 - p1) / se
	p := 2 * normalUpperTail(math.Abs(z))
	return &SignificanceResult{Statistic: z, PValue: p, Significant: p < alpha}, nil
}

// SignificanceMeans runs Welch's two-sided t-test for unequal variances,
// with Welch-Satterthwaite degrees of freedom.
func SignificanceMeans(control, treatment Sample, alpha float64) (*SignificanceResult, error) {
	if err := checkRate("alpha", alpha); err != nil {
		return nil, err
	}
	if control.N < 2 {
		return nil, serrors.NewInvalidParameter("control.n", control.N)
	}
	if treatment.N < 2 {
		return nil, serrors.NewInvalidParameter("treatment.n", treatment.N)
	}
	if control.Variance < 0 {
		return nil, serrors.NewInvalidParameter("control.variance", control.Variance)
	}
	if treatment.Variance < 0 {
		return nil, serrors.NewInvalidParameter("treatment.variance", treatment.Variance)
	}

	v1 := control.Variance / float64(control.N)
	v2 := treatment.Variance / float64(treatment.N)
	se := math.Sqrt(v1 + v2)
	if se == 0 {
		return &SignificanceResult{PValue: 1}, nil
	}

	t := (treatment.Mean - control.Mean) / se
	df := (v1 + v2) * (v1 + v2) /
		(v1*v1/float64(control.N-1) + v2*v2/float64(treatment.N-1))

	p := 2 * (1 - studentTCDF(math.Abs(t), df))
	return &SignificanceResult{Statistic: t, DegreesOfFreedom: df, PValue: p, Significant: p < alpha}, nil
}

// checkRate rejects values outside the open unit interval.
func checkRate(field string, v float64) error {
	if math.IsNaN(v) || v <= 0 || v >= 1 {
		return serrors.NewInvalidParameter(field, v)
	}
	return nil
}

// normalUpperTail is P(Z > z) for the standard normal.
func normalUpperTail(z float64) float64 {
	return 0.5 * math.Erfc(z/math.Sqrt2)
}
