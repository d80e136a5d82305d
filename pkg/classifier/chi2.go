package classifier

import "math"

// chi2Q returns the survival function of the chi-square distribution
// with df degrees of freedom (df must be even), evaluated at x2. This
// is the iterative series for even df: exp(-m) * sum(m^i / i!) for
// i in [0, df/2), with m = x2/2.
//
// exp(-m) underflows to zero for m > ~745; with the discriminator
// count capped well below that, df/2 is then always far smaller than m
// and the true value is itself indistinguishable from zero.
func chi2Q(x2 float64, df int) float64 {
	if df <= 0 {
		return 1
	}
	if x2 <= 0 {
		return 1
	}

	m := x2 / 2
	term := math.Exp(-m)
	sum := term
	for i := 1; i < df/2; i++ {
		term *= m / float64(i)
		sum += term
	}

	if math.IsNaN(sum) {
		return 0
	}
	return math.Min(sum, 1)
}
