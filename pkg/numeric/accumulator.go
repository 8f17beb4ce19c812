// Package numeric provides numerically stable floating-point accumulation.
package numeric

// Accumulator sums float64 values using Kahan compensated summation, which
// bounds rounding error when adding many small monetary or quantity values.
// The zero value is ready to use.
type Accumulator struct {
	sum float64
	c   float64 // running compensation for lost low-order bits
}

// Add accumulates v.
func (a *Accumulator) Add(v float64) {
	y := v - a.c
	t := a.sum + y
	a.c = (t - a.sum) - y
	a.sum = t
}

// Sum returns the compensated total.
func (a *Accumulator) Sum() float64 {
	return a.sum
}

// Reset clears the accumulator back to zero.
func (a *Accumulator) Reset() {
	a.sum = 0
	a.c = 0
}

// Sum adds a series of values with compensation and returns the total.
func Sum(values ...float64) float64 {
	var acc Accumulator
	for _, v := range values {
		acc.Add(v)
	}
	return acc.Sum()
}
