package render

import "math"

// Norm maps data values onto [0,1] for a Colormap.
type Norm interface {
	Normalize(v float64) float64
	// Ticks returns the values labelled on the colour bar.
	Ticks() []float64
}

// Linear scales [Min,Max] onto [0,1].
type Linear struct {
	Min, Max float64
}

// Normalize implements Norm.
func (n Linear) Normalize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN()
	}
	if n.Max <= n.Min {
		return 0.5
	}
	return (v - n.Min) / (n.Max - n.Min)
}

// Ticks implements Norm.
func (n Linear) Ticks() []float64 {
	return []float64{n.Min, (n.Min + n.Max) / 2, n.Max}
}

// TwoSlope maps [Min,Center] onto [0,0.5] and [Center,Max] onto [0.5,1], so
// Center is always the middle colour. A side with no extent collapses to 0.5.
type TwoSlope struct {
	Min, Center, Max float64
}

// Normalize implements Norm.
func (n TwoSlope) Normalize(v float64) float64 {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return math.NaN()
	case v < n.Center:
		if n.Center <= n.Min {
			return 0.5
		}
		return math.Max(0, 0.5*(v-n.Min)/(n.Center-n.Min))
	default:
		if n.Max <= n.Center {
			return 0.5
		}
		return math.Min(1, 0.5+0.5*(v-n.Center)/(n.Max-n.Center))
	}
}

// Ticks implements Norm.
func (n TwoSlope) Ticks() []float64 {
	return []float64{n.Min, n.Center, n.Max}
}
