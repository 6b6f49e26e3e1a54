package logic

import "math"

const defaultObservations = 10

// MovingAverage smooths a noisy series. The weight of the history follows
// the ratio between the range of the window and its total variation: a
// steady trend reacts fast, oscillations are damped.
type MovingAverage struct {
	values   []float64
	previous float64
	maxobs   int
	avg      float64
}

func NewMovingAverage(observations int) *MovingAverage {
	if observations <= 0 {
		observations = defaultObservations
	}
	return &MovingAverage{maxobs: observations}
}

// Push adds a sample and returns the new average
func (m *MovingAverage) Push(v float64) float64 {
	if len(m.values) >= m.maxobs {
		m.previous = m.values[0]
		m.values = m.values[1:]
	}
	m.values = append(m.values, v)

	omin, omax := m.values[0], m.values[0]
	var variation float64
	prev := m.previous
	for _, x := range m.values {
		omin = math.Min(omin, x)
		omax = math.Max(omax, x)
		variation += math.Abs(x - prev)
		prev = x
	}

	alpha := 0.5
	if variation != 0 {
		alpha = 0.33 * (omax - omin) / variation
	}
	m.avg = alpha*m.avg + (1.0-alpha)*v
	return m.avg
}

// Average returns the last computed average
func (m *MovingAverage) Average() float64 {
	return m.avg
}
