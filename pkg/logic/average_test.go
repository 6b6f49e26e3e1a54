package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMovingAverage(t *testing.T) {
	m := NewMovingAverage(3)

	var testdata = []struct {
		push   float64
		expect float64
	}{
		// No range yet, the sample gets full weight
		{100, 100},
		// alpha = 0.33 * 100 / 200
		{200, 0.165*100 + 0.835*200},
		// alpha = 0.33 * 100 / 250
		{150, 0.132*183.5 + 0.868*150},
		// 100 evicted and becomes the variation base, alpha = 0.33 * 50 / 150
		{150, 0.11*154.422 + 0.89*150},
	}
	for _, d := range testdata {
		assert.InDelta(t, d.expect, m.Push(d.push), 1e-6)
	}
	assert.InDelta(t, 150.48642, m.Average(), 1e-6)
}

func TestMovingAverageConstant(t *testing.T) {
	m := NewMovingAverage(2)
	for i := 0; i < 5; i++ {
		assert.InDelta(t, 50.0, m.Push(50), 1e-9)
	}
}

func TestMovingAverageBounded(t *testing.T) {
	m := NewMovingAverage(defaultObservations)
	for i := 0; i < 20; i++ {
		v := 1000.0
		if i%2 == 1 {
			v = 3000.0
		}
		avg := m.Push(v)
		assert.GreaterOrEqual(t, avg, 1000.0)
		assert.LessOrEqual(t, avg, 3000.0)
	}
}
