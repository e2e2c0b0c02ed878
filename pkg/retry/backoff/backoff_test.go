package backoff

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstant(t *testing.T) {
	s := Constant(time.Second)
	for i := uint(1); i < 5; i++ {
		assert.Equal(t, time.Second, s(i))
	}
}

func TestLinear(t *testing.T) {
	s := Linear(time.Second)
	assert.Equal(t, time.Second, s(1))
	assert.Equal(t, 2*time.Second, s(2))
	assert.Equal(t, 10*time.Second, s(10))
	assert.Equal(t, time.Duration(math.MaxInt64), Linear(math.MaxInt64/2)(3))
}

func TestExponential(t *testing.T) {
	s := Exponential(time.Second, 3)
	assert.Equal(t, time.Second, s(1))
	assert.Equal(t, 3*time.Second, s(2))
	assert.Equal(t, 27*time.Second, s(4))

	b := BinaryExponential(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 800*time.Millisecond, b(4))
	assert.Equal(t, time.Duration(math.MaxInt64), b(200))
}
