package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotsAcquireRelease(t *testing.T) {
	s := NewSlots(2)
	assert.Equal(t, 2, s.Capacity())
	assert.Equal(t, 2, s.Available())

	assert.True(t, s.TryAcquire())
	assert.True(t, s.TryAcquire())
	assert.False(t, s.TryAcquire())
	assert.Equal(t, 2, s.InFlight())
	assert.Zero(t, s.Available())

	s.Release()
	assert.Equal(t, 1, s.InFlight())
	assert.True(t, s.TryAcquire())
}

func TestSlotsClampCapacity(t *testing.T) {
	s := NewSlots(0)
	assert.Equal(t, 1, s.Capacity())

	s = NewSlots(-5)
	assert.Equal(t, 1, s.Capacity())
}

func TestSlotsExtraReleaseIgnored(t *testing.T) {
	s := NewSlots(1)
	s.Release()
	assert.Zero(t, s.InFlight())
	assert.True(t, s.TryAcquire())
}
