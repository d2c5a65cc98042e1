package category

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccl/workqueue/pkg/types"
)

func TestFixedModeUsesUserValue(t *testing.T) {
	cores := 4.0
	c := New("fixed-cat", types.ModeFixed, types.ResourceVector{Cores: &cores})
	assert.Equal(t, 4.0, c.Allocate(types.ResourceCores))

	c.Observe(map[types.Resource]float64{types.ResourceCores: 8}, time.Second)
	assert.Equal(t, 4.0, c.Allocate(types.ResourceCores), "fixed mode ignores observations")
}

func TestMaxModeFirstAttemptUsesObservedMax(t *testing.T) {
	c := New("max-cat", types.ModeMax, types.ResourceVector{})
	c.Observe(map[types.Resource]float64{types.ResourceMemoryMB: 1024}, time.Second)
	c.Observe(map[types.Resource]float64{types.ResourceMemoryMB: 2048}, time.Second)

	assert.Equal(t, 2048.0, c.Allocate(types.ResourceMemoryMB))
}

func TestMaxModeRetryUsesUserMax(t *testing.T) {
	mem := int64(4096)
	c := New("max-cat", types.ModeMax, types.ResourceVector{MemoryMB: &mem})
	alloc, err := c.AllocateForLabel(types.ResourceMemoryMB, types.LabelMax)
	require.NoError(t, err)
	assert.Equal(t, 4096.0, alloc)
}

func TestMinWastePrefersLowerAllocationWhenOverflowIsCheap(t *testing.T) {
	c := New("waste-cat", types.ModeMinWaste, types.ResourceVector{})
	for i := 0; i < 9; i++ {
		c.Observe(map[types.Resource]float64{types.ResourceCores: 2}, 10*time.Second)
	}
	// one short-lived outlier: retrying it at a_max costs little, so the
	// lower allocation still minimizes expected waste across the category.
	c.Observe(map[types.Resource]float64{types.ResourceCores: 16}, time.Second)

	alloc := c.Allocate(types.ResourceCores)
	assert.Equal(t, 2.0, alloc)
}

func TestGreedyBucketingGrowsBucketsAndFindsNext(t *testing.T) {
	c := New("bucket-cat", types.ModeGreedyBucketing, types.ResourceVector{})
	c.Observe(map[types.Resource]float64{types.ResourceDiskMB: 1000}, time.Second)
	c.Observe(map[types.Resource]float64{types.ResourceDiskMB: 5000}, time.Second)

	first := c.Allocate(types.ResourceDiskMB)
	assert.Equal(t, 1000.0, first)

	next, ok := c.NextBucket(types.ResourceDiskMB, first)
	require.True(t, ok)
	assert.Equal(t, 5000.0, next)
}

func TestBucketingAllocateForLabelMaxEscalatesToLargestBucket(t *testing.T) {
	c := New("bucket-cat", types.ModeGreedyBucketing, types.ResourceVector{})
	c.Observe(map[types.Resource]float64{types.ResourceDiskMB: 1000}, time.Second)
	c.Observe(map[types.Resource]float64{types.ResourceDiskMB: 5000}, time.Second)

	first, err := c.AllocateForLabel(types.ResourceDiskMB, types.LabelFirst)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, first)

	escalated, err := c.AllocateForLabel(types.ResourceDiskMB, types.LabelMax)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, escalated, "a LabelMax retry must not request the same bucket that just overflowed")
}

func TestSteadyStateRequiresCompletionsAndAge(t *testing.T) {
	c := New("steady-cat", types.ModeMax, types.ResourceVector{})
	for i := 0; i < 30; i++ {
		c.Observe(map[types.Resource]float64{types.ResourceCores: 1}, time.Second)
	}
	assert.False(t, c.SteadyState(), "max was updated recently, should not yet be steady")
}

func TestNextLabelFixedModeFailsOnOverflow(t *testing.T) {
	label := NextLabel(types.ModeFixed, types.LabelFirst, true, true, false)
	assert.Equal(t, types.LabelError, label)
}

func TestNextLabelMaxModeRetriesThenFails(t *testing.T) {
	label := NextLabel(types.ModeMax, types.LabelFirst, true, true, false)
	assert.Equal(t, types.LabelMax, label)

	label = NextLabel(types.ModeMax, types.LabelMax, true, true, false)
	assert.Equal(t, types.LabelError, label)
}

func TestNextLabelNoOverflowKeepsCurrentLabel(t *testing.T) {
	label := NextLabel(types.ModeMax, types.LabelFirst, false, true, true)
	assert.Equal(t, types.LabelFirst, label)
}
