package analytics

import (
	"testing"
	"time"

	"github.com/camon/camon/internal/models"
	"github.com/stretchr/testify/require"
)

func TestMotionTracker_OpenRequiresPersistence(t *testing.T) {
	tr := NewMotionTracker(500*time.Millisecond, 2*time.Second)
	base := time.Unix(0, 0)

	opened, closed := tr.Sample(base, true, 0, models.BoundingBox{})
	require.Nil(t, opened)
	require.Nil(t, closed)
	require.Nil(t, tr.Active())

	// Motion present but DOpen hasn't elapsed yet.
	opened, closed = tr.Sample(base.Add(200*time.Millisecond), true, 1, models.BoundingBox{})
	require.Nil(t, opened)
	require.Nil(t, closed)

	opened, closed = tr.Sample(base.Add(600*time.Millisecond), true, 2, models.BoundingBox{X: 1, Y: 1, W: 10, H: 10})
	require.NotNil(t, opened)
	require.Nil(t, closed)
	require.Equal(t, models.MotionOpen, opened.State)
}

func TestMotionTracker_ClosesAfterDClose(t *testing.T) {
	tr := NewMotionTracker(0, time.Second)
	base := time.Unix(0, 0)

	tr.Sample(base, true, 0, models.BoundingBox{W: 1, H: 1})
	opened, _ := tr.Sample(base, true, 0, models.BoundingBox{W: 1, H: 1})
	require.NotNil(t, opened)

	// Motion stops; not yet DClose.
	opened, closed := tr.Sample(base.Add(500*time.Millisecond), false, 10, models.BoundingBox{})
	require.Nil(t, opened)
	require.Nil(t, closed)
	require.NotNil(t, tr.Active())

	opened, closed = tr.Sample(base.Add(1500*time.Millisecond), false, 20, models.BoundingBox{})
	require.Nil(t, opened)
	require.NotNil(t, closed)
	require.Equal(t, models.MotionClosed, closed.State)
	require.Nil(t, tr.Active())
}

func TestMotionTracker_RenewedMotionPostponesClose(t *testing.T) {
	tr := NewMotionTracker(0, time.Second)
	base := time.Unix(0, 0)
	tr.Sample(base, true, 0, models.BoundingBox{W: 1, H: 1})
	tr.Sample(base, true, 0, models.BoundingBox{W: 1, H: 1})

	tr.Sample(base.Add(500*time.Millisecond), false, 0, models.BoundingBox{})
	// New motion before DClose elapses resets the close timer.
	_, closed := tr.Sample(base.Add(900*time.Millisecond), true, 0, models.BoundingBox{W: 1, H: 1})
	require.Nil(t, closed)
	_, closed = tr.Sample(base.Add(1300*time.Millisecond), false, 0, models.BoundingBox{})
	require.Nil(t, closed, "DClose counts from the last trigger, not the first absence")
}

func TestUnionBox(t *testing.T) {
	a := models.BoundingBox{X: 0, Y: 0, W: 10, H: 10}
	b := models.BoundingBox{X: 5, Y: 5, W: 10, H: 10}
	u := unionBox(a, b)
	require.Equal(t, models.BoundingBox{X: 0, Y: 0, W: 15, H: 15}, u)
}
