package events

import (
	"testing"
	"time"

	"github.com/camon/camon/internal/models"
	"github.com/stretchr/testify/require"
)

func TestStore_MotionClosedAssignsSequenceAndRetrievesMask(t *testing.T) {
	s := NewStore("cam1", 0)

	s.MotionClosed(models.MotionEvent{
		ID: "ev1", CameraID: "cam1",
		ClosedAt:          time.Unix(100, 0),
		MaskThumbnailJPEG: []byte("mask-1"),
	})
	s.MotionClosed(models.MotionEvent{
		ID: "ev2", CameraID: "cam1",
		ClosedAt:          time.Unix(200, 0),
		MaskThumbnailJPEG: []byte("mask-2"),
	})

	jpeg, ok := s.GetMotionMask(1)
	require.True(t, ok)
	require.Equal(t, []byte("mask-1"), jpeg)

	jpeg, ok = s.GetMotionMask(2)
	require.True(t, ok)
	require.Equal(t, []byte("mask-2"), jpeg)

	_, ok = s.GetMotionMask(99)
	require.False(t, ok)
}

func TestStore_DetectionFrameRetrievableByID(t *testing.T) {
	s := NewStore("cam1", 0)
	s.DetectionMade(models.Detection{ID: "det1", CameraID: "cam1", Class: "person", At: time.Unix(100, 0), ThumbnailJPEG: []byte("frame-1")})

	jpeg, ok := s.GetDetectionFrame("det1")
	require.True(t, ok)
	require.Equal(t, []byte("frame-1"), jpeg)

	_, ok = s.GetDetectionFrame("missing")
	require.False(t, ok)
}

func TestStore_ListEventsFiltersByTimeRangeAndKind(t *testing.T) {
	s := NewStore("cam1", 0)
	s.MotionClosed(models.MotionEvent{ID: "ev1", ClosedAt: time.Unix(100, 0)})
	s.DetectionMade(models.Detection{ID: "det1", Class: "person", At: time.Unix(150, 0)})
	s.DetectionMade(models.Detection{ID: "det2", Class: "car", At: time.Unix(400, 0)})

	recs := s.ListEvents(time.Unix(0, 0), time.Unix(300, 0), ListFilter{})
	require.Len(t, recs, 2)
	require.NotNil(t, recs[0].Motion)
	require.NotNil(t, recs[1].Detection)

	recs = s.ListEvents(time.Time{}, time.Time{}, ListFilter{DetectionsOnly: true, Classes: map[string]bool{"car": true}})
	require.Len(t, recs, 1)
	require.Equal(t, "det2", recs[0].Detection.ID)
}

func TestStore_RetentionCapDropsOldest(t *testing.T) {
	s := NewStore("cam1", 2)
	for i := 1; i <= 5; i++ {
		s.MotionClosed(models.MotionEvent{ID: "ev", ClosedAt: time.Unix(int64(i), 0)})
	}

	recs := s.ListEvents(time.Time{}, time.Time{}, ListFilter{})
	require.Len(t, recs, 2)
	require.Equal(t, uint64(4), recs[0].Motion.Sequence)
	require.Equal(t, uint64(5), recs[1].Motion.Sequence)
}
