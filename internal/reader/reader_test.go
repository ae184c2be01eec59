package reader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/camon/camon/internal/models"
	"github.com/camon/camon/internal/warm"
	"github.com/stretchr/testify/require"
)

type fakeHot struct {
	gops      []models.Gop
	evictedTo uint64
}

func (f *fakeHot) SnapshotGOPs(startPTS, endPTS uint64) ([]models.Gop, error) {
	var out []models.Gop
	for _, g := range f.gops {
		if g.EndPTS < startPTS || g.StartPTS > endPTS {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeHot) RetainUntil(uint64) (int, error) { return 1, nil }
func (f *fakeHot) Release(int)                     {}
func (f *fakeHot) EvictedPrefix() uint64            { return f.evictedTo }

func writeSeg(t *testing.T, dir string, data string) string {
	t.Helper()
	path := filepath.Join(dir, "seg.ts")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestReader_StitchesWarmThenHotWithNoGap(t *testing.T) {
	dir := t.TempDir()
	idx := warm.NewTierIndex()
	path := writeSeg(t, dir, "warmbytes")
	idx.Register(models.WarmSegment{ID: "s1", CameraID: "cam1", Path: path, StartPTS: 0, EndPTS: 1000, SizeBytes: 9})

	hot := &fakeHot{gops: []models.Gop{{
		StartPTS: 1000, EndPTS: 2000,
		Frames: []models.Frame{{TSPackets: []byte("hotbytes")}},
	}}}

	r := New("cam1", hot, idx)
	chunks, err := r.Read(context.Background(), 0, 2000)
	require.NoError(t, err)

	var gaps int
	var gotWarm, gotHot bool
	for _, c := range chunks {
		if c.Gap != nil {
			gaps++
		}
		if string(c.Bytes) == "warmbytes" {
			gotWarm = true
		}
		if string(c.Bytes) == "hotbytes" {
			gotHot = true
		}
	}
	require.Zero(t, gaps)
	require.True(t, gotWarm)
	require.True(t, gotHot)
}

func TestReader_SurfacesGapBetweenWarmAndHot(t *testing.T) {
	dir := t.TempDir()
	idx := warm.NewTierIndex()
	path := writeSeg(t, dir, "warmbytes")
	idx.Register(models.WarmSegment{ID: "s1", CameraID: "cam1", Path: path, StartPTS: 0, EndPTS: 500, SizeBytes: 9})

	hot := &fakeHot{gops: []models.Gop{{
		StartPTS: 2000, EndPTS: 3000,
		Frames: []models.Frame{{TSPackets: []byte("hotbytes")}},
	}}}

	r := New("cam1", hot, idx)
	chunks, err := r.Read(context.Background(), 0, 3000)
	require.NoError(t, err)

	var foundGap *models.Gap
	for _, c := range chunks {
		if c.Gap != nil {
			foundGap = c.Gap
		}
	}
	require.NotNil(t, foundGap)
	require.Equal(t, uint64(500), foundGap.PTSStart)
	require.Equal(t, uint64(2000), foundGap.PTSEnd)
}

func TestReader_SurfacesGapWhenHotAlreadyEvictedRequestedRange(t *testing.T) {
	idx := warm.NewTierIndex()
	hot := &fakeHot{evictedTo: 5000}

	r := New("cam1", hot, idx)
	chunks, err := r.Read(context.Background(), 0, 3000)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].Gap)
	require.Equal(t, uint64(0), chunks[0].Gap.PTSStart)
	require.Equal(t, uint64(3000), chunks[0].Gap.PTSEnd)
}
