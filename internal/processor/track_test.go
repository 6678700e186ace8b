package processor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warpcomdev/dashcam2/internal/pipeline"
)

func trackTask(videoID string, frameIdx int, fps, tsMs float64) *pipeline.Task {
	return &pipeline.Task{
		Category: pipeline.VehicleTrack,
		VideoID:  videoID,
		FrameIdx: frameIdx,
		Meta:     pipeline.Meta{FPS: fps, VideoTSMs: tsMs},
	}
}

func boxAt(x, y float64) pipeline.BBox {
	return pipeline.BBox{x, y, x + 20, y + 10}
}

func TestTrackerFirstSighting(t *testing.T) {
	tracker := NewTracker()
	entries := tracker.Update(trackTask("video", 0, 30, 0), []Detection{
		{BBox: boxAt(100, 50), Conf: 0.9, TrackID: 1},
	})
	require.Len(t, entries, 1)

	e := entries[0]
	require.Equal(t, "video:1", e.GlobalID)
	require.True(t, e.IsNew)
	require.Equal(t, 1, e.Age)
	require.Equal(t, 0.0, e.SpeedPxS)
	require.Equal(t, 20.0, e.Width)
	require.Equal(t, 10.0, e.Height)
	require.Equal(t, 200.0, e.Area)
	require.Equal(t, 1.0, e.ScaleRatio)
}

func TestTrackerVelocityFromFrameDelta(t *testing.T) {
	tracker := NewTracker()
	tracker.Update(trackTask("video", 0, 30, 0), []Detection{
		{BBox: boxAt(100, 50), TrackID: 1},
	})
	entries := tracker.Update(trackTask("video", 1, 30, 0), []Detection{
		{BBox: boxAt(110, 50), TrackID: 1},
	})
	require.Len(t, entries, 1)

	// Raw velocity 10 px over 1/30 s = 300 px/s, halved by smoothing
	// against the initial zero velocity
	e := entries[0]
	require.False(t, e.IsNew)
	require.Equal(t, 2, e.Age)
	require.InDelta(t, 150.0, e.VX, 1e-9)
	require.InDelta(t, 0.0, e.VY, 1e-9)
	require.InDelta(t, 150.0, e.SpeedPxS, 1e-9)
	require.InDelta(t, 0.0, e.HeadingDeg, 1e-9)
}

func TestTrackerVelocityFromTimestamps(t *testing.T) {
	tracker := NewTracker()
	tracker.Update(trackTask("video", 0, 30, 1000), []Detection{
		{BBox: boxAt(0, 0), TrackID: 1},
	})
	entries := tracker.Update(trackTask("video", 10, 30, 1500), []Detection{
		{BBox: boxAt(50, 0), TrackID: 1},
	})

	// Timestamps beat frame counting: 50 px over 0.5 s = 100 px/s raw
	require.InDelta(t, 50.0, entries[0].VX, 1e-9)
}

func TestTrackerClampsSpeedSpikes(t *testing.T) {
	tracker := NewTracker()
	tracker.Update(trackTask("video", 0, 30, 0), []Detection{
		{BBox: boxAt(0, 0), TrackID: 1},
	})
	entries := tracker.Update(trackTask("video", 1, 30, 0), []Detection{
		{BBox: boxAt(500, 0), TrackID: 1},
	})

	// 500 px in 1/30 s is a detector jump; the clamp caps it before
	// smoothing halves it
	require.InDelta(t, maxSpeedPxS/2, entries[0].SpeedPxS, 1e-9)
}

func TestTrackerSkipsUntracked(t *testing.T) {
	tracker := NewTracker()
	entries := tracker.Update(trackTask("video", 0, 30, 0), []Detection{
		{BBox: boxAt(0, 0), TrackID: 0},
		{BBox: boxAt(50, 0), TrackID: 2},
	})
	require.Len(t, entries, 1)
	require.Equal(t, 2, entries[0].TrackID)
}

func TestTrackerScaleGrowth(t *testing.T) {
	tracker := NewTracker()
	tracker.Update(trackTask("video", 0, 30, 0), []Detection{
		{BBox: pipeline.BBox{0, 0, 10, 10}, TrackID: 1},
	})
	entries := tracker.Update(trackTask("video", 1, 30, 0), []Detection{
		{BBox: pipeline.BBox{0, 0, 20, 10}, TrackID: 1},
	})

	// Area doubled: approaching vehicle
	require.InDelta(t, 2.0, entries[0].ScaleRatio, 1e-9)
	require.InDelta(t, 100.0*30, entries[0].ScaleRate, 1e-9)
}

func TestTrackerSeparatesVideos(t *testing.T) {
	tracker := NewTracker()
	tracker.Update(trackTask("one", 0, 30, 0), []Detection{
		{BBox: boxAt(0, 0), TrackID: 1},
	})
	entries := tracker.Update(trackTask("two", 0, 30, 0), []Detection{
		{BBox: boxAt(0, 0), TrackID: 1},
	})

	// Same track id in a different video is a different track
	require.True(t, entries[0].IsNew)
	require.Equal(t, "two:1", entries[0].GlobalID)
}

func TestTrackerDefaultFPS(t *testing.T) {
	tracker := NewTracker()
	tracker.Update(trackTask("video", 0, 0, 0), []Detection{
		{BBox: boxAt(0, 0), TrackID: 1},
	})
	entries := tracker.Update(trackTask("video", 1, 0, 0), []Detection{
		{BBox: boxAt(10, 0), TrackID: 1},
	})

	// No container FPS: assume 30
	require.InDelta(t, 150.0, entries[0].VX, 1e-9)
}
