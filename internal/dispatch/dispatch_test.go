package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warpcomdev/dashcam2/internal/framestore"
	"github.com/warpcomdev/dashcam2/internal/pipeline"
	"github.com/warpcomdev/dashcam2/internal/processor"
	"github.com/warpcomdev/dashcam2/internal/sink"
)

type fixture struct {
	queue    *pipeline.CentralQueue
	store    *framestore.Store
	coord    *pipeline.Coordinator
	handlers map[pipeline.TaskCategory]pipeline.Handler
}

func newFixture(t *testing.T, soft, hard int) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		queue: pipeline.NewCentralQueue(logger, pipeline.QueueOptions{SoftLimit: soft, HardLimit: hard}),
		store: framestore.New(logger),
		coord: pipeline.NewCoordinator(),
	}
	f.handlers = Handlers(Deps{
		Logger: logger,
		Queue:  f.queue,
		Store:  f.store,
		Coord:  f.coord,
	})
	return f
}

func (f *fixture) detectTask(frameIdx int) *pipeline.Task {
	ref := f.store.Save("video", frameIdx, []byte{1, 2, 3})
	return &pipeline.Task{
		Category: pipeline.VehicleDetect,
		VideoID:  "video",
		FrameIdx: frameIdx,
		Meta: pipeline.Meta{
			PayloadRef:   ref,
			Dependencies: []framestore.Ref{ref},
			VideoPath:    "/videos/video.mp4",
			FPS:          30,
		},
	}
}

func TestDetectionFanOut(t *testing.T) {
	f := newFixture(t, 64, 128)
	task := f.detectTask(0)
	ref := task.Meta.PayloadRef
	detections := []processor.Detection{
		{BBox: pipeline.BBox{0, 0, 10, 10}, Conf: 0.9, TrackID: 1},
		{BBox: pipeline.BBox{20, 0, 30, 10}, Conf: 0.8, TrackID: 2},
		{BBox: pipeline.BBox{40, 0, 50, 10}, Conf: 0.7, TrackID: 3},
	}

	err := f.handlers[pipeline.VehicleDetect](context.Background(), task, detections)
	require.NoError(t, err)

	// One plate task per detection, each pinning the frame, plus a
	// single track task that carries coordinates only
	require.Equal(t, 3, f.queue.Backlog(pipeline.PlateDetect))
	require.Equal(t, 1, f.queue.Backlog(pipeline.VehicleTrack))
	require.Equal(t, 4, f.store.Count(ref))

	for i, det := range detections {
		child := f.queue.Pop(pipeline.PlateDetect)
		require.NotNil(t, child)
		require.Equal(t, det.TrackID, child.TrackID)
		require.Equal(t, ref, child.Meta.PayloadRef)
		require.Equal(t, []framestore.Ref{ref}, child.Meta.Dependencies)
		require.NotNil(t, child.Meta.CarBBox)
		require.Equal(t, det.BBox, *child.Meta.CarBBox, "detection %d", i)
	}

	track := f.queue.Pop(pipeline.VehicleTrack)
	require.NotNil(t, track)
	require.Empty(t, track.Meta.Dependencies)
	require.Equal(t, detections, track.Payload)
	require.Equal(t, 30.0, track.Meta.FPS)
}

func TestEmptyDetectionsStillTrack(t *testing.T) {
	f := newFixture(t, 64, 128)
	task := f.detectTask(0)

	err := f.handlers[pipeline.VehicleDetect](context.Background(), task, []processor.Detection{})
	require.NoError(t, err)

	// No plates to chase, but the tracker still sees the frame
	require.Equal(t, 0, f.queue.Backlog(pipeline.PlateDetect))
	require.Equal(t, 1, f.queue.Backlog(pipeline.VehicleTrack))
	require.Equal(t, 1, f.store.Count(task.Meta.PayloadRef))
}

func TestPlateDetectKeepsBestPlate(t *testing.T) {
	f := newFixture(t, 64, 128)
	parent := f.detectTask(0)
	carBBox := pipeline.BBox{0, 0, 10, 10}
	parent.Category = pipeline.PlateDetect
	parent.TrackID = 1
	parent.Meta.CarBBox = &carBBox

	plates := []processor.PlateBox{
		{BBox: pipeline.BBox{1, 1, 2, 2}, Conf: 0.4},
		{BBox: pipeline.BBox{3, 3, 4, 4}, Conf: 0.9},
		{BBox: pipeline.BBox{5, 5, 6, 6}, Conf: 0.6},
	}
	err := f.handlers[pipeline.PlateDetect](context.Background(), parent, plates)
	require.NoError(t, err)

	child := f.queue.Pop(pipeline.OCR)
	require.NotNil(t, child)
	require.Equal(t, 1, child.TrackID)
	require.Equal(t, carBBox, *child.Meta.CarBBox)
	require.Equal(t, plates[1].BBox, *child.Meta.PlateBBox)
	require.Equal(t, 2, f.store.Count(parent.Meta.PayloadRef))
}

func TestPlateDetectNoPlates(t *testing.T) {
	f := newFixture(t, 64, 128)
	parent := f.detectTask(0)
	parent.Category = pipeline.PlateDetect

	err := f.handlers[pipeline.PlateDetect](context.Background(), parent, []processor.PlateBox{})
	require.NoError(t, err)
	require.Equal(t, 0, f.queue.TotalBacklog())
	require.Equal(t, 1, f.store.Count(parent.Meta.PayloadRef))
}

func TestOCRSpawnsSmooth(t *testing.T) {
	f := newFixture(t, 64, 128)
	parent := f.detectTask(3)
	parent.Category = pipeline.OCR
	parent.TrackID = 2
	carBBox := pipeline.BBox{0, 0, 10, 10}
	plateBBox := pipeline.BBox{1, 1, 3, 2}
	parent.Meta.CarBBox = &carBBox
	parent.Meta.PlateBBox = &plateBBox

	err := f.handlers[pipeline.OCR](context.Background(), parent, processor.OCRText{Text: "5612ABC", Conf: 0.8})
	require.NoError(t, err)

	child := f.queue.Pop(pipeline.PlateSmooth)
	require.NotNil(t, child)
	require.Equal(t, processor.PlateObservation{Text: "5612ABC", Conf: 0.8}, child.Payload)
	require.Equal(t, 2, child.TrackID)
	require.Equal(t, carBBox, *child.Meta.CarBBox)
	// Smoothing needs no pixels, so no frame references travel along
	require.Empty(t, child.Meta.Dependencies)
}

func TestOCREmptyReadStops(t *testing.T) {
	f := newFixture(t, 64, 128)
	parent := f.detectTask(3)
	parent.Category = pipeline.OCR

	err := f.handlers[pipeline.OCR](context.Background(), parent, processor.OCRText{})
	require.NoError(t, err)
	require.Equal(t, 0, f.queue.TotalBacklog())
}

func TestVehicleTrackRows(t *testing.T) {
	f := newFixture(t, 64, 128)
	task := &pipeline.Task{Category: pipeline.VehicleTrack, VideoID: "video", FrameIdx: 4}
	entries := []processor.MotionEntry{
		{GlobalID: "video:1", TrackID: 1, VideoID: "video", FrameIdx: 4, IsNew: true},
		{GlobalID: "video:2", TrackID: 2, VideoID: "video", FrameIdx: 4, Age: 3},
	}

	err := f.handlers[pipeline.VehicleTrack](context.Background(), task, entries)
	require.NoError(t, err)

	// One index row for the new track, one motion row per entry
	require.Equal(t, 3, f.queue.Backlog(pipeline.FinalWrite))
	var tables []string
	for {
		child := f.queue.Pop(pipeline.FinalWrite)
		if child == nil {
			break
		}
		op := child.Payload.(processor.WriteOp)
		tables = append(tables, op.Table)
	}
	require.Equal(t, []string{sink.TableTracks, sink.TableTrackMotion, sink.TableTrackMotion}, tables)
}

func TestPlateSmoothCommit(t *testing.T) {
	f := newFixture(t, 64, 128)
	task := &pipeline.Task{Category: pipeline.PlateSmooth, VideoID: "video", FrameIdx: 9, TrackID: 1}

	// Below threshold: nothing happens
	err := f.handlers[pipeline.PlateSmooth](context.Background(), task, processor.SmoothResult{})
	require.NoError(t, err)
	require.Equal(t, 0, f.queue.TotalBacklog())

	err = f.handlers[pipeline.PlateSmooth](context.Background(), task, processor.SmoothResult{Final: "5612ABC", Conf: 0.85})
	require.NoError(t, err)

	child := f.queue.Pop(pipeline.FinalWrite)
	require.NotNil(t, child)
	op := child.Payload.(processor.WriteOp)
	require.Equal(t, sink.TableVehicles, op.Table)
	require.Equal(t, "5612ABC", op.Record.String("final_plate"))
	require.Equal(t, 0.85, op.Record.Float("plate_confidence"))
}

func TestSpawnRetriesUntilRoom(t *testing.T) {
	f := newFixture(t, 1, 1)
	// Fill the smoothing queue so the next spawn stalls
	require.True(t, f.queue.Push(&pipeline.Task{Category: pipeline.PlateSmooth}))

	parent := f.detectTask(0)
	parent.Category = pipeline.OCR
	done := make(chan error, 1)
	go func() {
		done <- f.handlers[pipeline.OCR](context.Background(), parent, processor.OCRText{Text: "X", Conf: 0.5})
	}()

	select {
	case err := <-done:
		t.Fatalf("spawn returned before room was made: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NotNil(t, f.queue.Pop(pipeline.PlateSmooth))
	require.NoError(t, <-done)
	require.Equal(t, 1, f.queue.Backlog(pipeline.PlateSmooth))
}

func TestSpawnAbandonedOnTerminate(t *testing.T) {
	f := newFixture(t, 1, 1)
	require.True(t, f.queue.Push(&pipeline.Task{Category: pipeline.PlateDetect}))

	parent := f.detectTask(0)
	ref := parent.Meta.PayloadRef
	done := make(chan error, 1)
	go func() {
		done <- f.handlers[pipeline.VehicleDetect](context.Background(), parent, []processor.Detection{
			{BBox: pipeline.BBox{0, 0, 1, 1}, TrackID: 1},
		})
	}()

	time.Sleep(50 * time.Millisecond)
	f.coord.Terminate()

	require.Error(t, <-done)
	// The abandoned child gave its reference back
	require.Equal(t, 1, f.store.Count(ref))
}
