// Package dispatch encodes the pipeline graph: one handler per
// category maps a processor's result to the tasks of the next stage.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/warpcomdev/dashcam2/internal/framestore"
	"github.com/warpcomdev/dashcam2/internal/pipeline"
	"github.com/warpcomdev/dashcam2/internal/processor"
	"github.com/warpcomdev/dashcam2/internal/sink"
)

// How long to wait between retries of a push refused at the hard limit
const pushRetryInterval = 10 * time.Millisecond

// Deps are the shared components handlers enqueue through
type Deps struct {
	Logger *zap.Logger
	Queue  *pipeline.CentralQueue
	Store  *framestore.Store
	Coord  *pipeline.Coordinator
}

// Handlers builds the full category → handler registry
func Handlers(deps Deps) map[pipeline.TaskCategory]pipeline.Handler {
	d := &dispatcher{deps}
	return map[pipeline.TaskCategory]pipeline.Handler{
		pipeline.VehicleDetect: d.handleVehicleDetect,
		pipeline.PlateDetect:   d.handlePlateDetect,
		pipeline.VehicleTrack:  d.handleVehicleTrack,
		pipeline.OCR:           d.handleOCR,
		pipeline.PlateSmooth:   d.handlePlateSmooth,
		// FINAL_WRITE is terminal: no handler, no descendants
	}
}

type dispatcher struct {
	Deps
}

// spawn takes the references a child needs, then pushes it, retrying at
// the hard limit until the queue accepts. The deliberate stall is the
// backpressure path: it parks the worker that produced the upstream
// result. Only terminate abandons the push, releasing the refs again.
func (d *dispatcher) spawn(ctx context.Context, child *pipeline.Task) error {
	d.Store.AddRefs(child.Meta.Dependencies)
	if d.Queue.Push(child) {
		return nil
	}
	bo := backoff.WithContext(backoff.NewConstantBackOff(pushRetryInterval), ctx)
	err := backoff.Retry(func() error {
		if d.Coord.Terminated() {
			return &backoff.PermanentError{Err: fmt.Errorf("terminating, dropping %s", child)}
		}
		if !d.Queue.Push(child) {
			return fmt.Errorf("queue full for %s", child.Category)
		}
		return nil
	}, bo)
	if err != nil {
		d.Store.ReleaseRefs(child.Meta.Dependencies)
		return err
	}
	return nil
}

// frameDeps are the parent's dependencies, falling back to its own
// payload ref when an upstream stage left the list empty
func frameDeps(task *pipeline.Task) []framestore.Ref {
	if len(task.Meta.Dependencies) > 0 {
		return task.Meta.Dependencies
	}
	if task.Meta.PayloadRef != "" {
		return []framestore.Ref{task.Meta.PayloadRef}
	}
	return nil
}

// VEHICLE_DETECT results fan out: one PLATE_DETECT per detection, each
// pinning the frame, plus exactly one VEHICLE_TRACK for the whole frame.
// The track task works on coordinates only and takes no frame refs.
func (d *dispatcher) handleVehicleDetect(ctx context.Context, task *pipeline.Task, result any) error {
	detections, ok := result.([]processor.Detection)
	if !ok {
		return fmt.Errorf("unexpected result type %T for %s", result, task)
	}

	deps := frameDeps(task)
	for i := range detections {
		det := detections[i]
		meta := task.Meta.Forward()
		meta.PayloadRef = task.Meta.PayloadRef
		meta.Dependencies = deps
		meta.CarBBox = &det.BBox
		child := &pipeline.Task{
			Category: pipeline.PlateDetect,
			VideoID:  task.VideoID,
			FrameIdx: task.FrameIdx,
			TrackID:  det.TrackID,
			Meta:     meta,
		}
		if err := d.spawn(ctx, child); err != nil {
			return err
		}
	}

	meta := task.Meta.Forward()
	track := &pipeline.Task{
		Category: pipeline.VehicleTrack,
		Payload:  detections,
		VideoID:  task.VideoID,
		FrameIdx: task.FrameIdx,
		Meta:     meta,
	}
	return d.spawn(ctx, track)
}

// PLATE_DETECT keeps only the highest-confidence plate; no plates, no
// descendants.
func (d *dispatcher) handlePlateDetect(ctx context.Context, task *pipeline.Task, result any) error {
	plates, ok := result.([]processor.PlateBox)
	if !ok {
		return fmt.Errorf("unexpected result type %T for %s", result, task)
	}
	if len(plates) == 0 {
		d.Logger.Debug("no plates found", zap.String("task", task.String()))
		return nil
	}
	best := plates[0]
	for _, p := range plates[1:] {
		if p.Conf > best.Conf {
			best = p
		}
	}

	meta := task.Meta.Forward()
	meta.PayloadRef = task.Meta.PayloadRef
	meta.Dependencies = frameDeps(task)
	meta.CarBBox = task.Meta.CarBBox
	plateBBox := best.BBox
	meta.PlateBBox = &plateBBox
	child := &pipeline.Task{
		Category: pipeline.OCR,
		VideoID:  task.VideoID,
		FrameIdx: task.FrameIdx,
		TrackID:  task.TrackID,
		Meta:     meta,
	}
	return d.spawn(ctx, child)
}

// VEHICLE_TRACK results become one track_motion row each, plus a tracks
// index row the first time a track shows up.
func (d *dispatcher) handleVehicleTrack(ctx context.Context, task *pipeline.Task, result any) error {
	entries, ok := result.([]processor.MotionEntry)
	if !ok {
		return fmt.Errorf("unexpected result type %T for %s", result, task)
	}
	for _, entry := range entries {
		if entry.IsNew {
			meta := task.Meta.Forward()
			meta.GlobalID = entry.GlobalID
			index := &pipeline.Task{
				Category: pipeline.FinalWrite,
				Payload:  processor.WriteOp{Table: sink.TableTracks, Record: processor.TrackIndexRecord(entry)},
				VideoID:  task.VideoID,
				FrameIdx: entry.FrameIdx,
				TrackID:  entry.TrackID,
				Meta:     meta,
			}
			if err := d.spawn(ctx, index); err != nil {
				return err
			}
		}
		meta := task.Meta.Forward()
		meta.GlobalID = entry.GlobalID
		motion := &pipeline.Task{
			Category: pipeline.FinalWrite,
			Payload:  processor.WriteOp{Table: sink.TableTrackMotion, Record: processor.MotionRecord(entry)},
			VideoID:  task.VideoID,
			FrameIdx: entry.FrameIdx,
			TrackID:  entry.TrackID,
			Meta:     meta,
		}
		if err := d.spawn(ctx, motion); err != nil {
			return err
		}
	}
	return nil
}

// OCR results with text feed the smoother; empty reads stop here
func (d *dispatcher) handleOCR(ctx context.Context, task *pipeline.Task, result any) error {
	text, ok := result.(processor.OCRText)
	if !ok {
		return fmt.Errorf("unexpected result type %T for %s", result, task)
	}
	if text.Text == "" {
		d.Logger.Debug("empty OCR read", zap.String("task", task.String()))
		return nil
	}
	meta := task.Meta.Forward()
	meta.CarBBox = task.Meta.CarBBox
	meta.PlateBBox = task.Meta.PlateBBox
	child := &pipeline.Task{
		Category: pipeline.PlateSmooth,
		Payload:  processor.PlateObservation{Text: text.Text, Conf: text.Conf},
		VideoID:  task.VideoID,
		FrameIdx: task.FrameIdx,
		TrackID:  task.TrackID,
		Meta:     meta,
	}
	return d.spawn(ctx, child)
}

// PLATE_SMOOTH emits a vehicles row once the smoother commits
func (d *dispatcher) handlePlateSmooth(ctx context.Context, task *pipeline.Task, result any) error {
	res, ok := result.(processor.SmoothResult)
	if !ok {
		return fmt.Errorf("unexpected result type %T for %s", result, task)
	}
	if res.Final == "" {
		// Not enough history yet
		return nil
	}
	meta := task.Meta.Forward()
	meta.Final = res.Final
	meta.Conf = res.Conf
	child := &pipeline.Task{
		Category: pipeline.FinalWrite,
		Payload:  processor.WriteOp{Table: sink.TableVehicles, Record: processor.VehicleRecord(task, res)},
		VideoID:  task.VideoID,
		FrameIdx: task.FrameIdx,
		TrackID:  task.TrackID,
		Meta:     meta,
	}
	return d.spawn(ctx, child)
}
