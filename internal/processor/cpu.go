package processor

import (
	"context"

	"github.com/warpcomdev/dashcam2/internal/pipeline"
	"github.com/warpcomdev/dashcam2/internal/sink"
)

// CPULoaders builds the CPU-lane resource loaders. Tracker and smoother
// state outlives category switches, so the loaders hand every worker
// the same shared instance instead of a fresh one.
func CPULoaders(tracker *Tracker, smoother *Smoother, snk sink.Sink) map[pipeline.TaskCategory]pipeline.Loader {
	return map[pipeline.TaskCategory]pipeline.Loader{
		pipeline.VehicleTrack: func(ctx context.Context) (any, error) { return tracker, nil },
		pipeline.PlateSmooth:  func(ctx context.Context) (any, error) { return smoother, nil },
		pipeline.FinalWrite:   func(ctx context.Context) (any, error) { return snk, nil },
	}
}

// CPUProcessors builds the CPU-lane processors
func CPUProcessors() map[pipeline.TaskCategory]pipeline.Processor {
	return map[pipeline.TaskCategory]pipeline.Processor{
		pipeline.VehicleTrack: func(ctx context.Context, task *pipeline.Task, res any) (any, error) {
			tracker, ok := res.(*Tracker)
			if !ok {
				return nil, BadResourceError
			}
			detections, ok := task.Payload.([]Detection)
			if !ok {
				return nil, BadPayloadError
			}
			return tracker.Update(task, detections), nil
		},

		pipeline.PlateSmooth: func(ctx context.Context, task *pipeline.Task, res any) (any, error) {
			smoother, ok := res.(*Smoother)
			if !ok {
				return nil, BadResourceError
			}
			obs, ok := task.Payload.(PlateObservation)
			if !ok {
				return nil, BadPayloadError
			}
			return smoother.Observe(task.VideoID, task.TrackID, obs.Text, obs.Conf), nil
		},

		pipeline.FinalWrite: FinalWrite,
	}
}
