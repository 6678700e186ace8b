package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/warpcomdev/dashcam2/internal/framestore"
	"github.com/warpcomdev/dashcam2/internal/pipeline"
)

var (
	BadResourceError = errors.New("resource has the wrong type for this category")
	BadPayloadError  = errors.New("task payload has the wrong type for this category")
	MissingROIError  = errors.New("task is missing its ROI coordinates")
)

// GPULoaders builds the per-category resource loaders for the GPU lane
func GPULoaders(models Models) map[pipeline.TaskCategory]pipeline.Loader {
	return map[pipeline.TaskCategory]pipeline.Loader{
		pipeline.VehicleDetect: func(ctx context.Context) (any, error) { return models.Vehicle(ctx) },
		pipeline.PlateDetect:   func(ctx context.Context) (any, error) { return models.Plate(ctx) },
		pipeline.OCR:           func(ctx context.Context) (any, error) { return models.OCR(ctx) },
	}
}

// GPUProcessors builds the GPU-lane processors. PLATE_DETECT and OCR
// load their frame from the store through the task's payload ref; a
// missing frame there means the refcount bookkeeping failed upstream.
func GPUProcessors(store *framestore.Store) map[pipeline.TaskCategory]pipeline.Processor {
	return map[pipeline.TaskCategory]pipeline.Processor{
		pipeline.VehicleDetect: func(ctx context.Context, task *pipeline.Task, res any) (any, error) {
			detector, ok := res.(VehicleDetector)
			if !ok {
				return nil, BadResourceError
			}
			frame, ok := task.Payload.([]byte)
			if !ok || frame == nil {
				// The reader always stores the frame before enqueuing
				var err error
				frame, err = store.Load(task.Meta.PayloadRef)
				if err != nil {
					return nil, err
				}
			}
			return detector.Detect(ctx, frame)
		},

		pipeline.PlateDetect: func(ctx context.Context, task *pipeline.Task, res any) (any, error) {
			detector, ok := res.(PlateDetector)
			if !ok {
				return nil, BadResourceError
			}
			if task.Meta.CarBBox == nil {
				return nil, fmt.Errorf("%w: car bbox", MissingROIError)
			}
			frame, err := store.Load(task.Meta.PayloadRef)
			if err != nil {
				return nil, err
			}
			return detector.DetectPlates(ctx, frame, *task.Meta.CarBBox)
		},

		pipeline.OCR: func(ctx context.Context, task *pipeline.Task, res any) (any, error) {
			engine, ok := res.(OCREngine)
			if !ok {
				return nil, BadResourceError
			}
			if task.Meta.CarBBox == nil || task.Meta.PlateBBox == nil {
				return nil, fmt.Errorf("%w: car or plate bbox", MissingROIError)
			}
			frame, err := store.Load(task.Meta.PayloadRef)
			if err != nil {
				return nil, err
			}
			return engine.Recognize(ctx, frame, *task.Meta.CarBBox, *task.Meta.PlateBBox)
		},
	}
}
