// Package fakemodel provides scripted inference models for tests and
// for running the pipeline without GPUs. Fake frames carry their index
// in the first four bytes (see fakesource), so scripts can key results
// by frame.
package fakemodel

import (
	"context"
	"encoding/binary"

	"github.com/warpcomdev/dashcam2/internal/pipeline"
	"github.com/warpcomdev/dashcam2/internal/processor"
)

// FrameIndex decodes the frame index a fake source stamped on a frame
func FrameIndex(frame []byte) int {
	if len(frame) < 4 {
		return 0
	}
	return int(binary.BigEndian.Uint32(frame))
}

// Vehicle is a scripted vehicle detector
type Vehicle struct {
	Fn func(frameIdx int) []processor.Detection
}

// Detect implements processor.VehicleDetector
func (v Vehicle) Detect(ctx context.Context, frame []byte) ([]processor.Detection, error) {
	if v.Fn == nil {
		return nil, nil
	}
	return v.Fn(FrameIndex(frame)), nil
}

// Plate is a scripted plate detector
type Plate struct {
	Fn func(frameIdx int, carBBox pipeline.BBox) []processor.PlateBox
}

// DetectPlates implements processor.PlateDetector
func (p Plate) DetectPlates(ctx context.Context, frame []byte, carBBox pipeline.BBox) ([]processor.PlateBox, error) {
	if p.Fn == nil {
		return nil, nil
	}
	return p.Fn(FrameIndex(frame), carBBox), nil
}

// OCR is a scripted plate reader
type OCR struct {
	Fn func(frameIdx int, carBBox, plateBBox pipeline.BBox) processor.OCRText
}

// Recognize implements processor.OCREngine
func (o OCR) Recognize(ctx context.Context, frame []byte, carBBox, plateBBox pipeline.BBox) (processor.OCRText, error) {
	if o.Fn == nil {
		return processor.OCRText{}, nil
	}
	return o.Fn(FrameIndex(frame), carBBox, plateBBox), nil
}

// Models bundles the fakes into lazy loaders
func Models(vehicle Vehicle, plate Plate, ocr OCR) processor.Models {
	return processor.Models{
		Vehicle: func(ctx context.Context) (processor.VehicleDetector, error) { return vehicle, nil },
		Plate:   func(ctx context.Context) (processor.PlateDetector, error) { return plate, nil },
		OCR:     func(ctx context.Context) (processor.OCREngine, error) { return ocr, nil },
	}
}
