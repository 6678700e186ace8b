// Package processor holds the per-category processors and the contracts
// for the external inference models. Detection, OCR and video decoding
// happen behind these interfaces; the pipeline never sees model internals.
package processor

import (
	"context"

	"github.com/warpcomdev/dashcam2/internal/pipeline"
)

// Detection is one vehicle found in a frame
type Detection struct {
	BBox    pipeline.BBox
	Conf    float64
	TrackID int // 0 when the detector does not track
}

// PlateBox is one candidate plate inside a car ROI, in ROI coordinates
type PlateBox struct {
	BBox pipeline.BBox
	Conf float64
}

// OCRText is the text read off a plate crop
type OCRText struct {
	Text string
	Conf float64
}

// PlateObservation is the payload of a PLATE_SMOOTH task
type PlateObservation struct {
	Text string
	Conf float64
}

// SmoothResult is the smoother's verdict. Final is empty until enough
// observations accumulate.
type SmoothResult struct {
	Final string
	Conf  float64
}

// MotionEntry is one per-track motion update from the tracker
type MotionEntry struct {
	GlobalID   string
	TrackID    int
	VideoID    string
	FrameIdx   int
	BBox       pipeline.BBox
	Width      float64
	Height     float64
	Area       float64
	ScaleRate  float64 // area units per second
	ScaleRatio float64 // relative to previous frame
	VX         float64
	VY         float64
	SpeedPxS   float64
	HeadingDeg float64
	Age        int
	Conf       float64
	IsNew      bool
}

// VehicleDetector finds vehicles in a full frame
type VehicleDetector interface {
	Detect(ctx context.Context, frame []byte) ([]Detection, error)
}

// PlateDetector finds plates inside a car ROI. Cropping mechanics stay
// on the model side; the pipeline only owns coordinates.
type PlateDetector interface {
	DetectPlates(ctx context.Context, frame []byte, carBBox pipeline.BBox) ([]PlateBox, error)
}

// OCREngine reads a plate crop
type OCREngine interface {
	Recognize(ctx context.Context, frame []byte, carBBox, plateBBox pipeline.BBox) (OCRText, error)
}

// Models bundles the lazy constructors for the GPU-lane resources.
// Each worker calls them on category switch and owns the result until
// the next switch.
type Models struct {
	Vehicle func(ctx context.Context) (VehicleDetector, error)
	Plate   func(ctx context.Context) (PlateDetector, error)
	OCR     func(ctx context.Context) (OCREngine, error)
}
