package pipeline

import (
	"fmt"

	"github.com/warpcomdev/dashcam2/internal/framestore"
)

// TaskCategory identifies a pipeline stage. The declaration order is
// meaningful: workers use it to break scheduling ties.
type TaskCategory int

const (
	VehicleDetect TaskCategory = iota // detector on the full frame
	PlateDetect                       // plate detector on a car ROI
	VehicleTrack                      // per-track motion update
	OCR                               // plate text recognition
	PlateSmooth                       // temporal merge of OCR readings
	FinalWrite                        // hand finished records to the sink
	numCategories
)

var categoryNames = [numCategories]string{
	"vehicle_detect",
	"plate_detect",
	"vehicle_track",
	"ocr",
	"plate_smooth",
	"final_write",
}

func (c TaskCategory) String() string {
	if c < 0 || c >= numCategories {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// Categories in declaration order
func Categories() []TaskCategory {
	cats := make([]TaskCategory, 0, numCategories)
	for c := TaskCategory(0); c < numCategories; c++ {
		cats = append(cats, c)
	}
	return cats
}

// GPUCategories is the GPU lane: stages that need model inference
func GPUCategories() []TaskCategory {
	return []TaskCategory{VehicleDetect, PlateDetect, OCR}
}

// CPUCategories is the CPU lane: pure bookkeeping stages
func CPUCategories() []TaskCategory {
	return []TaskCategory{VehicleTrack, PlateSmooth, FinalWrite}
}

// BBox is a pixel-space box [x1, y1, x2, y2]
type BBox [4]float64

// Meta carries the recognized per-task metadata keys across stages.
// Stage-specific fields (bboxes, payload ref, dependencies) are set
// explicitly by whoever builds the task; Forward copies the rest.
type Meta struct {
	// Frame the task operates on, when it needs one
	PayloadRef framestore.Ref
	// Frames whose lifetime this task extends. The worker releases
	// them exactly once when the task terminates.
	Dependencies []framestore.Ref

	CarBBox   *BBox
	PlateBBox *BBox

	VideoPath    string
	VideoFile    string
	VideoTSFrame int
	VideoTSMs    float64 // 0 when the container carries no timestamps
	FPS          float64 // 0 when unknown

	GlobalID string
	Final    string
	Conf     float64

	// Unrecognized keys travel untouched through every stage
	Extra map[string]any
}

// Forward returns the metadata that passes through to a downstream task
func (m Meta) Forward() Meta {
	return Meta{
		VideoPath:    m.VideoPath,
		VideoFile:    m.VideoFile,
		VideoTSFrame: m.VideoTSFrame,
		VideoTSMs:    m.VideoTSMs,
		FPS:          m.FPS,
		GlobalID:     m.GlobalID,
		Extra:        m.Extra,
	}
}

// Task is one unit of work. Tasks are built once and never mutated
// after they enter the queue.
type Task struct {
	Category TaskCategory
	// Per-category input: raw frame bytes for VehicleDetect, the
	// detection list for VehicleTrack, an observation for PlateSmooth...
	Payload any

	// Higher priority would run sooner; all current producers use 0,
	// so ordering within a category stays insertion order.
	Priority int

	// Provenance
	VideoID  string
	FrameIdx int
	TrackID  int // 0 when the detector assigned none

	Meta Meta
}

func (t *Task) String() string {
	return fmt.Sprintf("task(%s %s:%d track=%d)", t.Category, t.VideoID, t.FrameIdx, t.TrackID)
}
