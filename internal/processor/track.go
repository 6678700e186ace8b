package processor

import (
	"fmt"
	"math"
	"sync"

	"github.com/warpcomdev/dashcam2/internal/pipeline"
)

const (
	// Clamp for velocity spikes caused by detector jumps
	maxSpeedPxS = 3000.0
	// Exponential smoothing factor for velocity jitter
	speedSmoothAlpha = 0.5
	// Assumed frame rate when the container reports none
	defaultFPS = 30.0
)

type trackState struct {
	centerX, centerY float64
	frameIdx         int
	tsMs             float64
	hasTS            bool
	svx, svy         float64
	hasVel           bool
	area             float64
	age              int
}

// Tracker turns per-frame detection lists into per-track motion
// entries: velocity and heading from first differences, clamped and
// exponentially smoothed. State is keyed by (video_id, track_id) and
// shared by every CPU worker, so switching categories does not reset
// track continuity.
type Tracker struct {
	mu     sync.Mutex
	videos map[string]map[int]*trackState
}

// NewTracker with empty state
func NewTracker() *Tracker {
	return &Tracker{videos: make(map[string]map[int]*trackState)}
}

func center(b pipeline.BBox) (float64, float64) {
	return (b[0] + b[2]) * 0.5, (b[1] + b[3]) * 0.5
}

// Update consumes one frame's detections. Detections without a track id
// are skipped: there is no identity to accumulate motion under.
func (t *Tracker) Update(task *pipeline.Task, detections []Detection) []MotionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	videoID := task.VideoID
	frameIdx := task.FrameIdx
	fps := task.Meta.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	tsMs := task.Meta.VideoTSMs
	hasTS := tsMs > 0

	tracks, ok := t.videos[videoID]
	if !ok {
		tracks = make(map[int]*trackState)
		t.videos[videoID] = tracks
	}

	var entries []MotionEntry
	for _, det := range detections {
		if det.TrackID == 0 {
			continue
		}
		bbox := det.BBox
		cx, cy := center(bbox)
		width := math.Abs(bbox[2] - bbox[0])
		height := math.Abs(bbox[3] - bbox[1])
		area := width * height
		globalID := fmt.Sprintf("%s:%d", videoID, det.TrackID)

		prev := tracks[det.TrackID]
		isNew := prev == nil

		var dt float64
		switch {
		case hasTS && prev != nil && prev.hasTS:
			dt = math.Max(1e-3, (tsMs-prev.tsMs)/1000.0)
		case prev != nil:
			frameDelta := frameIdx - prev.frameIdx
			if frameDelta < 1 {
				frameDelta = 1
			}
			dt = float64(frameDelta) / fps
		default:
			dt = 1.0 / fps
		}

		var vx, vy float64
		if prev != nil {
			vx = (cx - prev.centerX) / dt
			vy = (cy - prev.centerY) / dt
		}
		speed := math.Hypot(vx, vy)
		if speed > maxSpeedPxS {
			scale := maxSpeedPxS / speed
			vx *= scale
			vy *= scale
			speed = maxSpeedPxS
		}
		if prev != nil && prev.hasVel {
			vx = speedSmoothAlpha*vx + (1-speedSmoothAlpha)*prev.svx
			vy = speedSmoothAlpha*vy + (1-speedSmoothAlpha)*prev.svy
			speed = math.Hypot(vx, vy)
		}
		var heading float64
		if speed > 0 {
			heading = math.Atan2(vy, vx) * 180 / math.Pi
		}

		scaleRatio := 1.0
		scaleRate := 0.0
		if prev != nil && prev.area > 0 {
			scaleRatio = area / prev.area
			scaleRate = (area - prev.area) / dt
		}

		age := 1
		if prev != nil {
			age = prev.age + 1
		}
		tracks[det.TrackID] = &trackState{
			centerX:  cx,
			centerY:  cy,
			frameIdx: frameIdx,
			tsMs:     tsMs,
			hasTS:    hasTS,
			svx:      vx,
			svy:      vy,
			hasVel:   true,
			area:     area,
			age:      age,
		}

		entries = append(entries, MotionEntry{
			GlobalID:   globalID,
			TrackID:    det.TrackID,
			VideoID:    videoID,
			FrameIdx:   frameIdx,
			BBox:       bbox,
			Width:      width,
			Height:     height,
			Area:       area,
			ScaleRate:  scaleRate,
			ScaleRatio: scaleRatio,
			VX:         vx,
			VY:         vy,
			SpeedPxS:   speed,
			HeadingDeg: heading,
			Age:        age,
			Conf:       det.Conf,
			IsNew:      isNew,
		})
	}
	return entries
}
