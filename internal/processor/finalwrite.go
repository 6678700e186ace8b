package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/warpcomdev/dashcam2/internal/pipeline"
	"github.com/warpcomdev/dashcam2/internal/sink"
)

// WriteOp is the payload of a FINAL_WRITE task
type WriteOp struct {
	Table  string
	Record sink.Record
}

// WriteAck is the result of a FINAL_WRITE task. Terminal: the dispatch
// graph spawns nothing from it.
type WriteAck struct {
	Table string
}

// MotionRecord builds a track_motion row from one motion entry
func MotionRecord(entry MotionEntry) sink.Record {
	return sink.Record{
		"video_id":    entry.VideoID,
		"global_id":   entry.GlobalID,
		"frame_idx":   entry.FrameIdx,
		"bbox":        entry.BBox,
		"vx":          entry.VX,
		"vy":          entry.VY,
		"speed_px_s":  entry.SpeedPxS,
		"heading_deg": entry.HeadingDeg,
		"conf":        entry.Conf,
		"age":         entry.Age,
	}
}

// TrackIndexRecord builds the tracks index row for a first-seen track
func TrackIndexRecord(entry MotionEntry) sink.Record {
	return sink.Record{
		"video_id":        entry.VideoID,
		"global_id":       entry.GlobalID,
		"track_id":        entry.TrackID,
		"frame_idx":       entry.FrameIdx,
		"first_frame_idx": entry.FrameIdx,
	}
}

// VehicleRecord builds a vehicles row from a smoothed plate
func VehicleRecord(task *pipeline.Task, res SmoothResult) sink.Record {
	record := sink.Record{
		"video_id":         task.VideoID,
		"frame_idx":        task.FrameIdx,
		"final_plate":      res.Final,
		"plate_confidence": res.Conf,
	}
	if task.Meta.CarBBox != nil {
		record["car_bbox"] = *task.Meta.CarBBox
	}
	if task.Meta.PlateBBox != nil {
		record["plate_bbox"] = *task.Meta.PlateBBox
	}
	return record
}

// finalizeRecord backfills provenance the upstream stages already know,
// without overwriting anything the record carries explicitly.
func finalizeRecord(task *pipeline.Task, table string, record sink.Record) (sink.Record, error) {
	out := make(sink.Record, len(record)+6)
	for k, v := range record {
		out[k] = v
	}
	setDefault(out, "video_id", task.VideoID)
	if task.FrameIdx >= 0 {
		setDefault(out, "frame_idx", task.FrameIdx)
	}
	setDefault(out, "video_ts_frame", task.Meta.VideoTSFrame)
	if task.Meta.VideoPath != "" {
		setDefault(out, "video_path", task.Meta.VideoPath)
		setDefault(out, "video_filename", filepath.Base(task.Meta.VideoPath))
	}
	if task.Meta.VideoFile != "" {
		setDefault(out, "video_filename", task.Meta.VideoFile)
	}
	if table == sink.TableVehicles {
		setDefault(out, "ts", time.Now().UTC())
		if out.String("final_plate") == "" {
			return nil, fmt.Errorf("vehicles record without final_plate for %s", task)
		}
	}
	return out, nil
}

func setDefault(record sink.Record, key string, value any) {
	if _, ok := record[key]; !ok {
		record[key] = value
	}
}

// FinalWrite hands a finalized record to the sink. Sink errors surface
// as ordinary processor failures; the pipeline never retries them.
func FinalWrite(ctx context.Context, task *pipeline.Task, res any) (any, error) {
	snk, ok := res.(sink.Sink)
	if !ok {
		return nil, BadResourceError
	}
	op, ok := task.Payload.(WriteOp)
	if !ok {
		return nil, BadPayloadError
	}
	record, err := finalizeRecord(task, op.Table, op.Record)
	if err != nil {
		return nil, err
	}
	if err := snk.WriteRecord(ctx, op.Table, record); err != nil {
		return nil, err
	}
	return WriteAck{Table: op.Table}, nil
}
