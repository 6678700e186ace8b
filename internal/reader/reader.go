// Package reader turns video files into VEHICLE_DETECT tasks. Decoding
// itself stays behind the Decoder interface; the reader owns frame
// ordering, frame-store registration and lane backpressure.
package reader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/warpcomdev/dashcam2/internal/framestore"
	"github.com/warpcomdev/dashcam2/internal/pipeline"
)

// Frame is one decoded frame
type Frame struct {
	Data []byte
	TSMs float64 // container timestamp, 0 when unknown
}

// Decoder produces the frames of one video in order
type Decoder interface {
	// Next returns the next frame. ok is false at end of stream.
	Next(ctx context.Context) (frame Frame, ok bool, err error)
	// FPS as reported by the container, 0 when unknown
	FPS() float64
	Close() error
}

// OpenFunc opens a decoder for a path
type OpenFunc func(path string) (Decoder, error)

// Options tune one reader
type Options struct {
	GPUBacklogLimit   int // pause while the GPU lane is deeper than this
	CPUBacklogLimit   int // pause while the CPU lane is deeper than this
	PollInterval      time.Duration // 0 means 20ms
	PushRetryInterval time.Duration // 0 means 20ms
}

// VideoReader reads one video to completion, or until stop
type VideoReader struct {
	logger  *zap.Logger
	queue   *pipeline.CentralQueue
	store   *framestore.Store
	coord   *pipeline.Coordinator
	opts    Options
	path    string
	videoID string
	dec     Decoder
}

// New opens the video. An unopenable file aborts this reader only.
func New(logger *zap.Logger, queue *pipeline.CentralQueue, store *framestore.Store, coord *pipeline.Coordinator, open OpenFunc, path string, opts Options) (*VideoReader, error) {
	dec, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	if opts.PushRetryInterval <= 0 {
		opts.PushRetryInterval = 20 * time.Millisecond
	}
	base := filepath.Base(path)
	videoID := strings.TrimSuffix(base, filepath.Ext(base))
	return &VideoReader{
		logger:  logger.With(zap.String("video", videoID)),
		queue:   queue,
		store:   store,
		coord:   coord,
		opts:    opts,
		path:    path,
		videoID: videoID,
		dec:     dec,
	}, nil
}

// Run reads the whole video frame by frame, honoring lane backpressure
func (r *VideoReader) Run(ctx context.Context) error {
	defer r.dec.Close()

	frameIdx := 0
	blocked := false
	for !r.coord.Stopped() && ctx.Err() == nil {
		if over, lane := r.overloaded(); over {
			// Log the edge, not every poll
			if !blocked {
				blocked = true
				r.logger.Info("reader paused on backpressure", zap.String("lane", lane))
			}
			select {
			case <-ctx.Done():
			case <-r.coord.Stopping():
			case <-time.After(r.opts.PollInterval):
			}
			continue
		}
		if blocked {
			blocked = false
			r.logger.Info("reader resumed")
		}

		frame, ok, err := r.dec.Next(ctx)
		if err != nil {
			r.logger.Error("decoder failed", zap.Int("frame", frameIdx), zap.Error(err))
			return err
		}
		if !ok {
			break
		}
		if err := r.enqueue(ctx, frameIdx, frame); err != nil {
			return err
		}
		frameIdx++
	}
	r.logger.Info("finished reading video", zap.Int("frames", frameIdx))
	return nil
}

func (r *VideoReader) overloaded() (bool, string) {
	if r.queue.GPUBacklog() > r.opts.GPUBacklogLimit {
		return true, "gpu"
	}
	if r.queue.CPUBacklog() > r.opts.CPUBacklogLimit {
		return true, "cpu"
	}
	return false, ""
}

// enqueue saves the frame (its entry starts holding the new task's
// reference) and pushes the detection task, retrying hard-limit
// refusals until the queue accepts. Abandoning the push on terminate
// releases the reference again so the frame does not leak.
func (r *VideoReader) enqueue(ctx context.Context, frameIdx int, frame Frame) error {
	ref := r.store.Save(r.videoID, frameIdx, frame.Data)
	task := &pipeline.Task{
		Category: pipeline.VehicleDetect,
		Payload:  frame.Data,
		VideoID:  r.videoID,
		FrameIdx: frameIdx,
		Meta: pipeline.Meta{
			PayloadRef:   ref,
			Dependencies: []framestore.Ref{ref},
			VideoPath:    r.path,
			VideoFile:    filepath.Base(r.path),
			VideoTSFrame: frameIdx,
			VideoTSMs:    frame.TSMs,
			FPS:          r.dec.FPS(),
		},
	}
	if r.queue.Push(task) {
		return nil
	}
	bo := backoff.WithContext(backoff.NewConstantBackOff(r.opts.PushRetryInterval), ctx)
	err := backoff.Retry(func() error {
		if r.coord.Terminated() {
			return &backoff.PermanentError{Err: fmt.Errorf("terminating, dropping frame %d", frameIdx)}
		}
		if !r.queue.Push(task) {
			return fmt.Errorf("detect queue full")
		}
		return nil
	}, bo)
	if err != nil {
		r.store.ReleaseRefs(task.Meta.Dependencies)
		r.logger.Warn("frame dropped", zap.Int("frame", frameIdx), zap.Error(err))
		return err
	}
	return nil
}
