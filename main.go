package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/warpcomdev/dashcam2/internal/engine"
	"github.com/warpcomdev/dashcam2/internal/fakemodel"
	"github.com/warpcomdev/dashcam2/internal/fakesource"
	"github.com/warpcomdev/dashcam2/internal/pipeline"
	"github.com/warpcomdev/dashcam2/internal/processor"
	"github.com/warpcomdev/dashcam2/internal/sink"
)

// Smoke run: pump one synthetic clip through the whole pipeline and
// print what landed in the sink. The real entry point is cmd/pipeline.
func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	dir, err := os.MkdirTemp("", "dashcam2-smoke")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)
	if err := os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("synthetic"), 0644); err != nil {
		log.Fatal(err)
	}

	memory := sink.NewMemory()
	eng := engine.New(logger, engine.Options{
		InputDir: dir,
		Open:     fakesource.Open(fakesource.Options{Frames: 30}),
		Models: fakemodel.Models(
			fakemodel.Vehicle{Fn: func(frameIdx int) []processor.Detection {
				x := float64(frameIdx)
				return []processor.Detection{{BBox: pipeline.BBox{x, 0, x + 16, 12}, Conf: 0.9, TrackID: 1}}
			}},
			fakemodel.Plate{Fn: func(frameIdx int, carBBox pipeline.BBox) []processor.PlateBox {
				return []processor.PlateBox{{BBox: carBBox, Conf: 0.8}}
			}},
			fakemodel.OCR{Fn: func(frameIdx int, carBBox, plateBBox pipeline.BBox) processor.OCRText {
				return processor.OCRText{Text: "1234XYZ", Conf: 0.7}
			}},
		),
		Sink: memory,
	})
	if err := eng.Run(context.Background()); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("vehicles: %d\n", len(memory.Records(sink.TableVehicles)))
	fmt.Printf("tracks: %d\n", len(memory.Records(sink.TableTracks)))
	fmt.Printf("track motion: %d\n", len(memory.Records(sink.TableTrackMotion)))
	fmt.Printf("frames left in store: %d\n", eng.Store().Len())
}
