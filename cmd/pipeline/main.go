package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warpcomdev/dashcam2/internal/engine"
	"github.com/warpcomdev/dashcam2/internal/fakemodel"
	"github.com/warpcomdev/dashcam2/internal/fakesource"
	"github.com/warpcomdev/dashcam2/internal/pipeline"
	"github.com/warpcomdev/dashcam2/internal/processor"
	"github.com/warpcomdev/dashcam2/internal/servicelog"
	"github.com/warpcomdev/dashcam2/internal/sink"
)

var (
	startMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "start",
		Help: "Start timestamp of the app (unix)",
	})

	serviceStartMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "service_start",
		Help: "Start timestamp of the service (unix)",
	})

	serviceStopMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "service_stop",
		Help: "Stop timestamp of the service (unix)",
	})

	statusMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "status",
		Help: "Service status",
	})
)

type program struct {
	Logger *zap.Logger
	Config Config
	Cancel func()
}

func (p *program) Start(s service.Service) error {
	// Start should not block. Do the actual work async.
	p.Logger.Info("start signal received")
	if p.Cancel != nil {
		if err := p.Stop(s); err != nil {
			return err
		}
	}
	ctx, cancelFunc := context.WithCancel(context.Background())
	p.Cancel = cancelFunc
	serviceStartMetric.SetToCurrentTime()
	statusMetric.Set(1)
	go func() {
		defer serviceStopMetric.SetToCurrentTime()
		defer statusMetric.Set(0)
		p.Run(ctx)
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	// Stop should not block. Return within a few seconds.
	p.Logger.Info("stop signal received")
	if p.Cancel != nil {
		cancel := p.Cancel
		p.Cancel = nil
		// Close the service in the background
		wait := make(chan struct{})
		go func() {
			defer close(wait)
			cancel()
		}()
		// Wait up to two seconds for cancellation
		select {
		case <-wait:
			break
		case <-time.After(2 * time.Second):
			break
		}
	}
	return nil
}

func (p *program) Run(ctx context.Context) {
	mux := &http.ServeMux{}
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/", http.DefaultServeMux)
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", p.Config.Port),
		Handler:        mux,
		ReadTimeout:    time.Duration(p.Config.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(p.Config.WriteTimeoutSeconds) * time.Second,
		MaxHeaderBytes: p.Config.MaxHeaderBytes,
	}

	var recordSink sink.Sink
	if p.Config.DatabaseDSN != "" {
		db, err := sink.Open(ctx, p.Logger, p.Config.DatabaseDSN)
		if err != nil {
			p.Logger.Error("failed to open database sink", zap.Error(err))
			return
		}
		recordSink = db
	} else {
		p.Logger.Warn("no database configured, keeping records in memory")
		recordSink = sink.NewMemory()
	}
	defer recordSink.Close()

	opts := p.Config.EngineOptions()
	opts.Open = fakesource.Open(fakesource.Options{
		Frames: p.Config.FakeFrames,
		FPS:    p.Config.FakeFPS,
	})
	opts.Models = demoModels()
	opts.Sink = recordSink
	eng := engine.New(p.Logger, opts)

	var wg sync.WaitGroup
	defer wg.Wait()
	// Launch the HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer srv.Close()
			<-ctx.Done()
		}()
		srv.ListenAndServe()
	}()
	// Launch the pipeline. Context cancellation maps onto the staged
	// stop so a service stop still drains the backlog.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		eng.Coordinator().Stop()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(context.Background()); err != nil {
			p.Logger.Error("pipeline failed", zap.Error(err))
		}
	}()
}

// demoModels returns scripted stand-ins for the inference models: one
// tracked vehicle with a readable plate every few frames. Real models
// plug in through the same constructors.
func demoModels() processor.Models {
	vehicle := fakemodel.Vehicle{
		Fn: func(frameIdx int) []processor.Detection {
			x := float64(frameIdx % 32)
			return []processor.Detection{
				{BBox: pipeline.BBox{x, 10, x + 20, 26}, Conf: 0.9, TrackID: 1},
			}
		},
	}
	plate := fakemodel.Plate{
		Fn: func(frameIdx int, carBBox pipeline.BBox) []processor.PlateBox {
			if frameIdx%3 != 0 {
				return nil
			}
			return []processor.PlateBox{
				{BBox: pipeline.BBox{carBBox[0] + 4, carBBox[1] + 8, carBBox[0] + 12, carBBox[1] + 12}, Conf: 0.8},
			}
		},
	}
	ocr := fakemodel.OCR{
		Fn: func(frameIdx int, carBBox, plateBBox pipeline.BBox) processor.OCRText {
			return processor.OCRText{Text: "5612ABC", Conf: 0.75}
		},
	}
	return fakemodel.Models(vehicle, plate, ocr)
}

func main() {
	svcConfig := &service.Config{
		Name:        "DashcamPipeline",
		DisplayName: "Dashcam plate recognition pipeline",
		Description: "Process dashcam videos into vehicle and plate records",
	}

	var configPath string
	flag.StringVar(&configPath, "c", "/etc/dashcam2/config.toml", "path to config file")
	flag.Parse()

	// Load config
	var config Config
	_, err := toml.DecodeFile(configPath, &config)
	if err != nil {
		panic(err)
	}
	config.FromEnv()
	if err := config.Check(configPath); err != nil {
		panic(err)
	}

	prg := &program{
		Config: config,
	}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		log.Fatalf("new service failed: %v", err)
	}
	rootLogger, err := s.Logger(nil)
	if err != nil {
		log.Fatalf("can't get service logger: %v", err)
	}
	logger, err := servicelog.New(rootLogger, config.LogFolder, config.LogFileSizeMb, config.LogFileNum, config.Debug)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	prg.Logger = logger

	anonimizedConfig := config
	anonimizedConfig.DatabaseDSN = "********"
	logger.Info("config", zap.Any("config", anonimizedConfig))

	startMetric.SetToCurrentTime()
	args := flag.Args()
	if len(args) > 1 {
		err = service.Control(s, args[1])
		if err != nil {
			logger.Fatal("service control failed", zap.Error(err))
		}
		return
	}

	logger.Info("starting service manager")
	err = s.Run()
	if err != nil {
		logger.Error("run failed", zap.Error(err))
	}
}
