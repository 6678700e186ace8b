// Package servicelog builds the zap logger used when running under a
// service manager, with log files rotated by lumberjack.
package servicelog

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/kardianos/service"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

type lumberjackSink struct {
	*lumberjack.Logger
}

// lumberjack has no sync concept, rotation handles durability
func (lumberjackSink) Sync() error {
	return nil
}

// New builds a rotating-file logger under logDir. The root service
// logger only reports where events will land, so early failures are
// visible in the system log.
func New(root service.Logger, logDir string, fileSizeMb int, fileNum int, debug bool) (*zap.Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	zap.RegisterSink("lumberjack", func(u *url.URL) (zap.Sink, error) {
		logPart := strings.Split(u.String(), "/")
		logFile := filepath.Join(logDir, logPart[len(logPart)-1])
		if root != nil {
			root.Info("logging events from ", u.String(), " to folder ", logDir, ", file ", logFile)
		}
		return lumberjackSink{
			Logger: &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    fileSizeMb,
				MaxBackups: fileNum,
			},
		}, nil
	})

	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.OutputPaths = []string{"lumberjack://pipeline.log"}
	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	// Avoid stack traces below panic level
	return logger.WithOptions(zap.AddStacktrace(zap.DPanicLevel)), nil
}
