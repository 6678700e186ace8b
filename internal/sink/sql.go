package sink

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type vehicleRow struct {
	ID              uint `gorm:"primaryKey"`
	VideoID         string
	FrameIdx        int
	TS              time.Time
	FinalPlate      string
	PlateConfidence float64
	CarBBox         datatypes.JSON
	PlateBBox       datatypes.JSON
	VideoPath       string
	VideoFilename   string
}

func (vehicleRow) TableName() string { return TableVehicles }

type trackRow struct {
	ID            uint `gorm:"primaryKey"`
	VideoID       string
	GlobalID      string
	TrackID       int
	FirstFrameIdx int
}

func (trackRow) TableName() string { return TableTracks }

type motionRow struct {
	ID         uint `gorm:"primaryKey"`
	VideoID    string
	GlobalID   string
	FrameIdx   int
	BBox       datatypes.JSON
	VX         float64
	VY         float64
	SpeedPxS   float64
	HeadingDeg float64
	Conf       float64
	Age        int
}

func (motionRow) TableName() string { return TableTrackMotion }

// Database is a Sink backed by gorm. Postgres is the deployment target;
// sqlite covers local runs. The dialect is picked from the DSN.
type Database struct {
	logger *zap.Logger
	db     *gorm.DB
}

func connectBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute
	return bo
}

// Open connects and migrates the three tables, retrying transient
// connection failures with exponential backoff.
func Open(ctx context.Context, logger *zap.Logger, dsn string) (*Database, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.Contains(dsn, "host=") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	var db *gorm.DB
	err := backoff.Retry(func() error {
		var err error
		db, err = gorm.Open(dialector, &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			logger.Warn("sink connect failed", zap.Error(err))
		}
		return err
	}, backoff.WithContext(connectBackoff(), ctx))
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&vehicleRow{}, &trackRow{}, &motionRow{}); err != nil {
		return nil, err
	}
	return &Database{logger: logger, db: db}, nil
}

// WriteRecord implements Sink
func (d *Database) WriteRecord(ctx context.Context, table string, record Record) error {
	var row any
	switch table {
	case TableVehicles:
		row = &vehicleRow{
			VideoID:         record.String("video_id"),
			FrameIdx:        record.Int("frame_idx"),
			TS:              recordTime(record, "ts"),
			FinalPlate:      record.String("final_plate"),
			PlateConfidence: record.Float("plate_confidence"),
			CarBBox:         recordJSON(record, "car_bbox"),
			PlateBBox:       recordJSON(record, "plate_bbox"),
			VideoPath:       record.String("video_path"),
			VideoFilename:   record.String("video_filename"),
		}
	case TableTracks:
		row = &trackRow{
			VideoID:       record.String("video_id"),
			GlobalID:      record.String("global_id"),
			TrackID:       record.Int("track_id"),
			FirstFrameIdx: record.Int("first_frame_idx"),
		}
	case TableTrackMotion:
		row = &motionRow{
			VideoID:    record.String("video_id"),
			GlobalID:   record.String("global_id"),
			FrameIdx:   record.Int("frame_idx"),
			BBox:       recordJSON(record, "bbox"),
			VX:         record.Float("vx"),
			VY:         record.Float("vy"),
			SpeedPxS:   record.Float("speed_px_s"),
			HeadingDeg: record.Float("heading_deg"),
			Conf:       record.Float("conf"),
			Age:        record.Int("age"),
		}
	default:
		return UnknownTableError
	}
	return d.db.WithContext(ctx).Create(row).Error
}

// Close the underlying connection pool
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordTime(record Record, key string) time.Time {
	if ts, ok := record[key].(time.Time); ok {
		return ts
	}
	return time.Now().UTC()
}

func recordJSON(record Record, key string) datatypes.JSON {
	v, ok := record[key]
	if !ok || v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
