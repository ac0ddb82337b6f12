package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/matchlake/lake/pkg/duck"
	"github.com/malbeclabs/matchlake/lake/pkg/matches"
)

const (
	DefaultInputRoot   = "/home/iceberg/data"
	DefaultBucketCount = 16
)

type Config struct {
	Logger *slog.Logger
	DB     duck.DB
	Clock  clockwork.Clock

	// InputRoot is the directory holding the five <dataset>.csv files.
	InputRoot string
	// BucketCount is the number of buckets of every materialized table.
	BucketCount int
	// MedalFilter is the medal name counted by the last report query.
	MedalFilter string
	// Concurrency is the number of buckets joined at the same time.
	Concurrency int
	// BroadcastThreshold caps the rows of a broadcast relation. Zero or negative disables it.
	BroadcastThreshold int
	// VerifyLayouts checks every written row against its table's bucket layout.
	VerifyLayouts bool

	// Output receives the rendered report. Defaults to stdout.
	Output io.Writer
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	if cfg.BucketCount < 0 {
		return fmt.Errorf("bucket count must be greater than 0 (got %d)", cfg.BucketCount)
	}
	if cfg.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative (got %d)", cfg.Concurrency)
	}

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.InputRoot == "" {
		cfg.InputRoot = DefaultInputRoot
	}
	if cfg.BucketCount == 0 {
		cfg.BucketCount = DefaultBucketCount
	}
	if cfg.MedalFilter == "" {
		cfg.MedalFilter = matches.DefaultMedalFilter
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.BroadcastThreshold <= 0 {
		cfg.BroadcastThreshold = matches.BroadcastDisabled
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return nil
}
