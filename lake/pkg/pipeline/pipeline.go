package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/matchlake/lake/pkg/catalog"
	"github.com/malbeclabs/matchlake/lake/pkg/duck"
	"github.com/malbeclabs/matchlake/lake/pkg/matches"
	"github.com/malbeclabs/matchlake/lake/pkg/pipeline/metrics"
	"github.com/malbeclabs/matchlake/lake/pkg/relation"
)

const (
	StageIngest      = "ingest"
	StageProvision   = "provision"
	StageMaterialize = "materialize"
	StageJoin        = "join"
	StageReport      = "report"
)

// Stages lists the pipeline stages in execution order.
var Stages = []string{StageIngest, StageProvision, StageMaterialize, StageJoin, StageReport}

type Result struct {
	Tables      matches.Tables
	RowsWritten map[string]int
	JoinedRows  int
	Reports     []matches.Result
	Durations   map[string]time.Duration
}

// Run executes ingestion, provisioning, bucketed materialization, join assembly and the
// report queries in order, writing the rendered report to cfg.Output. The first failing
// stage stops the run and names itself in the returned error.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &runner{
		log: cfg.Logger,
		cfg: cfg,
		res: &Result{
			Tables:      matches.NewTables(cfg.BucketCount),
			RowsWritten: make(map[string]int),
			Durations:   make(map[string]time.Duration),
		},
	}

	start := cfg.Clock.Now()
	err := r.run(ctx)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("error").Inc()
		r.log.Error("pipeline: run failed", "error", err, "duration", cfg.Clock.Since(start).String())
		return nil, err
	}
	metrics.RunsTotal.WithLabelValues("success").Inc()
	r.log.Info("pipeline: run completed", "joined_rows", r.res.JoinedRows, "duration", cfg.Clock.Since(start).String())
	return r.res, nil
}

type runner struct {
	log *slog.Logger
	cfg Config
	res *Result
}

func (r *runner) run(ctx context.Context) error {
	conn, err := r.cfg.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	store, err := matches.NewStore(matches.StoreConfig{Logger: r.log, DB: r.cfg.DB})
	if err != nil {
		return err
	}
	tables := r.res.Tables

	var src *matches.Sources
	if err := r.stage(StageIngest, func() error {
		src, err = matches.Ingest(ctx, r.log, conn, r.cfg.InputRoot)
		return err
	}); err != nil {
		return err
	}

	if err := r.stage(StageProvision, func() error {
		for _, t := range tables.All() {
			if err := catalog.Provision(ctx, r.log, conn, t); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := r.stage(StageMaterialize, func() error {
		return r.materialize(ctx, conn, store, src)
	}); err != nil {
		return err
	}

	if err := r.stage(StageJoin, func() error {
		assembler, err := matches.NewAssembler(matches.AssemblerConfig{
			Logger:             r.log,
			Store:              store,
			Tables:             tables,
			Concurrency:        r.cfg.Concurrency,
			BroadcastThreshold: r.cfg.BroadcastThreshold,
		})
		if err != nil {
			return err
		}
		defer assembler.Close()

		r.res.JoinedRows, err = assembler.Assemble(ctx, src.Medals, src.Maps)
		if err != nil {
			return err
		}
		metrics.RowsJoined.Set(float64(r.res.JoinedRows))

		if r.cfg.VerifyLayouts {
			if err := catalog.VerifyLayout(ctx, conn, tables.Joined); err != nil {
				return err
			}
			r.log.Debug("pipeline: layout verified", "table", tables.Joined.Name, "bucket", tables.Joined.Bucket.String())
		}
		return nil
	}); err != nil {
		return err
	}

	return r.stage(StageReport, func() error {
		r.res.Reports, err = matches.RunQueries(ctx, conn, tables.Joined, matches.Queries(r.cfg.MedalFilter))
		if err != nil {
			return err
		}
		return matches.RenderResults(r.cfg.Output, r.res.Reports)
	})
}

func (r *runner) materialize(ctx context.Context, conn duck.Connection, store *matches.Store, src *matches.Sources) error {
	for _, m := range r.res.Tables.Materializations() {
		projected, err := relation.Project(m.Source(src), m.Project...)
		if err != nil {
			return fmt.Errorf("table %s: %w", m.Table.Name, err)
		}
		n, err := store.WriteBucketed(ctx, m.Table, projected)
		if err != nil {
			return err
		}
		r.res.RowsWritten[m.Table.Name] = n
		metrics.RowsWritten.WithLabelValues(m.Table.Name).Add(float64(n))

		if r.cfg.VerifyLayouts {
			if err := catalog.VerifyLayout(ctx, conn, m.Table); err != nil {
				return err
			}
			r.log.Debug("pipeline: layout verified", "table", m.Table.Name, "bucket", m.Table.Bucket.String())
		}
	}
	return nil
}

func (r *runner) stage(name string, fn func() error) error {
	start := r.cfg.Clock.Now()
	err := fn()
	duration := r.cfg.Clock.Since(start)
	r.res.Durations[name] = duration
	metrics.StageDuration.WithLabelValues(name).Observe(duration.Seconds())
	if err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	r.log.Info("pipeline: stage completed", "stage", name, "duration", duration.String())
	return nil
}
