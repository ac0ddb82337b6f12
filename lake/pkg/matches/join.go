package matches

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/alitto/pond/v2"

	"github.com/malbeclabs/matchlake/lake/pkg/bucket"
	"github.com/malbeclabs/matchlake/lake/pkg/catalog"
	"github.com/malbeclabs/matchlake/lake/pkg/duck"
	"github.com/malbeclabs/matchlake/lake/pkg/relation"
)

// ErrBroadcastTooLarge is returned when a dimension relation exceeds the broadcast threshold.
var ErrBroadcastTooLarge = errors.New("relation too large to broadcast")

// BroadcastDisabled turns off the broadcast size check.
const BroadcastDisabled = -1

type AssemblerConfig struct {
	Logger *slog.Logger
	Store  *Store
	Tables Tables

	// Concurrency is the number of buckets joined at the same time. Defaults to NumCPU.
	Concurrency int
	// BroadcastThreshold is the largest row count a broadcast relation may have. A negative
	// value disables the check.
	BroadcastThreshold int
}

func (cfg *AssemblerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative (got %d)", cfg.Concurrency)
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	return nil
}

// Assembler joins the bucketed tables bucket by bucket inside the engine. Each bucket's join
// reads only its own slice of the three inputs plus the two broadcast dimension tables and
// appends its rows to the joined table.
type Assembler struct {
	log  *slog.Logger
	cfg  AssemblerConfig
	pool pond.ResultPool[int64]
}

func NewAssembler(cfg AssemblerConfig) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[int64](cfg.Concurrency),
	}, nil
}

// Close waits for in-flight bucket joins and releases the worker pool.
func (a *Assembler) Close() {
	a.pool.StopAndWait()
}

// Assemble replaces the contents of the joined table with the join of the three bucketed
// inputs, medals and maps, and returns the number of joined rows. The joined table keeps the
// bucket layout of its inputs; read it back with Store.ReadTable or Store.ReadBucket.
func (a *Assembler) Assemble(ctx context.Context, medals, maps *relation.Relation) (int, error) {
	spec, err := a.checkLayouts(ctx)
	if err != nil {
		return 0, err
	}

	if err := a.broadcast(ctx, Medals.Name, MedalsDimension, medals); err != nil {
		return 0, err
	}
	if err := a.broadcast(ctx, Maps.Name, MapsDimension, maps); err != nil {
		return 0, err
	}
	if err := a.clearJoined(ctx); err != nil {
		return 0, err
	}

	group := a.pool.NewGroupContext(ctx)
	for b := range spec.Count {
		group.SubmitErr(func() (int64, error) {
			return a.joinBucket(ctx, b)
		})
	}
	counts, err := group.Wait()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	a.log.Info("matches/join: assembled", "table", a.cfg.Tables.Joined.Name, "rows", total, "buckets", spec.Count, "concurrency", a.cfg.Concurrency)
	return int(total), nil
}

// checkLayouts requires every table to be declared and recorded with the same bucket spec.
func (a *Assembler) checkLayouts(ctx context.Context) (bucket.Spec, error) {
	conn, err := a.cfg.Store.cfg.DB.Conn(ctx)
	if err != nil {
		return bucket.Spec{}, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	tables := a.cfg.Tables.All()
	spec := tables[0].Bucket
	for _, t := range tables {
		if !t.Bucket.Equal(spec) {
			return bucket.Spec{}, fmt.Errorf("%w: %s is declared %s, %s is declared %s", ErrLayoutMismatch, tables[0].Name, spec, t.Name, t.Bucket)
		}
		layout, err := catalog.DescribeLayout(ctx, conn, t.Name)
		if err != nil {
			return bucket.Spec{}, err
		}
		if !layout.Matches(t) {
			return bucket.Spec{}, fmt.Errorf("%w: %s provisioned as %s, join uses %s", ErrLayoutMismatch, t.Name, layout.Bucket, t.Bucket)
		}
	}
	return spec, nil
}

func (a *Assembler) broadcast(ctx context.Context, name string, d Dimension, rel *relation.Relation) error {
	if a.cfg.BroadcastThreshold >= 0 && rel.Len() > a.cfg.BroadcastThreshold {
		return fmt.Errorf("%w: %s has %d rows, threshold is %d", ErrBroadcastTooLarge, name, rel.Len(), a.cfg.BroadcastThreshold)
	}
	n, err := a.cfg.Store.WriteDimension(ctx, d, rel)
	if err != nil {
		return fmt.Errorf("failed to broadcast %s: %w", name, err)
	}
	a.log.Debug("matches/join: broadcast relation", "relation", name, "table", d.Table, "rows", n)
	return nil
}

func (a *Assembler) clearJoined(ctx context.Context) error {
	conn, err := a.cfg.Store.cfg.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	name := a.cfg.Tables.Joined.Name
	return duck.RetryOnConflict(ctx, a.log, "clear table "+name, func() error {
		if _, err := conn.ExecContext(ctx, "DELETE FROM "+duck.QualifiedName(conn.DB(), name)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", name, err)
		}
		return nil
	})
}

// bucketJoinSQL joins one bucket of match_details, matches and medals_matches_players on
// match_id and looks up names in the two dimension tables. medals_matches_players joins on match_id only,
// so every player of a match pairs with every medal row of that match.
const bucketJoinSQL = `INSERT INTO %[1]s (%[2]s)
	SELECT
		m.match_id,
		m.map_id,
		m.playlist_id,
		md.player_gamertag,
		md.player_total_kills,
		mmp.medal_id,
		mmp."count",
		medals.name,
		maps.name,
		md.bucket_id
	FROM %[3]s md
	JOIN %[4]s m ON m.bucket_id = md.bucket_id AND m.match_id = md.match_id
	JOIN %[5]s mmp ON mmp.bucket_id = m.bucket_id AND mmp.match_id = m.match_id
	JOIN %[6]s medals ON medals.medal_id = mmp.medal_id
	JOIN %[7]s maps ON maps.mapid = m.map_id
	WHERE md.bucket_id = ? AND m.bucket_id = ? AND mmp.bucket_id = ?
	ORDER BY m.match_id, md.player_gamertag, mmp.medal_id, mmp."count"`

func (a *Assembler) joinBucket(ctx context.Context, b int) (int64, error) {
	conn, err := a.cfg.Store.cfg.DB.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("bucket %d: failed to get connection: %w", b, err)
	}
	defer conn.Close()

	db := conn.DB()
	tables := a.cfg.Tables
	query := fmt.Sprintf(bucketJoinSQL,
		duck.QualifiedName(db, tables.Joined.Name),
		strings.Join(append(tables.Joined.ColumnNames(), bucket.Column), ", "),
		duck.QualifiedName(db, tables.MatchDetails.Name),
		duck.QualifiedName(db, tables.Matches.Name),
		duck.QualifiedName(db, tables.MedalsMatchesPlayers.Name),
		duck.QualifiedName(db, MedalsTable),
		duck.QualifiedName(db, MapsTable),
	)

	var rows int64
	err = duck.RetryOnConflict(ctx, a.log, fmt.Sprintf("join bucket %d", b), func() error {
		res, err := conn.ExecContext(ctx, query, b, b, b)
		if err != nil {
			return fmt.Errorf("bucket %d: failed to join: %w", b, err)
		}
		rows, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("bucket %d: failed to count joined rows: %w", b, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	a.log.Debug("matches/join: bucket joined", "bucket", b, "rows", rows)
	return rows, nil
}
