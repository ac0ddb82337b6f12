package matches

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/matchlake/lake/pkg/duck"
	"github.com/malbeclabs/matchlake/lake/pkg/relation"
)

// Sources holds the five input relations. Every column is String.
type Sources struct {
	MatchDetails         *relation.Relation
	Matches              *relation.Relation
	MedalsMatchesPlayers *relation.Relation
	Medals               *relation.Relation
	Maps                 *relation.Relation
}

// Ingest reads every dataset from <inputRoot>/<name>.csv.
func Ingest(ctx context.Context, log *slog.Logger, conn duck.Connection, inputRoot string) (*Sources, error) {
	read := func(d Dataset) (*relation.Relation, error) {
		path := d.Path(inputRoot)
		columns, rows, err := duck.ReadCSV(ctx, conn, path)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", d.Name, err)
		}
		rel, err := relation.FromStrings(columns, rows)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", d.Name, err)
		}
		for _, c := range d.Required {
			if _, err := rel.Schema().Index(c); err != nil {
				return nil, fmt.Errorf("dataset %s (%s): %w", d.Name, path, err)
			}
		}
		log.Debug("matches/ingest: read dataset", "dataset", d.Name, "path", path, "rows", rel.Len(), "columns", len(columns))
		return rel, nil
	}

	var s Sources
	targets := []struct {
		dataset Dataset
		dst     **relation.Relation
	}{
		{MatchDetails, &s.MatchDetails},
		{Matches, &s.Matches},
		{MedalsMatchesPlayers, &s.MedalsMatchesPlayers},
		{Medals, &s.Medals},
		{Maps, &s.Maps},
	}
	for _, t := range targets {
		rel, err := read(t.dataset)
		if err != nil {
			return nil, err
		}
		*t.dst = rel
	}
	return &s, nil
}
