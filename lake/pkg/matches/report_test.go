package matches

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/matchlake/lake/pkg/catalog"
	"github.com/malbeclabs/matchlake/lake/pkg/duck"
	"github.com/malbeclabs/matchlake/lake/pkg/relation"
)

// joinedTable writes rows into a provisioned joined table and returns a connection to it.
func joinedTable(t *testing.T, rows ...[]relation.Value) (duck.Connection, catalog.TableConfig) {
	t.Helper()
	ctx := context.Background()

	types := map[string]relation.Type{"player_total_kills": relation.Int, "medal_count": relation.Int}
	cols := make([]relation.Column, len(OutputColumns))
	for i, name := range OutputColumns {
		cols[i] = relation.Column{Name: name, Type: types[name]}
	}
	rel, err := relation.New(cols, rows)
	require.NoError(t, err)

	db := testDB(t)
	joined := NewTables(4).Joined
	provision(t, db, joined)
	_, err = testStore(t, db).WriteBucketed(ctx, joined, rel)
	require.NoError(t, err)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, joined
}

func runQuery(t *testing.T, conn duck.Connection, joined catalog.TableConfig, medalFilter, name string) *relation.Relation {
	t.Helper()
	for _, q := range Queries(medalFilter) {
		if q.Name == name {
			out, err := q.Run(context.Background(), conn, joined)
			require.NoError(t, err)
			return out
		}
	}
	t.Fatalf("no query named %s", name)
	return nil
}

func TestLake_Matches_Queries_MostKills(t *testing.T) {
	t.Parallel()

	// Three matches with two players each and one medal row per match.
	conn, joined := joinedTable(t,
		[]relation.Value{"m1", "map-a", "pl-1", "p1", int64(10), "md-1", int64(1), "Double Kill", "Alpine"},
		[]relation.Value{"m1", "map-a", "pl-1", "p2", int64(3), "md-1", int64(1), "Double Kill", "Alpine"},
		[]relation.Value{"m2", "map-b", "pl-1", "p1", int64(4), "md-1", int64(1), "Double Kill", "Beaver Creek"},
		[]relation.Value{"m2", "map-b", "pl-1", "p2", int64(20), "md-1", int64(1), "Double Kill", "Beaver Creek"},
		[]relation.Value{"m3", "map-a", "pl-2", "p1", int64(8), "md-1", int64(1), "Double Kill", "Alpine"},
		[]relation.Value{"m3", "map-a", "pl-2", "p2", int64(1), "md-1", int64(1), "Double Kill", "Alpine"},
	)

	out := runQuery(t, conn, joined, DefaultMedalFilter, "most_kills")
	require.Equal(t, []string{"player_gamertag", "total_kills"}, out.Schema().Names())
	require.Equal(t, [][]relation.Value{{"p2", int64(24)}}, out.Rows())

	require.Equal(t, [][]relation.Value{{"pl-1", int64(4)}}, runQuery(t, conn, joined, DefaultMedalFilter, "most_played_playlist").Rows())
	require.Equal(t, [][]relation.Value{{"map-a", "Alpine", int64(4)}}, runQuery(t, conn, joined, DefaultMedalFilter, "most_played_map").Rows())
	require.Equal(t, 0, runQuery(t, conn, joined, DefaultMedalFilter, "most_medals_map").Len())
}

func TestLake_Matches_Queries_MedalFilter(t *testing.T) {
	t.Parallel()

	conn, joined := joinedTable(t,
		[]relation.Value{"m1", "map-a", "pl-1", "p1", int64(1), "md-kf", int64(1), "Killing Frenzy", "Alpine"},
		[]relation.Value{"m1", "map-a", "pl-1", "p2", int64(1), "md-kf", int64(2), "Killing Frenzy", "Alpine"},
		[]relation.Value{"m1", "map-a", "pl-1", "p3", int64(1), "md-kf", int64(1), "Killing Frenzy", "Alpine"},
		[]relation.Value{"m2", "map-b", "pl-1", "p1", int64(1), "md-kf", int64(1), "Killing Frenzy", "Beaver Creek"},
		[]relation.Value{"m2", "map-b", "pl-1", "p1", int64(1), "md-ks", int64(9), "Killing Spree", "Beaver Creek"},
		[]relation.Value{"m2", "map-b", "pl-1", "p2", int64(1), "md-ks", int64(9), "Killing Spree", "Beaver Creek"},
		[]relation.Value{"m2", "map-b", "pl-1", "p3", int64(1), "md-ks", int64(9), "Killing Spree", "Beaver Creek"},
		[]relation.Value{"m2", "map-b", "pl-1", "p4", int64(1), "md-ks", int64(9), "Killing Spree", "Beaver Creek"},
		[]relation.Value{"m3", "map-c", "pl-1", "p1", int64(1), "md-x", int64(1), nil, "Coliseum"},
	)

	out := runQuery(t, conn, joined, DefaultMedalFilter, "most_medals_map")
	require.Equal(t, []string{"map_id", "map_name", "medal_name", "count"}, out.Schema().Names())
	require.Equal(t, [][]relation.Value{{"map-a", "Alpine", "Killing Frenzy", int64(3)}}, out.Rows())

	spree := runQuery(t, conn, joined, "Killing Spree", "most_medals_map")
	require.Equal(t, [][]relation.Value{{"map-b", "Beaver Creek", "Killing Spree", int64(4)}}, spree.Rows())
	require.Equal(t, "Which map do players get the most Killing Spree medals on?", Queries("Killing Spree")[3].Question)
}

func TestLake_Matches_Queries_TiesGoToSmallestKey(t *testing.T) {
	t.Parallel()

	conn, joined := joinedTable(t,
		[]relation.Value{"m1", "map-z", "pl-z", "zed", int64(5), "md-1", int64(1), "Killing Frenzy", "Zanzibar"},
		[]relation.Value{"m2", "map-a", "pl-a", "amy", int64(5), "md-1", int64(1), "Killing Frenzy", "Alpine"},
	)

	require.Equal(t, [][]relation.Value{{"amy", int64(5)}}, runQuery(t, conn, joined, DefaultMedalFilter, "most_kills").Rows())
	require.Equal(t, [][]relation.Value{{"pl-a", int64(1)}}, runQuery(t, conn, joined, DefaultMedalFilter, "most_played_playlist").Rows())
	require.Equal(t, [][]relation.Value{{"map-a", "Alpine", int64(1)}}, runQuery(t, conn, joined, DefaultMedalFilter, "most_played_map").Rows())
}

func TestLake_Matches_Queries_SQL(t *testing.T) {
	t.Parallel()

	q := Queries("Killing Frenzy")
	require.Equal(t,
		`SELECT "player_gamertag", CAST(SUM(player_total_kills) AS BIGINT) AS "total_kills" FROM joined GROUP BY "player_gamertag" ORDER BY "total_kills" DESC NULLS LAST, "player_gamertag" ASC NULLS FIRST LIMIT 1`,
		q[0].SQL("joined"))
	require.Equal(t,
		`SELECT "map_id", "map_name", "medal_name", COUNT(*) AS "count" FROM joined WHERE "medal_name" = ? GROUP BY "map_id", "map_name", "medal_name" ORDER BY "count" DESC NULLS LAST, "map_id" ASC NULLS FIRST, "map_name" ASC NULLS FIRST, "medal_name" ASC NULLS FIRST LIMIT 1`,
		q[3].SQL("joined"))
	require.Equal(t, []any{"Killing Frenzy"}, q[3].Args)
}

func TestLake_Matches_Queries_NullKillsSortLast(t *testing.T) {
	t.Parallel()

	conn, joined := joinedTable(t,
		[]relation.Value{"m1", "map-a", "pl-1", "aaa", nil, "md-1", int64(1), "Double Kill", "Alpine"},
		[]relation.Value{"m1", "map-a", "pl-1", "zed", int64(1), "md-1", int64(1), "Double Kill", "Alpine"},
	)
	require.Equal(t, [][]relation.Value{{"zed", int64(1)}}, runQuery(t, conn, joined, DefaultMedalFilter, "most_kills").Rows())
}

func TestLake_Matches_Queries_Order(t *testing.T) {
	t.Parallel()

	var names []string
	for _, q := range Queries(DefaultMedalFilter) {
		names = append(names, q.Name)
	}
	require.Equal(t, []string{"most_kills", "most_played_playlist", "most_played_map", "most_medals_map"}, names)
}

func TestLake_Matches_Render(t *testing.T) {
	t.Parallel()

	rel, err := relation.New([]relation.Column{
		{Name: "player_gamertag", Type: relation.String},
		{Name: "total_kills", Type: relation.Int},
	}, [][]relation.Value{{"EcZachly", int64(1503498)}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, "Which player averages the most kills per game?", rel))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "Which player averages the most kills per game?\n"))
	require.Contains(t, out, "| player_gamertag | total_kills |")
	require.Contains(t, out, "| EcZachly        | 1503498     |")
	require.Contains(t, out, "+-----------------+-------------+")
}

func TestLake_Matches_RunQueries(t *testing.T) {
	t.Parallel()

	conn, joined := joinedTable(t,
		[]relation.Value{"m1", "map-a", "pl-1", "p1", int64(3), "md-1", int64(1), "Killing Frenzy", "Alpine"},
	)
	results, err := RunQueries(context.Background(), conn, joined, Queries(DefaultMedalFilter))
	require.NoError(t, err)
	require.Len(t, results, 4)

	var buf bytes.Buffer
	require.NoError(t, RenderResults(&buf, results))
	require.Contains(t, buf.String(), "Which map gets played the most?")
	require.Contains(t, buf.String(), "Killing Frenzy")

	missing := joined
	missing.Name = "not_provisioned"
	_, err = RunQueries(context.Background(), conn, missing, Queries(DefaultMedalFilter))
	require.ErrorContains(t, err, "query most_kills")

	undeclared := joined
	undeclared.Columns = []string{"match_id:VARCHAR"}
	_, err = RunQueries(context.Background(), conn, undeclared, Queries(DefaultMedalFilter))
	require.ErrorIs(t, err, relation.ErrUnknownColumn)
}
