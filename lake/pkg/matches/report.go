package matches

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/matchlake/lake/pkg/catalog"
	"github.com/malbeclabs/matchlake/lake/pkg/duck"
	"github.com/malbeclabs/matchlake/lake/pkg/relation"
)

// DefaultMedalFilter is the medal name the fourth query counts.
const DefaultMedalFilter = "Killing Frenzy"

// Query is one report question over the joined table: group by GroupBy, compute Aggregate as
// column As, keep the single top group. Ties go to the smallest group key.
type Query struct {
	Name     string
	Question string

	GroupBy   []string
	Aggregate string
	As        string
	// Where optionally restricts the rows before grouping; Args bind its placeholders.
	Where string
	Args  []any
}

// Queries returns the four report queries in display order.
func Queries(medalFilter string) []Query {
	return []Query{
		{
			Name:      "most_kills",
			Question:  "Which player averages the most kills per game?",
			GroupBy:   []string{"player_gamertag"},
			Aggregate: "CAST(SUM(player_total_kills) AS BIGINT)",
			As:        "total_kills",
		},
		{
			Name:      "most_played_playlist",
			Question:  "Which playlist gets played the most?",
			GroupBy:   []string{"playlist_id"},
			Aggregate: "COUNT(*)",
			As:        "count",
		},
		{
			Name:      "most_played_map",
			Question:  "Which map gets played the most?",
			GroupBy:   []string{"map_id", "map_name"},
			Aggregate: "COUNT(*)",
			As:        "count",
		},
		{
			Name: "most_medals_map",
			// The question names Killing Spree medals while the filter counts medalFilter.
			Question:  "Which map do players get the most Killing Spree medals on?",
			GroupBy:   []string{"map_id", "map_name", "medal_name"},
			Aggregate: "COUNT(*)",
			As:        "count",
			Where:     `"medal_name" = ?`,
			Args:      []any{medalFilter},
		},
	}
}

// SQL renders q over table. NULL aggregates sort last and NULL group keys first.
func (q Query) SQL(table string) string {
	groups := make([]string, len(q.GroupBy))
	order := []string{quoteIdent(q.As) + " DESC NULLS LAST"}
	for i, g := range q.GroupBy {
		groups[i] = quoteIdent(g)
		order = append(order, groups[i]+" ASC NULLS FIRST")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, %s AS %s FROM %s", strings.Join(groups, ", "), q.Aggregate, quoteIdent(q.As), table)
	if q.Where != "" {
		b.WriteString(" WHERE " + q.Where)
	}
	fmt.Fprintf(&b, " GROUP BY %s ORDER BY %s LIMIT 1", strings.Join(groups, ", "), strings.Join(order, ", "))
	return b.String()
}

// Run executes q against the joined table declared by joined.
func (q Query) Run(ctx context.Context, conn duck.Connection, joined catalog.TableConfig) (*relation.Relation, error) {
	declared, err := joined.RelationColumns()
	if err != nil {
		return nil, err
	}
	types := make(map[string]relation.Type, len(declared))
	for _, c := range declared {
		types[c.Name] = c.Type
	}
	columns := make([]relation.Column, 0, len(q.GroupBy)+1)
	for _, g := range q.GroupBy {
		t, ok := types[g]
		if !ok {
			return nil, fmt.Errorf("%w: %s", relation.ErrUnknownColumn, g)
		}
		columns = append(columns, relation.Column{Name: g, Type: t})
	}
	columns = append(columns, relation.Column{Name: q.As, Type: relation.Int})

	_, rows, err := duck.Query(ctx, conn, q.SQL(duck.QualifiedName(conn.DB(), joined.Name)), q.Args...)
	if err != nil {
		return nil, err
	}
	return relation.New(columns, rows)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Result is the outcome of one query.
type Result struct {
	Query  Query
	Result *relation.Relation
}

// RunQueries runs queries in order against the joined table declared by joined.
func RunQueries(ctx context.Context, conn duck.Connection, joined catalog.TableConfig, queries []Query) ([]Result, error) {
	out := make([]Result, 0, len(queries))
	for _, q := range queries {
		res, err := q.Run(ctx, conn, joined)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.Name, err)
		}
		out = append(out, Result{Query: q, Result: res})
	}
	return out, nil
}

// Render prints question followed by rel as a table.
func Render(w io.Writer, question string, rel *relation.Relation) error {
	if _, err := fmt.Fprintln(w, question); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.SetHeader(rel.Schema().Names())
	for _, row := range rel.Rows() {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = relation.Format(v)
		}
		table.Append(cells)
	}
	table.Render()

	_, err := fmt.Fprintln(w)
	return err
}

// RenderResults renders every result in order.
func RenderResults(w io.Writer, results []Result) error {
	for _, r := range results {
		if err := Render(w, r.Query.Question, r.Result); err != nil {
			return fmt.Errorf("failed to render %s: %w", r.Query.Name, err)
		}
	}
	return nil
}
