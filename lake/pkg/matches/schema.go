package matches

import (
	"path/filepath"

	"github.com/malbeclabs/matchlake/lake/pkg/bucket"
	"github.com/malbeclabs/matchlake/lake/pkg/catalog"
	"github.com/malbeclabs/matchlake/lake/pkg/relation"
)

// Dataset is one header-bearing CSV input and the columns the pipeline reads from it.
type Dataset struct {
	Name     string
	Required []string
}

func (d Dataset) Path(root string) string {
	return filepath.Join(root, d.Name+".csv")
}

var (
	MatchDetails         = Dataset{Name: "match_details", Required: []string{"match_id", "player_gamertag", "player_total_kills"}}
	Matches              = Dataset{Name: "matches", Required: []string{"match_id", "mapid", "playlist_id"}}
	MedalsMatchesPlayers = Dataset{Name: "medals_matches_players", Required: []string{"match_id", "player_gamertag", "medal_id", "count"}}
	Medals               = Dataset{Name: "medals", Required: []string{"medal_id", "name"}}
	Maps                 = Dataset{Name: "maps", Required: []string{"mapid", "name"}}

	Datasets = []Dataset{MatchDetails, Matches, MedalsMatchesPlayers, Medals, Maps}
)

const (
	MatchDetailsTable         = "match_details_bucketed"
	MatchesTable              = "matches_bucketed"
	MedalsMatchesPlayersTable = "medal_matches_players_bucketed"
	JoinedTable               = "match_medals_joined_bucketed"

	// Broadcast dimension tables read by every bucket join.
	MedalsTable = "medals_broadcast"
	MapsTable   = "maps_broadcast"

	// JoinKey buckets all three materialized tables.
	JoinKey = "match_id"
)

// Tables are the bucketed tables of one run. Joined holds the assembled output and shares the
// bucket layout of the three inputs.
type Tables struct {
	MatchDetails         catalog.TableConfig
	Matches              catalog.TableConfig
	MedalsMatchesPlayers catalog.TableConfig
	Joined               catalog.TableConfig
}

func NewTables(bucketCount int) Tables {
	spec := bucket.Spec{Column: JoinKey, Count: bucketCount}
	return Tables{
		MatchDetails: catalog.TableConfig{
			Name:        MatchDetailsTable,
			Columns:     []string{"match_id:VARCHAR", "player_gamertag:VARCHAR", "player_total_kills:INTEGER"},
			Bucket:      spec,
			SortColumns: []string{"match_id", "player_gamertag"},
		},
		Matches: catalog.TableConfig{
			Name:        MatchesTable,
			Columns:     []string{"match_id:VARCHAR", "map_id:VARCHAR", "playlist_id:VARCHAR"},
			Bucket:      spec,
			SortColumns: []string{"match_id", "map_id"},
		},
		MedalsMatchesPlayers: catalog.TableConfig{
			Name:        MedalsMatchesPlayersTable,
			Columns:     []string{"match_id:VARCHAR", "player_gamertag:VARCHAR", "medal_id:VARCHAR", "count:INTEGER"},
			Bucket:      spec,
			SortColumns: []string{"match_id", "player_gamertag", "medal_id"},
		},
		Joined: catalog.TableConfig{
			Name: JoinedTable,
			Columns: []string{
				"match_id:VARCHAR",
				"map_id:VARCHAR",
				"playlist_id:VARCHAR",
				"player_gamertag:VARCHAR",
				"player_total_kills:INTEGER",
				"medal_id:VARCHAR",
				"medal_count:INTEGER",
				"medal_name:VARCHAR",
				"map_name:VARCHAR",
			},
			Bucket: spec,
			SortColumns: []string{
				"match_id", "player_gamertag", "medal_id", "medal_count", "player_total_kills",
				"map_id", "playlist_id", "medal_name", "map_name",
			},
		},
	}
}

// All returns every bucketed table, inputs first.
func (t Tables) All() []catalog.TableConfig {
	return []catalog.TableConfig{t.MatchDetails, t.Matches, t.MedalsMatchesPlayers, t.Joined}
}

// Materialization maps a source relation onto a bucketed table.
type Materialization struct {
	Table   catalog.TableConfig
	Source  func(*Sources) *relation.Relation
	Project []relation.Item
}

func (t Tables) Materializations() []Materialization {
	return []Materialization{
		{
			Table:  t.MatchDetails,
			Source: func(s *Sources) *relation.Relation { return s.MatchDetails },
			Project: []relation.Item{
				relation.Col("match_id"),
				relation.Col("player_gamertag"),
				relation.Col("player_total_kills").Cast(relation.Int),
			},
		},
		{
			Table:  t.Matches,
			Source: func(s *Sources) *relation.Relation { return s.Matches },
			Project: []relation.Item{
				relation.Col("match_id"),
				relation.Col("mapid").As("map_id"),
				relation.Col("playlist_id"),
			},
		},
		{
			Table:  t.MedalsMatchesPlayers,
			Source: func(s *Sources) *relation.Relation { return s.MedalsMatchesPlayers },
			Project: []relation.Item{
				relation.Col("match_id"),
				relation.Col("player_gamertag"),
				relation.Col("medal_id"),
				relation.Col("count").Cast(relation.Int),
			},
		},
	}
}

// Dimension is a broadcast table: a small relation copied whole next to the bucketed tables
// and joined from every bucket.
type Dimension struct {
	Table   string
	Columns []string
}

var (
	MedalsDimension = Dimension{Table: MedalsTable, Columns: []string{"medal_id", "name"}}
	MapsDimension   = Dimension{Table: MapsTable, Columns: []string{"mapid", "name"}}
)

// OutputColumns is the projection of the joined relation.
var OutputColumns = []string{
	"match_id",
	"map_id",
	"playlist_id",
	"player_gamertag",
	"player_total_kills",
	"medal_id",
	"medal_count",
	"medal_name",
	"map_name",
}
