package relation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLake_Relation_Project(t *testing.T) {
	t.Parallel()

	r := mustStrings(t, []string{"match_id", "mapid", "player_total_kills"},
		[]Value{"m1", "map-a", "12"},
		[]Value{"m2", "map-b", " 7 "},
		[]Value{"m3", "map-c", "4.9"},
		[]Value{"m4", "map-d", "-2.5"},
		[]Value{"m5", "map-e", "many"},
		[]Value{"m6", nil, nil},
	)

	out, err := Project(r,
		Col("match_id"),
		Col("mapid").As("map_id"),
		Col("player_total_kills").Cast(Int),
	)
	require.NoError(t, err)
	require.Equal(t, []Column{
		{Name: "match_id", Type: String},
		{Name: "map_id", Type: String},
		{Name: "player_total_kills", Type: Int},
	}, out.Schema().Columns())
	requireRows(t, [][]Value{
		{"m1", "map-a", int64(12)},
		{"m2", "map-b", int64(7)},
		{"m3", "map-c", int64(4)},
		{"m4", "map-d", int64(-2)},
		{"m5", "map-e", nil},
		{"m6", nil, nil},
	}, out)

	back, err := Project(out, Col("player_total_kills").Cast(String).As("kills"))
	require.NoError(t, err)
	requireRows(t, [][]Value{{"12"}, {"7"}, {"4"}, {"-2"}, {nil}, {nil}}, back)

	_, err = Project(r, Col("nope"))
	require.ErrorIs(t, err, ErrUnknownColumn)

	_, err = Project(r, Col("match_id"), Col("mapid").As("match_id"))
	require.EqualError(t, err, `duplicate column "match_id"`)
}

func TestLake_Relation_CastInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   Value
		want Value
	}{
		{in: "42", want: int64(42)},
		{in: "+42", want: int64(42)},
		{in: "-42", want: int64(-42)},
		{in: "  9  ", want: int64(9)},
		{in: "2147483647", want: int64(2147483647)},
		{in: "-2147483648", want: int64(-2147483648)},
		{in: "2147483648", want: nil},
		{in: "3000000000", want: nil},
		{in: "-2147483649", want: nil},
		{in: "2147483647.9", want: int64(2147483647)},
		{in: "7.", want: int64(7)},
		{in: ".5", want: int64(0)},
		{in: "-0.5", want: int64(0)},
		{in: "1e3", want: nil},
		{in: "0x10", want: nil},
		{in: "NaN", want: nil},
		{in: "Inf", want: nil},
		{in: ".", want: nil},
		{in: "-", want: nil},
		{in: "", want: nil},
		{in: "1.2.3", want: nil},
		{in: "1 2", want: nil},
		{in: int64(5), want: int64(5)},
		{in: int64(1) << 40, want: nil},
		{in: nil, want: nil},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, castValue(tt.in, Int), "cast %#v", tt.in)
	}
}
