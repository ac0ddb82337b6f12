package relation

import (
	"math"
	"strconv"
	"strings"
)

// Item selects one column for Project, optionally renamed and cast.
type Item struct {
	name  string
	alias string
	cast  *Type
}

func Col(name string) Item {
	return Item{name: name}
}

func (i Item) As(alias string) Item {
	i.alias = alias
	return i
}

func (i Item) Cast(t Type) Item {
	i.cast = &t
	return i
}

func (i Item) outputName() string {
	if i.alias != "" {
		return i.alias
	}
	return i.name
}

// Project returns a relation holding the selected items in order.
func Project(r *Relation, items ...Item) (*Relation, error) {
	idx := make([]int, len(items))
	columns := make([]Column, len(items))
	for k, item := range items {
		i, err := r.schema.Index(item.name)
		if err != nil {
			return nil, err
		}
		idx[k] = i
		columns[k] = Column{Name: item.outputName(), Type: r.schema.columns[i].Type}
		if item.cast != nil {
			columns[k].Type = *item.cast
		}
	}
	schema, err := NewSchema(columns...)
	if err != nil {
		return nil, err
	}

	rows := make([][]Value, len(r.rows))
	for n, row := range r.rows {
		out := make([]Value, len(items))
		for k, item := range items {
			v := row[idx[k]]
			if item.cast != nil {
				v = castValue(v, *item.cast)
			}
			out[k] = v
		}
		rows[n] = out
	}
	return &Relation{schema: schema, rows: rows}, nil
}

// castValue converts v to t. Int is a 32-bit integer: text that is not a plain decimal number
// and numbers outside the int32 range cast to NULL, and a fractional part is truncated toward zero.
func castValue(v Value, t Type) Value {
	switch t {
	case Int:
		switch x := v.(type) {
		case int64:
			if x < math.MinInt32 || x > math.MaxInt32 {
				return nil
			}
			return x
		case string:
			return parseInt32(strings.TrimSpace(x))
		}
	case String:
		switch x := v.(type) {
		case string:
			return x
		case int64:
			return strconv.FormatInt(x, 10)
		}
	}
	return nil
}

// parseInt32 accepts an optional sign, digits and an optional fractional part, with at least
// one digit overall. Exponents, hex and special values such as NaN are rejected.
func parseInt32(s string) Value {
	whole, frac, hasPoint := strings.Cut(s, ".")
	sign := ""
	if whole != "" && (whole[0] == '+' || whole[0] == '-') {
		sign, whole = whole[:1], whole[1:]
	}
	if !digitsOnly(whole) || !digitsOnly(frac) || (whole == "" && (!hasPoint || frac == "")) {
		return nil
	}
	if whole == "" {
		return int64(0)
	}
	n, err := strconv.ParseInt(sign+whole, 10, 32)
	if err != nil {
		return nil
	}
	return n
}

func digitsOnly(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
