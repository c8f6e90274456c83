package store

import (
	"fmt"
	"strings"
)

// Predicate filters recordings in ListRecordings.
//
// Predicates compile to SQL with every value bound as a parameter, never
// interpolated. Columns are checked against filterColumns.
type Predicate interface {
	compile() (string, []any, error)
}

// Equals matches recordings whose column equals Value.
type Equals struct {
	Column string
	Value  any
}

// Glob matches recordings whose text column matches a GLOB pattern
// ("*" and "?" wildcards, case-sensitive).
type Glob struct {
	Column  string
	Pattern string
}

// And matches recordings that satisfy every predicate. An empty And
// matches everything.
type And []Predicate

// filterColumns are the recording columns predicates may reference.
var filterColumns = map[string]bool{
	"name":                 true,
	"profile_checksum":     true,
	"format_version":       true,
	"engine_version":       true,
	"interrupt_on_release": true,
	"digest":               true,
}

func checkColumn(col string) error {
	if !filterColumns[col] {
		return fmt.Errorf("unknown recording column %q", col)
	}
	return nil
}

func (p Equals) compile() (string, []any, error) {
	if err := checkColumn(p.Column); err != nil {
		return "", nil, err
	}
	v := p.Value
	if b, ok := v.(bool); ok {
		v = boolToInt(b)
	}
	return "r." + p.Column + " = ?", []any{v}, nil
}

func (p Glob) compile() (string, []any, error) {
	if err := checkColumn(p.Column); err != nil {
		return "", nil, err
	}
	return "r." + p.Column + " GLOB ?", []any{p.Pattern}, nil
}

func (p And) compile() (string, []any, error) {
	if len(p) == 0 {
		return "1 = 1", nil, nil // Always true (vacuous truth)
	}
	parts := make([]string, 0, len(p))
	var params []any
	for _, pred := range p {
		sql, args, err := pred.compile()
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, args...)
	}
	return strings.Join(parts, " AND "), params, nil
}

// compileListQuery builds the recording list query for where.
// Every list query ends in the same ORDER BY so results are stable.
func compileListQuery(where []Predicate) (string, []any, error) {
	var (
		clause string
		params []any
	)
	if len(where) > 0 {
		sql, args, err := And(where).compile()
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		clause = " WHERE " + sql
		params = args
	}
	query := "SELECT " + recordingColumns + " FROM recordings r" + clause +
		" ORDER BY r.seq ASC, r.id COLLATE BINARY ASC"
	return query, params, nil
}
