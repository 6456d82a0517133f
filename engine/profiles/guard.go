package profiles

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeSQL is returned by GuardSelect for statements it refuses.
var ErrUnsafeSQL = errors.New("unsafe sql")

// GuardLimit is appended to guarded statements without a LIMIT clause.
const GuardLimit = 1000

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	selectStart  = regexp.MustCompile(`(?i)^SELECT\b`)
	forbiddenSQL = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|GRANT|REVOKE|ATTACH|DETACH|PRAGMA|REPLACE|VACUUM|REINDEX)\b`)
	tableRef     = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_"\x60\[][\w."\x60\]]*)`)
	hasLimit     = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
)

// GuardSelect normalizes a user-supplied statement and accepts it only when
// it is a single SELECT over the profiles table. A LIMIT is added when
// missing.
func GuardSelect(stmt string) (string, error) {
	s := blockComment.ReplaceAllString(stmt, " ")
	s = lineComment.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	if s == "" {
		return "", fmt.Errorf("%w: empty statement", ErrUnsafeSQL)
	}
	if strings.Contains(s, ";") {
		return "", fmt.Errorf("%w: multiple statements", ErrUnsafeSQL)
	}
	if !selectStart.MatchString(s) {
		return "", fmt.Errorf("%w: only SELECT queries are allowed", ErrUnsafeSQL)
	}
	if m := forbiddenSQL.FindString(s); m != "" {
		return "", fmt.Errorf("%w: forbidden keyword %s", ErrUnsafeSQL, strings.ToUpper(m))
	}
	refs := tableRef.FindAllStringSubmatch(s, -1)
	if len(refs) == 0 {
		return "", fmt.Errorf("%w: no table referenced", ErrUnsafeSQL)
	}
	for _, ref := range refs {
		name := strings.ToLower(strings.Trim(ref[1], "\"`[]"))
		if name != "profiles" {
			return "", fmt.Errorf("%w: table %q is not allowed", ErrUnsafeSQL, ref[1])
		}
	}
	if !hasLimit.MatchString(s) {
		s = fmt.Sprintf("%s LIMIT %d", s, GuardLimit)
	}
	return s, nil
}

// Table is a generic query result.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// RawSelect runs a guarded statement and returns the rows as generic values.
func (s *Store) RawSelect(ctx context.Context, stmt string) (*Table, error) {
	safe, err := GuardSelect(stmt)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, safe)
	if err != nil {
		return nil, fmt.Errorf("profiles: raw select: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("profiles: raw select columns: %w", err)
	}
	t := &Table{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("profiles: raw select scan: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		t.Rows = append(t.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profiles: raw select rows: %w", err)
	}
	return t, nil
}
