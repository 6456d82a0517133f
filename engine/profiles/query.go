package profiles

import (
	"fmt"
	"strings"

	"github.com/tethys-ocean/tethys/engine/domain"
)

// DefaultLimit caps structured queries when QueryOpts.Limit is unset.
const DefaultLimit = 200

// QueryOpts controls ordering and size of a structured query.
type QueryOpts struct {
	Order domain.Order
	Limit int
	// AnyQC disables the good-quality rule (temp_qc='1' AND psal_qc='1').
	AnyQC bool
}

var variableColumns = map[domain.Variable]string{
	domain.VarTemperature: "temperature",
	domain.VarSalinity:    "salinity",
	domain.VarPressure:    "pressure",
	domain.VarDepth:       "depth",
}

// buildQuery renders f as a parameterized SELECT. Only whitelisted column
// names and operators are interpolated.
func buildQuery(f domain.Filter, opts QueryOpts) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	if !opts.AnyQC {
		where = append(where, "temp_qc = '1'", "psal_qc = '1'")
	}
	if r := f.Region; r != nil {
		where = append(where, "latitude BETWEEN ? AND ?")
		args = append(args, r.MinLat, r.MaxLat)
		if r.MinLon <= r.MaxLon {
			where = append(where, "longitude BETWEEN ? AND ?")
		} else {
			where = append(where, "(longitude >= ? OR longitude <= ?)")
		}
		args = append(args, r.MinLon, r.MaxLon)
	}
	if t := f.Time; t != nil {
		where = append(where, "juld >= ? AND juld < ?")
		args = append(args, t.Start.UTC().Unix(), t.End.UTC().Unix())
	}
	for _, p := range f.Predicates {
		col, ok := variableColumns[p.Variable]
		if !ok {
			return "", nil, fmt.Errorf("profiles: unknown variable %q", p.Variable)
		}
		if !p.Op.Valid() {
			return "", nil, fmt.Errorf("profiles: unknown comparator %q", p.Op)
		}
		where = append(where, fmt.Sprintf("%s IS NOT NULL AND %s %s ?", col, col, p.Op))
		args = append(args, p.Threshold)
	}
	if len(f.Platforms) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(f.Platforms)), ", ")
		where = append(where, "platform_number IN ("+marks+")")
		for _, id := range f.Platforms {
			args = append(args, id)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT " + recordColumns + " FROM profiles")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	switch opts.Order {
	case domain.OrderDeepest:
		b.WriteString(" ORDER BY pressure DESC, juld DESC, id")
	case domain.OrderShallowest:
		b.WriteString(" ORDER BY pressure ASC, juld DESC, id")
	default:
		b.WriteString(" ORDER BY juld DESC, id")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	b.WriteString(" LIMIT ?")
	args = append(args, limit)
	return b.String(), args, nil
}
