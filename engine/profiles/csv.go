package profiles

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tethys-ocean/tethys/engine/domain"
)

var requiredColumns = []string{"platform_number", "profile_idx", "juld", "latitude", "longitude", "pressure"}

var juldLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// CSVReader decodes profile levels from a CSV export of the profiles table
// (header row required, columns in any order).
type CSVReader struct {
	r    *csv.Reader
	cols map[string]int
	line int
}

// NewCSVReader reads the header and checks the required columns.
func NewCSVReader(r io.Reader) (*CSVReader, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("profiles: csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("profiles: csv: missing column %q", c)
		}
	}
	cr.FieldsPerRecord = len(header)
	return &CSVReader{r: cr, cols: cols, line: 1}, nil
}

// Next returns the next record, or io.EOF.
func (c *CSVReader) Next() (domain.FloatRecord, error) {
	var rec domain.FloatRecord
	row, err := c.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("profiles: csv: %w", err)
	}
	c.line++

	get := func(name string) string {
		if i, ok := c.cols[name]; ok {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	fail := func(col string, err error) (domain.FloatRecord, error) {
		return domain.FloatRecord{}, fmt.Errorf("profiles: csv line %d: %s: %w", c.line, col, err)
	}

	if rec.Platform, err = strconv.Atoi(get("platform_number")); err != nil {
		return fail("platform_number", err)
	}
	if rec.Cycle, err = strconv.Atoi(get("profile_idx")); err != nil {
		return fail("profile_idx", err)
	}
	if rec.Time, err = parseJuld(get("juld")); err != nil {
		return fail("juld", err)
	}
	if rec.Lat, err = strconv.ParseFloat(get("latitude"), 64); err != nil {
		return fail("latitude", err)
	}
	if rec.Lon, err = strconv.ParseFloat(get("longitude"), 64); err != nil {
		return fail("longitude", err)
	}
	for col, dst := range map[string]**float64{
		"pressure":    &rec.Pressure,
		"depth":       &rec.Depth,
		"temperature": &rec.Temperature,
		"salinity":    &rec.Salinity,
	} {
		v, err := optionalFloat(get(col))
		if err != nil {
			return fail(col, err)
		}
		*dst = v
	}
	if rec.Pressure == nil {
		return fail("pressure", errors.New("value required"))
	}
	rec.TempQC = qcFlag(get("temp_qc"))
	rec.PsalQC = qcFlag(get("psal_qc"))
	rec.PresQC = qcFlag(get("pres_qc"))
	rec.Mission = domain.Mission{
		Project:      get("project_name"),
		PlatformType: get("platform_type"),
		DataMode:     get("data_mode"),
	}
	rec.ID = domain.RecordID(rec.Platform, rec.Cycle, *rec.Pressure)
	return rec, nil
}

func parseJuld(s string) (time.Time, error) {
	for _, l := range juldLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func optionalFloat(s string) (*float64, error) {
	switch strings.ToLower(s) {
	case "", "nan", "null", "none":
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// qcFlag normalizes flags exported as floats ("1.0") or bytes ("b'1'").
func qcFlag(s string) string {
	s = strings.TrimPrefix(s, "b'")
	s = strings.TrimSuffix(s, "'")
	s = strings.TrimSuffix(s, ".0")
	return s
}
