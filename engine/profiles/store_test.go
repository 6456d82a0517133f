package profiles

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/tethys-ocean/tethys/engine/domain"
)

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func level(platform, cycle int, t time.Time, lat, lon, pres, temp, psal float64) domain.FloatRecord {
	return domain.FloatRecord{
		ID: domain.RecordID(platform, cycle, pres), Platform: platform, Cycle: cycle, Time: t,
		Lat: lat, Lon: lon, Pressure: domain.F(pres), Temperature: domain.F(temp), Salinity: domain.F(psal),
		TempQC: "1", PsalQC: "1", PresQC: "1",
	}
}

func seed(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	bad := level(2902746, 3, date(2023, 5, 2), 14, 88, 10, 30.1, 33.9)
	bad.TempQC = "4"
	recs := []domain.FloatRecord{
		level(2902746, 1, date(2023, 4, 1), 15, 88, 5, 29.2, 33.5),
		level(2902746, 1, date(2023, 4, 1), 15, 88, 500, 9.1, 35.0),
		level(2902746, 2, date(2023, 8, 1), 16, 89, 5, 28.6, 33.1),
		level(1900121, 7, date(2002, 11, 3), -20, 10, 1800, 3.2, 34.9),
		level(5906000, 9, date(2021, 1, 5), 0, 179, 10, 28.9, 35.2),
		level(5906001, 1, date(2021, 1, 6), 0, -179, 10, 29.4, 35.1),
		bad,
	}
	if n, err := s.Insert(context.Background(), recs); err != nil || n != len(recs) {
		t.Fatalf("insert: %d %v", n, err)
	}
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := seed(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	v, err := s.SchemaVersion(context.Background())
	if err != nil || v != len(migrations) {
		t.Fatalf("expected version %d, got %d %v", len(migrations), v, err)
	}
}

func TestQueryBayOfBengal2023WarmWater(t *testing.T) {
	s := seed(t)
	f := domain.Filter{
		Region:     &domain.Region{MinLat: 5, MaxLat: 23, MinLon: 80, MaxLon: 95},
		Time:       &domain.TimeRange{Start: date(2023, 1, 1), End: date(2024, 1, 1)},
		Predicates: []domain.Predicate{{Variable: domain.VarTemperature, Op: domain.OpGT, Threshold: 28}},
	}
	got, err := s.Query(context.Background(), f, QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(got), got)
	}
	// recency order
	if got[0].Cycle != 2 || got[1].Cycle != 1 {
		t.Fatalf("unexpected order %s, %s", got[0].ID, got[1].ID)
	}
	for _, r := range got {
		if !f.Match(r) {
			t.Errorf("record %s does not satisfy the filter", r.ID)
		}
	}
}

func TestQueryQCRule(t *testing.T) {
	s := seed(t)
	f := domain.Filter{Platforms: []int{2902746}}
	good, _ := s.Query(context.Background(), f, QueryOpts{})
	all, _ := s.Query(context.Background(), f, QueryOpts{AnyQC: true})
	if len(good) != 3 || len(all) != 4 {
		t.Fatalf("expected 3 good / 4 total, got %d / %d", len(good), len(all))
	}
}

func TestQueryAntimeridian(t *testing.T) {
	s := seed(t)
	f := domain.Filter{Region: &domain.Region{MinLat: -5, MaxLat: 5, MinLon: 170, MaxLon: -170}}
	got, err := s.Query(context.Background(), f, QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both sides of the dateline, got %d", len(got))
	}
}

func TestQueryDeepestAndLimit(t *testing.T) {
	s := seed(t)
	got, err := s.Query(context.Background(), domain.Filter{}, QueryOpts{Order: domain.OrderDeepest, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || *got[0].Pressure != 1800 || *got[1].Pressure != 500 {
		t.Fatalf("unexpected deepest order: %+v", got)
	}
	if got[0].Time != date(2002, 11, 3) {
		t.Fatalf("time not round-tripped: %s", got[0].Time)
	}
}

func TestQueryRejectsUnknownVariable(t *testing.T) {
	s := seed(t)
	f := domain.Filter{Predicates: []domain.Predicate{{Variable: "oxygen", Op: domain.OpGT, Threshold: 1}}}
	if _, err := s.Query(context.Background(), f, QueryOpts{}); err == nil {
		t.Fatal("expected error for unknown variable")
	}
}

func TestQueryCanceled(t *testing.T) {
	s := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Query(ctx, domain.Filter{}, QueryOpts{}); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestScanGroupsProfiles(t *testing.T) {
	s := seed(t)
	var ids []string
	err := s.Scan(context.Background(), func(r domain.FloatRecord) error {
		ids = append(ids, r.ProfileKey())
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 7 || ids[0] != "1900121_7" {
		t.Fatalf("unexpected scan order %v", ids)
	}
	if ids[1] != "2902746_1" || ids[2] != "2902746_1" {
		t.Fatalf("levels of a profile should be adjacent: %v", ids)
	}

	stop := errors.New("stop")
	if err := s.Scan(context.Background(), func(domain.FloatRecord) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestInsertRequiresPressure(t *testing.T) {
	s := seed(t)
	r := level(1, 1, date(2020, 1, 1), 0, 0, 1, 1, 1)
	r.Pressure = nil
	if _, err := s.Insert(context.Background(), []domain.FloatRecord{r}); err == nil {
		t.Fatal("expected error without pressure")
	}
}

func TestGuardSelect(t *testing.T) {
	ok := []struct{ in, want string }{
		{"SELECT pressure, temperature FROM profiles WHERE latitude > 0;", "SELECT pressure, temperature FROM profiles WHERE latitude > 0 LIMIT 1000"},
		{"select * from profiles limit 5", "select * from profiles limit 5"},
		{"-- deepest\nSELECT MAX(pressure) FROM \"profiles\"", "SELECT MAX(pressure) FROM \"profiles\" LIMIT 1000"},
	}
	for _, c := range ok {
		got, err := GuardSelect(c.in)
		if err != nil {
			t.Errorf("%q: unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("%q: got %q want %q", c.in, got, c.want)
		}
	}

	bad := []string{
		"",
		"DELETE FROM profiles",
		"SELECT * FROM profiles; DROP TABLE profiles",
		"SELECT * FROM sqlite_master",
		"SELECT * FROM profiles JOIN secrets ON 1=1",
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"SELECT 1",
		"SELECT * FROM profiles /* */ WHERE 1=1 UNION SELECT * FROM users",
	}
	for _, in := range bad {
		if _, err := GuardSelect(in); !errors.Is(err, ErrUnsafeSQL) {
			t.Errorf("%q: expected ErrUnsafeSQL, got %v", in, err)
		}
	}
}

func TestRawSelect(t *testing.T) {
	s := seed(t)
	tbl, err := s.RawSelect(context.Background(), "SELECT platform_number, COUNT(*) AS n FROM profiles GROUP BY platform_number ORDER BY platform_number")
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Columns) != 2 || tbl.Columns[1] != "n" || len(tbl.Rows) != 4 {
		t.Fatalf("unexpected table %+v", tbl)
	}
	if _, err := s.RawSelect(context.Background(), "DROP TABLE profiles"); !errors.Is(err, ErrUnsafeSQL) {
		t.Fatalf("expected guard to reject, got %v", err)
	}
}

func TestCSVReader(t *testing.T) {
	in := `platform_number,profile_idx,juld,latitude,longitude,pressure,temperature,salinity,temp_qc,psal_qc,pres_qc
2902746,12,2023-06-01 04:10:00,15.2,88.1,5.5,29.3,33.4,1.0,1,b'1'
2902746,12,2023-06-01 04:10:00,15.2,88.1,100,NaN,34.0,1,1,1
`
	r, err := NewCSVReader(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	first, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != "2902746_12_5.5" || first.TempQC != "1" || first.PresQC != "1" {
		t.Fatalf("unexpected record %+v", first)
	}
	if first.Time != time.Date(2023, 6, 1, 4, 10, 0, 0, time.UTC) {
		t.Fatalf("unexpected time %s", first.Time)
	}
	second, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if second.Temperature != nil {
		t.Fatal("NaN should decode as missing")
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestCSVReaderMissingColumn(t *testing.T) {
	if _, err := NewCSVReader(strings.NewReader("platform_number,juld\n1,2020-01-01\n")); err == nil {
		t.Fatal("expected missing column error")
	}
}
