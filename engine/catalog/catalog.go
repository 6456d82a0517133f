// Package catalog keeps float mission metadata in Neo4j: one Float node per
// WMO platform, linked to the Project that operates it. The query pipeline
// reads it to enrich retrieved records; loading data writes it.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/tethys-ocean/tethys/engine/domain"
	"github.com/tethys-ocean/tethys/pkg/repo"
)

// Float is the catalog entry for one platform.
type Float struct {
	WMO          int       `json:"wmo"`
	Project      string    `json:"project,omitempty"`
	PlatformType string    `json:"platform_type,omitempty"`
	DataMode     string    `json:"data_mode,omitempty"`
	Status       string    `json:"status,omitempty"`
	LastCycle    int       `json:"last_cycle"`
	LastSeen     time.Time `json:"last_seen"`
}

// Mission returns the metadata carried on records.
func (f Float) Mission() domain.Mission {
	return domain.Mission{Project: f.Project, PlatformType: f.PlatformType, DataMode: f.DataMode, Status: f.Status}
}

// Catalog reads and writes Float nodes.
type Catalog struct {
	floats  *repo.Neo4jRepo[Float, int64]
	session func(ctx context.Context, write bool) repo.Runner
	log     *slog.Logger
}

// Option configures a Catalog.
type Option func(*config)

type config struct {
	database string
	sessions func(ctx context.Context, write bool) repo.Runner
	log      *slog.Logger
}

// WithDatabase selects the Neo4j database.
func WithDatabase(name string) Option { return func(c *config) { c.database = name } }

// WithSessions replaces driver sessions, mainly for tests.
func WithSessions(f func(ctx context.Context, write bool) repo.Runner) Option {
	return func(c *config) { c.sessions = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.log = l } }

// New creates a Catalog over driver.
func New(driver neo4j.DriverWithContext, opts ...Option) *Catalog {
	cfg := config{log: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	sessions := cfg.sessions
	if sessions == nil {
		sessions = func(ctx context.Context, write bool) repo.Runner {
			mode := neo4j.AccessModeRead
			if write {
				mode = neo4j.AccessModeWrite
			}
			return repo.NewSession(driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: cfg.database}))
		}
	}
	return &Catalog{
		floats: repo.NewNeo4jRepo[Float, int64](
			driver, "Float", floatToMap, floatFromRecord,
			func(f Float) int64 { return int64(f.WMO) },
			repo.WithIDKey[Float, int64]("wmo"),
			repo.WithSessionFactory[Float, int64](sessions),
		),
		session: sessions,
		log:     cfg.log,
	}
}

func floatToMap(f Float) map[string]any {
	m := map[string]any{
		"wmo":        int64(f.WMO),
		"last_cycle": int64(f.LastCycle),
	}
	for k, v := range map[string]string{
		"project":       f.Project,
		"platform_type": f.PlatformType,
		"data_mode":     f.DataMode,
		"status":        f.Status,
	} {
		if v != "" {
			m[k] = v
		}
	}
	if !f.LastSeen.IsZero() {
		m["last_seen"] = f.LastSeen.UTC().Format(time.RFC3339)
	}
	return m
}

func floatFromRecord(rec *neo4j.Record) (Float, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Float{}, err
	}
	p := node.Props
	f := Float{
		WMO:          int(intProp(p, "wmo")),
		Project:      strProp(p, "project"),
		PlatformType: strProp(p, "platform_type"),
		DataMode:     strProp(p, "data_mode"),
		Status:       strProp(p, "status"),
		LastCycle:    int(intProp(p, "last_cycle")),
	}
	if s := strProp(p, "last_seen"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			f.LastSeen = t
		}
	}
	if f.WMO == 0 {
		return Float{}, fmt.Errorf("float node without wmo")
	}
	return f, nil
}

func strProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Get returns one float, or an error wrapping repo.ErrNotFound.
func (c *Catalog) Get(ctx context.Context, wmo int) (Float, error) {
	return c.floats.Get(ctx, int64(wmo))
}

// Missions returns the mission metadata of the given platforms. Unknown
// platforms are absent from the map.
func (c *Catalog) Missions(ctx context.Context, platforms []int) (map[int]domain.Mission, error) {
	ids := make([]int64, 0, len(platforms))
	for _, p := range platforms {
		ids = append(ids, int64(p))
	}
	found, err := c.floats.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog: missions: %w", err)
	}
	out := make(map[int]domain.Mission, len(found))
	for id, f := range found {
		out[int(id)] = f.Mission()
	}
	return out, nil
}

// Upsert merges floats and links each to its project.
func (c *Catalog) Upsert(ctx context.Context, floats ...Float) error {
	if len(floats) == 0 {
		return nil
	}
	if err := c.floats.Upsert(ctx, floats...); err != nil {
		return fmt.Errorf("catalog: upsert: %w", err)
	}

	var links []map[string]any
	for _, f := range floats {
		if f.Project != "" {
			links = append(links, map[string]any{"wmo": int64(f.WMO), "project": f.Project})
		}
	}
	if len(links) == 0 {
		return nil
	}
	sess := c.session(ctx, true)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, `UNWIND $links AS l
		MATCH (f:Float {wmo: l.wmo})
		MERGE (p:Project {name: l.project})
		MERGE (f)-[:OPERATED_BY]->(p)`, map[string]any{"links": links})
	if err != nil {
		return fmt.Errorf("catalog: link projects: %w", err)
	}
	for res.Next(ctx) {
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("catalog: link projects: %w", err)
	}
	c.log.Debug("catalog: upserted floats", "floats", len(floats), "links", len(links))
	return nil
}

// List pages through floats ordered by WMO number.
func (c *Catalog) List(ctx context.Context, offset, limit int) ([]Float, error) {
	return c.floats.List(ctx, repo.ListOpts{Offset: offset, Limit: limit})
}

// ProjectCounts returns how many floats each project operates.
func (c *Catalog) ProjectCounts(ctx context.Context) (map[string]int64, error) {
	sess := c.session(ctx, false)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `MATCH (f:Float)-[:OPERATED_BY]->(p:Project) RETURN p.name AS project, count(f) AS floats`, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: project counts: %w", err)
	}
	counts := make(map[string]int64)
	for res.Next(ctx) {
		rec := res.Record()
		name, _ := rec.Get("project")
		n, _ := rec.Get("floats")
		if s, ok := name.(string); ok {
			if cnt, ok := n.(int64); ok {
				counts[s] = cnt
			}
		}
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("catalog: project counts: %w", err)
	}
	return counts, nil
}

// FromRecords derives one catalog entry per platform from measurement
// records, keeping the latest cycle seen. Output is ordered by WMO number.
func FromRecords(recs []domain.FloatRecord) []Float {
	byWMO := make(map[int]*Float)
	for _, r := range recs {
		f, ok := byWMO[r.Platform]
		if !ok {
			f = &Float{WMO: r.Platform}
			byWMO[r.Platform] = f
		}
		if r.Time.After(f.LastSeen) {
			f.LastSeen = r.Time
			f.LastCycle = r.Cycle
		}
		if r.Mission.Project != "" {
			f.Project = r.Mission.Project
		}
		if r.Mission.PlatformType != "" {
			f.PlatformType = r.Mission.PlatformType
		}
		if r.Mission.DataMode != "" {
			f.DataMode = r.Mission.DataMode
		}
		if r.Mission.Status != "" {
			f.Status = r.Mission.Status
		}
	}
	out := make([]Float, 0, len(byWMO))
	for _, f := range byWMO {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WMO < out[j].WMO })
	return out
}
