package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DataFile describes a single parquet object written by a sink.
type DataFile struct {
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
	Timestamp   time.Time      `json:"-"`
}

// ManifestEntry mirrors the information kept in an Iceberg manifest file.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest-list"`
}

// TableMetadata represents the high level Iceberg table metadata file.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Generator incrementally builds the metadata of one table. Files are
// kept under <basePath>/metadata.
type Generator struct {
	mu        sync.Mutex
	basePath  string
	location  string
	tableName string
	tableUUID string
	snapshots []Snapshot
}

func NewGenerator(basePath, location, tableName string) *Generator {
	return &Generator{
		basePath:  basePath,
		location:  location,
		tableName: tableName,
		tableUUID: uuid.NewString(),
	}
}

func (g *Generator) TableName() string { return g.tableName }

// Snapshots returns a copy of the recorded snapshots, oldest first.
func (g *Generator) Snapshots() []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Snapshot(nil), g.snapshots...)
}

// AddFile records a newly written parquet file and rewrites metadata.json.
// Snapshot ids are strictly increasing even when two files share a
// timestamp.
func (g *Generator) AddFile(df DataFile) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if df.Timestamp.IsZero() {
		df.Timestamp = time.Now()
	}
	snapID := df.Timestamp.UnixNano()
	if n := len(g.snapshots); n > 0 && snapID <= g.snapshots[n-1].SnapshotID {
		snapID = g.snapshots[n-1].SnapshotID + 1
	}

	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)
	manifestPath := filepath.Join(g.basePath, "metadata", manifestFile)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	b, err := json.Marshal([]ManifestEntry{{Status: 1, DataFile: df}})
	if err != nil {
		return err
	}
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	g.snapshots = append(g.snapshots, Snapshot{
		SnapshotID:  snapID,
		TimestampMs: df.Timestamp.UnixMilli(),
		Manifest:    manifestFile,
	})
	return g.writeTableMetadata()
}

func (g *Generator) writeTableMetadata() error {
	if len(g.snapshots) == 0 {
		return nil
	}
	tm := TableMetadata{
		FormatVersion:     2,
		TableUUID:         g.tableUUID,
		Location:          g.location,
		CurrentSnapshotID: g.snapshots[len(g.snapshots)-1].SnapshotID,
		Snapshots:         g.snapshots,
	}
	b, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(g.basePath, "metadata", "metadata.json"), b, 0o644)
}

// WriteCatalogEntry creates a catalog entry pointing at the table metadata.
func (g *Generator) WriteCatalogEntry(catalogDir string) error {
	entry := map[string]string{
		"name":              g.tableName,
		"location":          g.location,
		"metadata_location": filepath.Join(g.basePath, "metadata", "metadata.json"),
	}
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(catalogDir, g.tableName+".json"), b, 0o644)
}

// Catalog owns one Generator per derived table name.
type Catalog struct {
	mu       sync.Mutex
	basePath string
	location string
	tables   map[string]*Generator
}

// NewCatalog keeps table metadata under basePath/<table>. location is the
// object storage prefix data files live under, e.g. s3://bucket.
func NewCatalog(basePath, location string) *Catalog {
	return &Catalog{
		basePath: basePath,
		location: location,
		tables:   make(map[string]*Generator),
	}
}

// Table returns the generator for table, creating it on first use.
func (c *Catalog) Table(table string) *Generator {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.tables[table]
	if !ok {
		g = NewGenerator(filepath.Join(c.basePath, table), c.location+"/"+table, table)
		c.tables[table] = g
	}
	return g
}

// AddFile records df for table and refreshes its catalog entry.
func (c *Catalog) AddFile(table string, df DataFile) error {
	g := c.Table(table)
	if err := g.AddFile(df); err != nil {
		return fmt.Errorf("table %s: %w", table, err)
	}
	return g.WriteCatalogEntry(filepath.Join(c.basePath, "catalog"))
}

// Tables lists the known table names in sorted order.
func (c *Catalog) Tables() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
