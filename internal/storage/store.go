package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/typehaus/glyphhub/internal/entity"
)

// Store owns the on-disk footprint of every project:
//
//	<dir>/<project>.json                  aggregate document, authoritative on load
//	<dir>/<project>/glyphs/<name>.json    one file per glyph, for inspection only
//	<dir>/<project>/syntaxes/<name>.json  one file per syntax, for inspection only
//	<dir>/<project>/metrics.json          metrics value, for inspection only
//
// Every write goes through a sibling temp file and an atomic rename, so a
// crash mid-write leaves the previous snapshot intact.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// ProjectInfo is one row of the project listing.
type ProjectInfo struct {
	Project   string `json:"project"`
	Version   int64  `json:"version"`
	UpdatedAt string `json:"updatedAt"`
}

// Load reads the aggregate snapshot for a project and returns (nil, nil) when
// none exists. Aggregates written by older releases carry only the three
// payload fields; those are wrapped as version 1 with every present entity at
// version 1.
func (s *Store) Load(projectID string) (*entity.Document, error) {
	data, err := os.ReadFile(s.aggregatePath(projectID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read aggregate for %s: %w", projectID, err)
	}

	var doc entity.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse aggregate for %s: %w", projectID, err)
	}
	legacy := doc.Project == "" && doc.Version == 0

	glyphs, syntaxes, metrics, err := entity.NormalizeSnapshot(doc.Glyphs, doc.Syntaxes, doc.Metrics)
	if err != nil {
		return nil, fmt.Errorf("aggregate for %s: %w", projectID, err)
	}

	doc.Project = projectID
	doc.Glyphs = entity.MarshalByID(glyphs)
	doc.Syntaxes = entity.MarshalByID(syntaxes)
	doc.Metrics = metrics

	if legacy {
		doc.Version = 1
		doc.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		doc.GlyphVersions = initialVersions(glyphs)
		doc.SyntaxVersions = initialVersions(syntaxes)
		if !bytes.Equal(metrics, []byte("{}")) {
			doc.MetricsVersion = 1
		}
	}
	if doc.GlyphVersions == nil {
		doc.GlyphVersions = map[string]int64{}
	}
	if doc.SyntaxVersions == nil {
		doc.SyntaxVersions = map[string]int64{}
	}
	if doc.UpdatedAt == "" {
		doc.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return &doc, nil
}

// Save writes the aggregate atomically, refreshes the per-entity inspection
// tree, and removes entity files left over from previous revisions. A cleanup
// failure is an error: the caller must know the directory no longer matches
// the aggregate.
func (s *Store) Save(doc *entity.Document) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal aggregate for %s: %w", doc.Project, err)
	}
	if err := writeFileAtomic(s.aggregatePath(doc.Project), data); err != nil {
		return fmt.Errorf("write aggregate for %s: %w", doc.Project, err)
	}

	glyphs, err := entity.ParseArrayByID(doc.Glyphs, "glyphs")
	if err != nil {
		return fmt.Errorf("aggregate for %s: %w", doc.Project, err)
	}
	syntaxes, err := entity.ParseArrayByID(doc.Syntaxes, "syntaxes")
	if err != nil {
		return fmt.Errorf("aggregate for %s: %w", doc.Project, err)
	}

	projectDir := s.projectDir(doc.Project)
	if err := writeEntityDir(filepath.Join(projectDir, "glyphs"), glyphs); err != nil {
		return err
	}
	if err := writeEntityDir(filepath.Join(projectDir, "syntaxes"), syntaxes); err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, doc.Metrics, "", "  "); err != nil {
		return fmt.Errorf("format metrics for %s: %w", doc.Project, err)
	}
	if err := writeFileAtomic(filepath.Join(projectDir, "metrics.json"), pretty.Bytes()); err != nil {
		return fmt.Errorf("write metrics for %s: %w", doc.Project, err)
	}
	return nil
}

// List enumerates every project with an aggregate snapshot on disk, sorted by
// project id. Unreadable aggregates are skipped rather than failing the whole
// listing.
func (s *Store) List() ([]ProjectInfo, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan data dir: %w", err)
	}

	var out []ProjectInfo
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(de.Name(), ".json")
		doc, err := s.Load(id)
		if err != nil || doc == nil {
			continue
		}
		out = append(out, ProjectInfo{Project: doc.Project, Version: doc.Version, UpdatedAt: doc.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out, nil
}

func (s *Store) aggregatePath(projectID string) string {
	return filepath.Join(s.dir, projectID+".json")
}

func (s *Store) projectDir(projectID string) string {
	return filepath.Join(s.dir, projectID)
}

func writeEntityDir(dir string, entities map[string]json.RawMessage) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	names := entityFilenames(entities)
	for id, name := range names {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, entities[id], "", "  "); err != nil {
			return fmt.Errorf("format %s: %w", id, err)
		}
		if err := writeFileAtomic(filepath.Join(dir, name), pretty.Bytes()); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	// Anything *.json we did not just write belongs to a previous revision.
	keep := make(map[string]struct{}, len(names))
	for _, name := range names {
		keep[name] = struct{}{}
	}
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		if _, ok := keep[de.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, de.Name())); err != nil {
			return fmt.Errorf("remove stale %s: %w", de.Name(), err)
		}
	}
	return nil
}

// entityFilenames assigns one file name per entity id: the sanitized name
// field, falling back to the sanitized id, then "unnamed". A collision gets a
// --<sanitizedId> suffix, a further collision a numeric one. Iterating sorted
// ids keeps the assignment deterministic.
func entityFilenames(entities map[string]json.RawMessage) map[string]string {
	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	used := make(map[string]struct{}, len(ids))
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		base := sanitizeFilename(entity.StringField(entities[id], "name"))
		if base == "" {
			base = sanitizeFilename(id)
		}
		if base == "" {
			base = "unnamed"
		}
		name := base + ".json"
		if _, taken := used[name]; taken {
			alt := base + "--" + sanitizeFilename(id)
			name = alt + ".json"
			for n := 2; ; n++ {
				if _, taken := used[name]; !taken {
					break
				}
				name = fmt.Sprintf("%s-%d.json", alt, n)
			}
		}
		used[name] = struct{}{}
		out[id] = name
	}
	return out
}

func sanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '/' || r == '\\' || r < 0x20 || r == 0x7f {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// writeFileAtomic writes data to a sibling temp file and renames it over the
// target. The temp path never parses as an aggregate, so a partial write can
// never be loaded.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func initialVersions(entities map[string]json.RawMessage) map[string]int64 {
	out := make(map[string]int64, len(entities))
	for id := range entities {
		out[id] = 1
	}
	return out
}
