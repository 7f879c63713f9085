package policy

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/policy.schema.json
var documentSchema string

const (
	schemaURL     = "https://goldeval.schemas.local/policy.schema.json"
	versionPrefix = "gold-risk-"
)

// Loader reads policy documents from a directory of .json, .yaml and .yml
// files. Every file must validate against the document schema; a missing id
// or hash is computed, a present one must match the content.
type Loader struct {
	mu     sync.RWMutex
	dir    string
	schema *jsonschema.Schema
	docs   map[string]Document // version -> document
}

// NewLoader creates a loader for dir.
func NewLoader(dir string) (*Loader, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(documentSchema)); err != nil {
		return nil, fmt.Errorf("policy: load schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("policy: compile schema: %w", err)
	}
	return &Loader{dir: dir, schema: schema, docs: make(map[string]Document)}, nil
}

// LoadAll loads every policy file in the directory. A missing directory is
// not an error; it simply leaves the loader empty.
func (l *Loader) LoadAll() error {
	if l.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("policy: read dir %s: %w", l.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || formatOf(e.Name()) == "" {
			continue
		}
		if _, err := l.LoadFile(filepath.Join(l.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads one document and registers it under its version.
func (l *Loader) LoadFile(path string) (Document, error) {
	format := formatOf(path)
	if format == "" {
		return Document{}, fmt.Errorf("policy: %s: unsupported extension", path)
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied policy directory
	if err != nil {
		return Document{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	doc, err := l.Parse(data, format)
	if err != nil {
		return Document{}, fmt.Errorf("policy: %s: %w", filepath.Base(path), err)
	}

	l.mu.Lock()
	l.docs[doc.Version] = doc
	l.mu.Unlock()
	return doc, nil
}

// Parse decodes and validates a document. format is "json" or "yaml".
func (l *Loader) Parse(data []byte, format string) (Document, error) {
	if format == "yaml" {
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return Document{}, fmt.Errorf("parse yaml: %w", err)
		}
		var err error
		if data, err = json.Marshal(generic); err != nil {
			return Document{}, fmt.Errorf("convert yaml: %w", err)
		}
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return Document{}, fmt.Errorf("parse json: %w", err)
	}
	if err := l.schema.Validate(generic); err != nil {
		return Document{}, fmt.Errorf("schema validation failed: %w", err)
	}

	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	if doc.Version == "" {
		doc.Version = doc.Body.Version
	}
	if doc.ID == "" || doc.Hash == "" {
		sealed, err := seal(doc.Body)
		if err != nil {
			return Document{}, err
		}
		if doc.Version != sealed.Version {
			return Document{}, fmt.Errorf("%w: version %q does not match body version %q", ErrHashMismatch, doc.Version, sealed.Version)
		}
		return sealed, nil
	}
	if err := doc.Verify(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Documents returns the loaded documents ordered by ascending version.
func (l *Loader) Documents() []Document {
	l.mu.RLock()
	docs := make([]Document, 0, len(l.docs))
	for _, d := range l.docs {
		docs = append(docs, d)
	}
	l.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		return compareVersions(docs[i].Version, docs[j].Version) < 0
	})
	return docs
}

// Latest returns the document with the highest version, or the builtin
// policy when nothing was loaded.
func (l *Loader) Latest(now time.Time) Document {
	docs := l.Documents()
	if len(docs) == 0 {
		return Builtin(now)
	}
	return docs[len(docs)-1]
}

// ParseVersion extracts the semantic version from "gold-risk-<semver>".
func ParseVersion(v string) (*semver.Version, error) {
	raw, ok := strings.CutPrefix(v, versionPrefix)
	if !ok {
		return nil, fmt.Errorf("policy: version %q lacks %q prefix", v, versionPrefix)
	}
	sv, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("policy: version %q: %w", v, err)
	}
	return sv, nil
}

// Unparseable versions sort before every valid one, then lexically.
func compareVersions(a, b string) int {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

func formatOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return ""
}
