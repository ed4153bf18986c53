// Package catalog holds the static registry of heritage sites the scanner
// can recognize. Records are immutable after load; lookups go through the
// normalized key form so classifier label drift (casing, punctuation) does
// not break matching.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed sites.yaml
var builtinSites []byte

// SiteID identifies a catalog entry. The zero value means unrecognized.
type SiteID string

const Unrecognized SiteID = ""

// Marker is an AR overlay anchor, positioned in percent of the viewport.
type Marker struct {
	ID    string  `yaml:"id" json:"id"`
	Label string  `yaml:"label" json:"label"`
	X     float64 `yaml:"x" json:"x"`
	Y     float64 `yaml:"y" json:"y"`
}

// SiteRecord describes a single heritage site.
type SiteRecord struct {
	ID          SiteID   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Location    string   `yaml:"location" json:"location"`
	Period      string   `yaml:"period" json:"period"`
	Description string   `yaml:"description" json:"description"`
	Narration   string   `yaml:"narration" json:"narration"`
	Facts       []string `yaml:"facts" json:"facts"`
	Markers     []Marker `yaml:"markers" json:"markers"`
}

type catalogFile struct {
	Sites []SiteRecord `yaml:"sites"`
}

// Catalog is the loaded, read-only site registry.
type Catalog struct {
	sites []SiteRecord
	byKey map[SiteID]*SiteRecord
}

// Normalize reduces a classifier label to catalog key form: lowercase with
// all non-alphabetic runes stripped.
func Normalize(label string) SiteID {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return SiteID(b.String())
}

// Load builds the catalog from the embedded site table, or from path when
// one is configured.
func Load(path string) (*Catalog, error) {
	data := builtinSites
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog file: %w", err)
		}
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		sites: file.Sites,
		byKey: make(map[SiteID]*SiteRecord, len(file.Sites)),
	}
	for i := range c.sites {
		site := &c.sites[i]
		if err := validateSite(site); err != nil {
			return nil, err
		}
		key := Normalize(string(site.ID))
		if key == Unrecognized {
			return nil, fmt.Errorf("site %q: id normalizes to empty key", site.ID)
		}
		if key != site.ID {
			return nil, fmt.Errorf("site %q: id must already be in normalized form (%q)", site.ID, key)
		}
		if _, exists := c.byKey[key]; exists {
			return nil, fmt.Errorf("duplicate site id %q", site.ID)
		}
		c.byKey[key] = site
	}
	if len(c.sites) == 0 {
		return nil, fmt.Errorf("catalog contains no sites")
	}
	return c, nil
}

func validateSite(site *SiteRecord) error {
	if site.Name == "" {
		return fmt.Errorf("site %q: name is required", site.ID)
	}
	if site.Narration == "" {
		return fmt.Errorf("site %q: narration is required", site.ID)
	}
	for _, m := range site.Markers {
		if m.ID == "" || m.Label == "" {
			return fmt.Errorf("site %q: marker id and label are required", site.ID)
		}
		if m.X < 0 || m.X > 100 || m.Y < 0 || m.Y > 100 {
			return fmt.Errorf("site %q: marker %q position out of range [0,100]", site.ID, m.ID)
		}
	}
	return nil
}

// Resolve matches a raw classifier label against the catalog. It returns the
// matching record, or ok=false when the normalized label is not a known key.
func (c *Catalog) Resolve(label string) (*SiteRecord, bool) {
	key := Normalize(label)
	if key == Unrecognized {
		return nil, false
	}
	site, ok := c.byKey[key]
	return site, ok
}

// Get looks up a site by exact id.
func (c *Catalog) Get(id SiteID) (*SiteRecord, bool) {
	site, ok := c.byKey[id]
	return site, ok
}

// Sites returns all records in file order.
func (c *Catalog) Sites() []SiteRecord {
	return c.sites
}

// Len reports the number of sites.
func (c *Catalog) Len() int { return len(c.sites) }
