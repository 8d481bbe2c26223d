package schema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and structurally decodes a catalog/v0 YAML document.
// Returns a structural error if the YAML contains unknown fields.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a catalog/v0 document from a reader.
func Load(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	normalize(&c)
	return &c, nil
}

// normalize trims names and lower-cases function types.
func normalize(c *Catalog) {
	for i := range c.Skills {
		s := &c.Skills[i]
		s.Name = strings.TrimSpace(s.Name)
		for j := range s.Functions {
			f := &s.Functions[j]
			f.Name = strings.TrimSpace(f.Name)
			f.Type = FunctionType(strings.ToLower(strings.TrimSpace(string(f.Type))))
		}
	}
}
