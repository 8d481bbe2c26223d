//go:build ignore

package main

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/flowplan/pkg/kernel/schema"
)

func main() {
	if err := os.MkdirAll("schemas", 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}

	outputs := []struct {
		path string
		gen  func() ([]byte, error)
	}{
		{"schemas/catalog-v0.json", schema.GenerateCatalogJSONSchema},
		{"schemas/plan-v0.json", schema.GeneratePlanJSONSchema},
	}
	for _, o := range outputs {
		data, err := o.gen()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error generating %s: %v\n", o.path, err)
			os.Exit(1)
		}
		if err := os.WriteFile(o.path, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "write: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", o.path)
	}
}
