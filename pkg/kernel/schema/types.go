// Package schema defines the catalog/v0 document that declares the functions
// plans are built from, with its loader, JSON Schema export, and validation.
package schema

import (
	"github.com/ormasoftchile/flowplan/pkg/kernel/contract"
	"github.com/ormasoftchile/flowplan/pkg/kernel/executor"
	"github.com/ormasoftchile/flowplan/pkg/kernel/llm"
)

// APIVersionCatalog is the only accepted catalog apiVersion.
const APIVersionCatalog = "catalog/v0"

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

// Catalog is the top-level catalog/v0 document.
type Catalog struct {
	APIVersion string  `yaml:"apiVersion" json:"apiVersion"`
	Skills     []Skill `yaml:"skills"     json:"skills"`
}

// Skill groups functions under one skill name.
type Skill struct {
	Name        string     `yaml:"name"                  json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Builtin     bool       `yaml:"builtin,omitempty"     json:"builtin,omitempty"` // import every built-in function of the same-named skill
	Host        *Host      `yaml:"host,omitempty"        json:"host,omitempty"`    // serves extension functions
	Functions   []Function `yaml:"functions,omitempty"   json:"functions,omitempty"`

	// Contract applies to every function of the skill; a function's own
	// contract overrides it field by field.
	Contract *contract.Contract `yaml:"contract,omitempty" json:"contract,omitempty"`
}

// Host is the process serving a skill's extension functions over JSON-RPC.
type Host struct {
	Command string   `yaml:"command"        json:"command"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

// FunctionType enumerates the ways a catalog function is implemented.
type FunctionType string

const (
	FunctionPrompt    FunctionType = "prompt"
	FunctionCommand   FunctionType = "command"
	FunctionBuiltin   FunctionType = "builtin"
	FunctionExtension FunctionType = "extension"
)

// Function is one catalog entry. Fields are populated based on Type.
type Function struct {
	Name        string       `yaml:"name"                  json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Type        FunctionType `yaml:"type"                  json:"type" jsonschema:"enum=prompt,enum=command,enum=builtin,enum=extension"`
	Parameters  []Parameter  `yaml:"parameters,omitempty"  json:"parameters,omitempty"`

	Contract *contract.Contract `yaml:"contract,omitempty" json:"contract,omitempty"`

	// Prompt function
	Template string        `yaml:"template,omitempty" json:"template,omitempty"`
	Settings *llm.Settings `yaml:"settings,omitempty" json:"settings,omitempty"`

	// Command function
	Argv    []string                    `yaml:"argv,omitempty"    json:"argv,omitempty"`
	Binary  string                      `yaml:"binary,omitempty"  json:"binary,omitempty"`
	Dir     string                      `yaml:"dir,omitempty"     json:"dir,omitempty"`
	Timeout string                      `yaml:"timeout,omitempty" json:"timeout,omitempty"` // Go duration, e.g. 30s
	Extract map[string]executor.Extract `yaml:"extract,omitempty" json:"extract,omitempty"`
}

// Parameter documents one input the function reads from the scope.
type Parameter struct {
	Name        string `yaml:"name"                  json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Default     string `yaml:"default,omitempty"     json:"default,omitempty"`
}
