package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/flowplan/pkg/kernel/coreskills"
	"github.com/ormasoftchile/flowplan/pkg/kernel/eval"
	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/planner"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
)

// ValidationError represents one error or warning from the validation pipeline.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: "error"}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: "warning"}
}

// HasErrors reports whether errs holds anything more severe than a warning.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// ValidateFile runs the full pipeline on a catalog file:
// structural (strict YAML decode), semantic (JSON Schema), domain.
func ValidateFile(path string) (*Catalog, []*ValidationError) {
	c, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf("structural", "", "failed to load: %s", err)}
	}
	return c, ValidateCatalog(c)
}

// ValidateCatalog runs the semantic and domain phases on a loaded catalog.
// Domain rules run only when the semantic phase is clean.
func ValidateCatalog(c *Catalog) []*ValidationError {
	schemaJSON, err := GenerateCatalogJSONSchema()
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "generate schema: %v", err)}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "marshal for schema validation: %v", err)}
	}
	errs := validateSemantic("catalog-v0.json", schemaJSON, data)
	if HasErrors(errs) {
		return errs
	}
	return append(errs, validateCatalogDomain(c)...)
}

// ValidatePlan checks a serialized plan: it must be a JSON object matching
// the plan schema whose cursors are in range. With a non-nil catalog, leaves
// naming functions the catalog lacks are reported as warnings.
func ValidatePlan(data []byte, catalog skill.Catalog) []*ValidationError {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) || !bytes.HasPrefix(trimmed, []byte("{")) {
		return []*ValidationError{errorf("structural", "", "plan must be a JSON object")}
	}

	schemaJSON, err := GeneratePlanJSONSchema()
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "generate schema: %v", err)}
	}
	errs := validateSemantic("plan.json", schemaJSON, trimmed)
	if HasErrors(errs) {
		return errs
	}

	p, err := plan.Parse(trimmed)
	if err != nil {
		return append(errs, errorf("domain", "", "%v", err))
	}
	_ = p.Walk(func(node *plan.Plan, depth int) error {
		if node.IsLeaf() && node.Name == "" {
			errs = append(errs, errorf("domain", node.QualifiedName(), "function step has no name"))
		}
		return nil
	})
	if catalog != nil {
		for _, name := range p.Resolve(catalog) {
			errs = append(errs, warningf("domain", name, "function %s is not in the catalog", name))
		}
	}
	return errs
}

// validateSemantic validates data against the JSON Schema document.
func validateSemantic(url string, schemaJSON, data []byte) []*ValidationError {
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return []*ValidationError{errorf("semantic", "", "unmarshal schema: %v", err)}
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource(url, schemaDoc); err != nil {
		return []*ValidationError{errorf("semantic", "", "add schema resource: %v", err)}
	}
	sch, err := c.Compile(url)
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "compile schema: %v", err)}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{errorf("semantic", "", "unmarshal document: %v", err)}
	}

	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return []*ValidationError{errorf("semantic", "", "%s", err)}
		}
		var errs []*ValidationError
		for _, cause := range flattenValidationErrors(ve) {
			errs = append(errs, errorf("semantic", strings.Join(cause.InstanceLocation, "/"), "%v", cause.ErrorKind))
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ---------------------------------------------------------------------------
// Domain rules
// ---------------------------------------------------------------------------

var (
	// Function names become XML element names in planner markup
	// (function.skill.name) and are split at the last dot.
	functionNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	skillNamePattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)
)

func validateCatalogDomain(c *Catalog) []*ValidationError {
	var errs []*ValidationError

	// D1: apiVersion must be catalog/v0
	if c.APIVersion != APIVersionCatalog {
		errs = append(errs, errorf("domain", "apiVersion", "expected %q, got %q", APIVersionCatalog, c.APIVersion))
	}

	// D2: skill names are unique and well-formed
	skills := map[string]string{}
	for i, s := range c.Skills {
		path := fmt.Sprintf("skills[%d]", i)
		if !skillNamePattern.MatchString(s.Name) {
			errs = append(errs, errorf("domain", path+".name", "invalid skill name %q", s.Name))
		}
		key := strings.ToLower(s.Name)
		if prev, ok := skills[key]; ok {
			errs = append(errs, errorf("domain", path+".name", "duplicate skill %q (first at %s)", s.Name, prev))
		} else {
			skills[key] = path
		}

		// D3: the restricted skill is never offered to the planner
		if strings.EqualFold(s.Name, planner.DefaultRestrictedSkillName) {
			errs = append(errs, warningf("domain", path+".name", "functions of skill %q are hidden from the planner", s.Name))
		}

		errs = append(errs, validateSkill(s, path)...)
	}
	return errs
}

func validateSkill(s Skill, path string) []*ValidationError {
	var errs []*ValidationError

	builtin := isBuiltinSkill(s.Name)
	if s.Builtin && !builtin {
		errs = append(errs, errorf("domain", path+".builtin", "%q is not a built-in skill (have %s)", s.Name, strings.Join(coreskills.Names, ", ")))
	}
	if !s.Builtin && len(s.Functions) == 0 {
		errs = append(errs, warningf("domain", path, "skill %q declares no functions", s.Name))
	}

	names := map[string]string{}
	hasExtension := false
	for j, f := range s.Functions {
		fpath := fmt.Sprintf("%s.functions[%d]", path, j)
		if !functionNamePattern.MatchString(f.Name) {
			errs = append(errs, errorf("domain", fpath+".name", "invalid function name %q", f.Name))
		}
		key := strings.ToLower(f.Name)
		if prev, ok := names[key]; ok {
			errs = append(errs, errorf("domain", fpath+".name", "duplicate function %q (first at %s)", f.Name, prev))
		} else {
			names[key] = fpath
		}
		if f.Type == FunctionExtension {
			hasExtension = true
		}
		if f.Type == FunctionBuiltin && s.Builtin {
			errs = append(errs, errorf("domain", fpath, "function %q is already imported by builtin: true", f.Name))
		}
		errs = append(errs, validateFunction(s, f, fpath)...)
	}

	if hasExtension && (s.Host == nil || s.Host.Command == "") {
		errs = append(errs, errorf("domain", path+".host", "skill with extension functions requires host.command"))
	}
	if !hasExtension && s.Host != nil {
		errs = append(errs, warningf("domain", path+".host", "host is only used by extension functions"))
	}
	return errs
}

func validateFunction(s Skill, f Function, path string) []*ValidationError {
	var errs []*ValidationError

	switch f.Type {
	case FunctionPrompt:
		if strings.TrimSpace(f.Template) == "" {
			errs = append(errs, errorf("domain", path+".template", "prompt function requires 'template' field"))
		} else if _, err := eval.Resolve(f.Template, nil); err != nil {
			errs = append(errs, errorf("domain", path+".template", "invalid template: %v", err))
		}
	case FunctionCommand:
		if len(f.Argv) == 0 {
			errs = append(errs, errorf("domain", path+".argv", "command function requires 'argv' field"))
		}
		for i, a := range f.Argv {
			if _, err := eval.Resolve(a, nil); err != nil {
				errs = append(errs, errorf("domain", fmt.Sprintf("%s.argv[%d]", path, i), "invalid template: %v", err))
			}
		}
		if f.Timeout != "" {
			if d, err := time.ParseDuration(f.Timeout); err != nil || d <= 0 {
				errs = append(errs, errorf("domain", path+".timeout", "invalid timeout %q", f.Timeout))
			}
		}
		for name, ext := range f.Extract {
			switch ext.From {
			case "", "stdout", "stderr", "json":
			default:
				errs = append(errs, errorf("domain", path+".extract."+name, "invalid extract source %q: must be stdout, stderr, or json", ext.From))
			}
			if ext.Pattern != "" {
				if _, err := regexp.Compile(ext.Pattern); err != nil {
					errs = append(errs, errorf("domain", path+".extract."+name, "invalid pattern: %v", err))
				}
			}
		}
	case FunctionBuiltin:
		if !isBuiltinSkill(s.Name) {
			errs = append(errs, errorf("domain", path, "builtin function in non built-in skill %q", s.Name))
		} else if !hasBuiltinFunction(s.Name, f.Name) {
			errs = append(errs, errorf("domain", path+".name", "built-in skill %q has no function %q", s.Name, f.Name))
		}
	case FunctionExtension:
	default:
		errs = append(errs, errorf("domain", path+".type", "invalid function type %q", f.Type))
	}

	if f.Type != FunctionPrompt && (f.Template != "" || f.Settings != nil) {
		errs = append(errs, warningf("domain", path, "template and settings are only used by prompt functions"))
	}
	if f.Type != FunctionCommand && (len(f.Argv) > 0 || len(f.Extract) > 0) {
		errs = append(errs, warningf("domain", path, "argv and extract are only used by command functions"))
	}

	params := map[string]bool{}
	for i, p := range f.Parameters {
		ppath := fmt.Sprintf("%s.parameters[%d]", path, i)
		if p.Name == "" {
			errs = append(errs, errorf("domain", ppath+".name", "parameter name is required"))
			continue
		}
		if params[strings.ToLower(p.Name)] {
			errs = append(errs, errorf("domain", ppath+".name", "duplicate parameter %q", p.Name))
		}
		params[strings.ToLower(p.Name)] = true
	}
	return errs
}

func isBuiltinSkill(name string) bool {
	for _, n := range coreskills.Names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

func hasBuiltinFunction(skillName, name string) bool {
	fns, err := coreskills.Builtin(skillName, nil, coreskills.Options{})
	if err != nil {
		return false
	}
	for _, fn := range fns {
		if strings.EqualFold(fn.Describe().Name, name) {
			return true
		}
	}
	return false
}
