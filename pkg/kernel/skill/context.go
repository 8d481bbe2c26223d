package skill

import (
	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/kernel/trace"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// Context is the execution context handed to a function: the variable scope
// it reads and writes, the catalog, a logger, an optional trace writer, and
// the soft-failure state a function sets instead of returning an error.
//
// Cancellation travels separately as a context.Context argument.
type Context struct {
	Variables *vars.Scope
	Skills    Catalog
	Logger    *zap.Logger
	Trace     *trace.Writer

	errorOccurred bool
	lastErrorDesc string
	lastErr       error
}

// NewContext creates a context. Nil variables become an empty scope and a
// nil logger becomes a no-op logger.
func NewContext(variables *vars.Scope, skills Catalog, logger *zap.Logger) *Context {
	if variables == nil {
		variables = vars.New("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		Variables: variables,
		Skills:    skills,
		Logger:    logger,
	}
}

// Derive returns a fresh context over variables that shares the catalog,
// logger, and trace writer of c. The failure state is not inherited.
func (c *Context) Derive(variables *vars.Scope) *Context {
	d := NewContext(variables, c.Skills, c.Logger)
	d.Trace = c.Trace
	return d
}

// Result returns the input value of the context's variables.
func (c *Context) Result() string {
	return c.Variables.Input()
}

// Fail marks the context as failed and returns it.
func (c *Context) Fail(description string, err error) *Context {
	c.errorOccurred = true
	c.lastErrorDesc = description
	c.lastErr = err
	return c
}

// ErrorOccurred reports whether Fail has been called.
func (c *Context) ErrorOccurred() bool {
	return c.errorOccurred
}

// LastErrorDescription returns the description passed to Fail.
func (c *Context) LastErrorDescription() string {
	return c.lastErrorDesc
}

// LastErr returns the error passed to Fail, which may be nil.
func (c *Context) LastErr() error {
	return c.lastErr
}

// IsFunctionRegistered looks up skillName.name in the context's catalog.
func (c *Context) IsFunctionRegistered(skillName, name string) (Function, bool) {
	if c.Skills == nil || !c.Skills.HasFunction(skillName, name) {
		return nil, false
	}
	fn, err := c.Skills.Function(skillName, name)
	if err != nil {
		return nil, false
	}
	return fn, true
}
