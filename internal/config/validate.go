package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// Issue is one schema violation.
type Issue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func (i Issue) String() string {
	var b strings.Builder
	if i.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", i.Line)
	}
	if i.Field != "" {
		fmt.Fprintf(&b, "%s: ", i.Field)
	}
	b.WriteString(i.Message)
	return b.String()
}

// ValidationError lists every violation found in a config file.
type ValidationError struct {
	Source string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.String()
	}
	return fmt.Sprintf("invalid config %s: %s", e.Source, strings.Join(msgs, "; "))
}

// validateSchema unifies data with #Config. Unknown fields are violations
// because the definition is closed.
func validateSchema(name string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return &ValidationError{Source: name, Issues: issuesFrom(err)}
	}
	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return &ValidationError{Source: name, Issues: issuesFrom(err)}
	}
	// An empty or comment-only document extracts as null and means defaults.
	if value.IsNull() {
		value = ctx.CompileString("{}")
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Source: name, Issues: issuesFrom(err)}
	}
	return nil
}

func issuesFrom(err error) []Issue {
	var issues []Issue
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		issue := Issue{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		for _, pos := range cueerrors.Positions(e) {
			if pos.Filename() != "schema.cue" && pos.Line() > 0 {
				issue.Line = pos.Line()
				break
			}
		}
		if key := issue.String(); !seen[key] {
			seen[key] = true
			issues = append(issues, issue)
		}
	}
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Line < issues[j].Line
	})
	return issues
}
