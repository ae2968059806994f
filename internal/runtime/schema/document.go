package schema

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/drblury/userflow/internal/runtime/jsoncodec"
)

// Document is a compiled JSON Schema registered under a subject.
type Document struct {
	subject  string
	version  int
	source   string
	compiled *jsonschema.Schema
}

// Compile parses and compiles source. Formats such as "email" are asserted.
func Compile(subject, source string) (*Document, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	url := "mem://schemas/" + subject + ".json"
	if err := compiler.AddResource(url, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("schema %s: %w", subject, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", subject, err)
	}
	return &Document{subject: subject, source: source, compiled: compiled}, nil
}

func (d *Document) Subject() string { return d.subject }
func (d *Document) Version() int    { return d.version }
func (d *Document) Source() string  { return d.source }

// Check decodes payload and validates it. The returned error is non-nil only
// when payload is not JSON at all; constraint violations come back as reasons
// ordered by JSON pointer.
func (d *Document) Check(payload []byte) ([]string, error) {
	value, err := jsoncodec.UnmarshalValue(payload)
	if err != nil {
		return nil, err
	}
	return d.CheckValue(value), nil
}

// CheckValue validates an already decoded JSON value.
func (d *Document) CheckValue(value any) []string {
	err := d.compiled.Validate(value)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !stderrors.As(err, &verr) {
		return []string{err.Error()}
	}

	var leaves []*jsonschema.ValidationError
	collectLeaves(verr, &leaves)
	sort.SliceStable(leaves, func(i, j int) bool {
		return leaves[i].InstanceLocation < leaves[j].InstanceLocation
	})

	reasons := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		reasons = append(reasons, "#"+leaf.InstanceLocation+": "+leaf.Message)
	}
	return reasons
}

func collectLeaves(err *jsonschema.ValidationError, out *[]*jsonschema.ValidationError) {
	if len(err.Causes) == 0 {
		*out = append(*out, err)
		return
	}
	for _, cause := range err.Causes {
		collectLeaves(cause, out)
	}
}
