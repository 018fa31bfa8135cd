package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lance13c/vrt/internal/types"
)

// analysisPayload is the JSON shape models must answer analysis prompts with
type analysisPayload struct {
	Differences []differenceItem `json:"differences"`
	Assessment  assessmentItem   `json:"assessment"`
}

type differenceItem struct {
	ID          string `json:"id,omitempty"`
	Type        string `json:"type" jsonschema:"enum=layout,enum=color,enum=text,enum=content,enum=spacing,enum=size,enum=missing,enum=extra,enum=other"`
	Location    string `json:"location"`
	Description string `json:"description" jsonschema:"minLength=1"`
	Severity    string `json:"severity" jsonschema:"enum=critical,enum=major,enum=minor,enum=trivial"`
	Expected    string `json:"expected,omitempty"`
	Actual      string `json:"actual,omitempty"`
}

type assessmentItem struct {
	Score      float64 `json:"score" jsonschema:"minimum=0,maximum=100"`
	Grade      string  `json:"grade,omitempty"`
	Acceptable bool    `json:"acceptable"`
	Summary    string  `json:"summary"`
}

// fixPayload is the JSON shape of fix suggestion answers
type fixPayload struct {
	Suggestions []fixItem `json:"suggestions"`
}

type fixItem struct {
	DifferenceID string  `json:"difference_id,omitempty"`
	Description  string  `json:"description" jsonschema:"minLength=1"`
	Code         string  `json:"code,omitempty"`
	Confidence   float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

func toFixItems(fixes []types.FixSuggestion) []fixItem {
	items := make([]fixItem, 0, len(fixes))
	for _, f := range fixes {
		items = append(items, fixItem{
			DifferenceID: f.DifferenceID,
			Description:  f.Description,
			Code:         f.Code,
			Confidence:   f.Confidence,
		})
	}
	return items
}

var (
	analysisSchema *jsonschema.Schema
	fixSchema      *jsonschema.Schema
	analysisDoc    []byte
	compileOnce    sync.Once
	compileErr     error
)

// reflectSchema renders a Go type as a JSON schema document
func reflectSchema(v interface{}) ([]byte, error) {
	r := new(invopop.Reflector)
	r.DoNotReference = true
	r.Anonymous = true
	r.AllowAdditionalProperties = true
	return json.Marshal(r.Reflect(v))
}

func compileSchemas() error {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()

		var err error
		analysisDoc, err = reflectSchema(&analysisPayload{})
		if err != nil {
			compileErr = fmt.Errorf("reflect analysis schema: %w", err)
			return
		}
		fixDoc, err := reflectSchema(&fixPayload{})
		if err != nil {
			compileErr = fmt.Errorf("reflect fix schema: %w", err)
			return
		}

		for name, data := range map[string][]byte{"analysis.schema.json": analysisDoc, "fixes.schema.json": fixDoc} {
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				compileErr = fmt.Errorf("unmarshal %s: %w", name, err)
				return
			}
			if err := compiler.AddResource(name, doc); err != nil {
				compileErr = fmt.Errorf("add %s: %w", name, err)
				return
			}
		}

		if analysisSchema, err = compiler.Compile("analysis.schema.json"); err != nil {
			compileErr = fmt.Errorf("compile analysis schema: %w", err)
			return
		}
		if fixSchema, err = compiler.Compile("fixes.schema.json"); err != nil {
			compileErr = fmt.Errorf("compile fix schema: %w", err)
		}
	})
	return compileErr
}

func validate(schema **jsonschema.Schema, data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return (*schema).Validate(inst)
}

// ValidateAnalysis checks a model answer against the analysis schema
func ValidateAnalysis(data []byte) error {
	return validate(&analysisSchema, data)
}

// ValidateFixes checks a model answer against the fix schema
func ValidateFixes(data []byte) error {
	return validate(&fixSchema, data)
}

// AnalysisSchemaJSON returns the schema embedded in analysis prompts
func AnalysisSchemaJSON() (string, error) {
	if err := compileSchemas(); err != nil {
		return "", err
	}
	return string(analysisDoc), nil
}
