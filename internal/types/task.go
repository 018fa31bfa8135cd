package types

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Target types
const (
	TargetComponent = "component"
	TargetPage      = "page"
	TargetStory     = "storybook"
)

// Viewport represents a browser viewport size
type Viewport struct {
	Width             int     `json:"width" yaml:"width"`
	Height            int     `json:"height" yaml:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor,omitempty" yaml:"device_scale_factor,omitempty"`
}

// IsZero reports whether no size was configured
func (v Viewport) IsZero() bool {
	return v.Width == 0 && v.Height == 0
}

// BaselineSource identifies where a baseline image comes from.
// A plain path (Path set) always uses the configured default backend; a
// structured source names its own backend in Type.
type BaselineSource struct {
	Path    string `json:"path,omitempty" yaml:"-"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	Source  string `json:"source,omitempty" yaml:"source,omitempty"`
	FileKey string `json:"file_key,omitempty" yaml:"fileKey,omitempty"`
}

// IsStructured reports whether the source carries its own backend type
func (s BaselineSource) IsStructured() bool {
	return s.Path == "" && s.Type != ""
}

// String returns a human readable form used in logs and cache keys
func (s BaselineSource) String() string {
	if !s.IsStructured() {
		return s.Path
	}
	if s.FileKey != "" {
		return fmt.Sprintf("%s:%s/%s", s.Type, s.FileKey, s.Source)
	}
	return fmt.Sprintf("%s:%s", s.Type, s.Source)
}

// UnmarshalYAML accepts either a scalar path or a {type, source, fileKey} mapping
func (s *BaselineSource) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = BaselineSource{Path: value.Value}
		return nil
	case yaml.MappingNode:
		type structured BaselineSource
		var st structured
		if err := value.Decode(&st); err != nil {
			return err
		}
		if st.Type == "" {
			return fmt.Errorf("line %d: structured baseline requires a type", value.Line)
		}
		*s = BaselineSource(st)
		return nil
	default:
		return fmt.Errorf("line %d: baseline must be a path or a {type, source} mapping", value.Line)
	}
}

// MarshalYAML writes plain paths back as scalars
func (s BaselineSource) MarshalYAML() (interface{}, error) {
	if !s.IsStructured() {
		return s.Path, nil
	}
	type structured BaselineSource
	return structured(s), nil
}

// MarshalJSON mirrors MarshalYAML so reports keep the configured shape
func (s BaselineSource) MarshalJSON() ([]byte, error) {
	if !s.IsStructured() {
		return json.Marshal(s.Path)
	}
	type structured BaselineSource
	return json.Marshal(structured(s))
}

// TestTask is one (target, variant) pair after viewport/engine expansion
type TestTask struct {
	TargetName   string         `json:"target"`
	TargetType   string         `json:"target_type"`
	VariantName  string         `json:"variant"`
	URL          string         `json:"url"`
	Baseline     BaselineSource `json:"baseline"`
	Selector     string         `json:"selector,omitempty"`
	WaitSelector string         `json:"wait_selector,omitempty"`
	Threshold    *float64       `json:"threshold,omitempty"`
	Viewport     *Viewport      `json:"viewport,omitempty"`
	ViewportName string         `json:"viewport_name,omitempty"`
	Browser      string         `json:"browser,omitempty"`
}

// ID returns the target/variant identifier used in logs
func (t TestTask) ID() string {
	return t.TargetName + "/" + t.VariantName
}
