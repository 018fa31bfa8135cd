package orchestrator

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/types"
)

// ExpandTasks turns the named targets (all targets when names is empty) into
// tasks. Each variant runs once per named viewport, and once per engine when
// more than one engine is configured. Variants that pin their own viewport
// are not expanded across named viewports.
func ExpandTasks(cfg *config.Config, names []string) ([]types.TestTask, error) {
	targets := cfg.Targets
	if len(names) > 0 {
		targets = make([]config.TargetConfig, 0, len(names))
		for _, name := range names {
			t := cfg.FindTarget(name)
			if t == nil {
				return nil, fmt.Errorf("unknown target %q", name)
			}
			targets = append(targets, *t)
		}
	}

	viewportNames := make([]string, 0, len(cfg.Screenshot.Viewports))
	for name := range cfg.Screenshot.Viewports {
		viewportNames = append(viewportNames, name)
	}
	sort.Strings(viewportNames)

	engines := cfg.Screenshot.Browsers
	if len(engines) == 0 {
		engines = []string{""}
	}
	multiEngine := len(engines) > 1

	var tasks []types.TestTask
	for _, t := range targets {
		for _, v := range t.Variants {
			base := types.TestTask{
				TargetName:   t.Name,
				TargetType:   t.Type,
				URL:          resolveURL(cfg.Server.URL, t, v),
				Baseline:     v.Baseline,
				Selector:     v.Selector,
				WaitSelector: v.WaitSelector,
				Threshold:    v.Threshold,
				Viewport:     v.Viewport,
			}

			type sizing struct {
				name     string
				viewport *types.Viewport
			}
			sizes := []sizing{{viewport: v.Viewport}}
			if v.Viewport == nil && len(viewportNames) > 0 {
				sizes = sizes[:0]
				for _, name := range viewportNames {
					vp := cfg.Screenshot.Viewports[name]
					sizes = append(sizes, sizing{name: name, viewport: &vp})
				}
			}

			for _, size := range sizes {
				for _, engine := range engines {
					var parts []string
					if size.name != "" {
						parts = append(parts, size.name)
					}
					if multiEngine {
						parts = append(parts, engine)
					}
					suffix := strings.Join(parts, "@")

					task := base
					task.Viewport = size.viewport
					task.ViewportName = size.name
					task.Browser = engine
					task.VariantName = v.Name
					if suffix != "" {
						task.VariantName = v.Name + "@" + suffix
						task.Baseline = suffixBaseline(v.Baseline, suffix)
					}
					tasks = append(tasks, task)
				}
			}
		}
	}
	return tasks, nil
}

// suffixBaseline rewrites plain paths as base@suffix.ext. Structured sources
// name a design node and are shared by every expansion.
func suffixBaseline(src types.BaselineSource, suffix string) types.BaselineSource {
	if src.IsStructured() || src.Path == "" {
		return src
	}
	ext := filepath.Ext(src.Path)
	src.Path = strings.TrimSuffix(src.Path, ext) + "@" + suffix + ext
	return src
}

// resolveURL picks the variant URL, then the target URL, joined onto the
// server URL when relative. Storybook targets without a URL use the story
// iframe for target--variant.
func resolveURL(server string, t config.TargetConfig, v config.VariantConfig) string {
	raw := v.URL
	if raw == "" {
		raw = t.URL
	}
	if raw == "" && t.Type == types.TargetStory {
		raw = "/iframe.html?id=" + url.QueryEscape(storyID(t.Name, v.Name)) + "&viewMode=story"
	}
	if raw == "" {
		return server
	}

	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return raw
	}
	base, err := url.Parse(server)
	if err != nil {
		return raw
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref.Path = strings.TrimPrefix(ref.Path, "/")
	return base.ResolveReference(ref).String()
}

func storyID(target, variant string) string {
	clean := func(s string) string {
		return strings.Trim(strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
				return r
			case r >= 'A' && r <= 'Z':
				return r + 'a' - 'A'
			default:
				return '-'
			}
		}, s), "-")
	}
	return clean(target) + "--" + clean(variant)
}

func taskEnv(t types.TestTask) map[string]interface{} {
	return map[string]interface{}{
		"target":   t.TargetName,
		"type":     t.TargetType,
		"variant":  t.VariantName,
		"viewport": t.ViewportName,
		"browser":  t.Browser,
		"url":      t.URL,
	}
}

// CompileFilter compiles a boolean task filter such as
// `target == "button" && viewport != "mobile"`
func CompileFilter(filter string) (*vm.Program, error) {
	program, err := expr.Compile(filter, expr.Env(taskEnv(types.TestTask{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", filter, err)
	}
	return program, nil
}

// FilterTasks keeps the tasks the filter expression selects
func FilterTasks(tasks []types.TestTask, filter string) ([]types.TestTask, error) {
	if strings.TrimSpace(filter) == "" {
		return tasks, nil
	}
	program, err := CompileFilter(filter)
	if err != nil {
		return nil, err
	}

	kept := tasks[:0:0]
	for _, t := range tasks {
		out, err := expr.Run(program, taskEnv(t))
		if err != nil {
			return nil, fmt.Errorf("eval filter %q for %s: %w", filter, t.ID(), err)
		}
		if ok, _ := out.(bool); ok {
			kept = append(kept, t)
		}
	}
	return kept, nil
}
