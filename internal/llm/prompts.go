package llm

import (
	"fmt"
	"strings"

	"github.com/lance13c/vrt/internal/types"
)

const analysisSystemPrompt = `You are a meticulous visual QA engineer. You compare a baseline screenshot ` +
	`with the current rendering of the same UI and describe every visible difference. ` +
	`Answer with a single JSON object and nothing else.`

const analysisPromptTemplate = `The first image is the BASELINE (expected) and the second image is the ACTUAL rendering.
A third image, when present, highlights differing pixels in red.

Target: %s / %s
Pixel mismatch: %.2f%% (%d of %d pixels)
%s
Detected regions:
%s
Describe each meaningful difference and grade the overall fidelity of ACTUAL to BASELINE.
Score 0-100 where 100 is pixel identical; a score of 80 or more is acceptable.

Respond with JSON matching this schema:
%s`

const fixSystemPrompt = `You are a senior frontend engineer. You propose minimal CSS or markup changes ` +
	`that make a component match its design baseline. Answer with a single JSON object and nothing else.`

const fixPromptTemplate = `Target: %s / %s
The following visual differences were found between the baseline and the current rendering:
%s
For each difference propose a concrete fix. Include a short code snippet when you can and a confidence between 0 and 1.

Respond with JSON of the form:
{"suggestions":[{"difference_id":"...","description":"...","code":"...","confidence":0.5}]}`

func formatRegions(regions []types.DiffRegion) string {
	if len(regions) == 0 {
		return "  (none)\n"
	}
	var b strings.Builder
	for i, r := range regions {
		if i == 10 {
			fmt.Fprintf(&b, "  ... %d more\n", len(regions)-10)
			break
		}
		fmt.Fprintf(&b, "  - %s at x=%d y=%d w=%d h=%d (%d px)\n",
			r.Type, r.Bounds.X, r.Bounds.Y, r.Bounds.Width, r.Bounds.Height, r.PixelCount)
	}
	return b.String()
}

func buildAnalysisPrompt(target, variant string, cmp *types.CompareResult, schema string) string {
	sizeLine := ""
	if cmp.SizeDiff != nil {
		sizeLine = fmt.Sprintf("Size mismatch: baseline %dx%d, actual %dx%d\n",
			cmp.SizeDiff.Baseline.Width, cmp.SizeDiff.Baseline.Height,
			cmp.SizeDiff.Actual.Width, cmp.SizeDiff.Actual.Height)
	}
	return fmt.Sprintf(analysisPromptTemplate,
		target, variant,
		cmp.MismatchPercentage, cmp.MismatchPixels, cmp.TotalPixels,
		sizeLine,
		formatRegions(cmp.Regions),
		schema,
	)
}

func buildFixPrompt(target, variant string, diffs []types.Difference) string {
	var b strings.Builder
	for _, d := range diffs {
		fmt.Fprintf(&b, "- [%s] %s (%s, %s): %s", d.ID, d.Type, d.Severity, d.Location, d.Description)
		if d.Expected != "" || d.Actual != "" {
			fmt.Fprintf(&b, " expected=%q actual=%q", d.Expected, d.Actual)
		}
		b.WriteString("\n")
	}
	return fmt.Sprintf(fixPromptTemplate, target, variant, b.String())
}
