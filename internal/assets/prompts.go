// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at compile time.
package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

// --- Static prompts (no dynamic data) ---

// SystemInstructionPrompt frames every call to the generation service.
//
//go:embed prompts/system-instruction.txt
var SystemInstructionPrompt string

// DetectPrompt asks for the structured list of garments in an image.
//
//go:embed prompts/detect.txt
var DetectPrompt string

// AnalyzePrompt asks for the structured assessment of a composite.
//
//go:embed prompts/analyze.txt
var AnalyzePrompt string

// --- Dynamic prompt templates ---

//go:embed prompts/generate.txt
var generateTemplate string

//go:embed prompts/refine.txt
var refineTemplate string

//go:embed prompts/safety.txt
var safetyTemplate string

// Pre-parsed templates. template.Must panics on malformed templates,
// catching errors at program startup rather than at call time.
var (
	generatePromptTmpl = template.Must(template.New("generate").Parse(generateTemplate))
	refinePromptTmpl   = template.Must(template.New("refine").Parse(refineTemplate))
	safetyPromptTmpl   = template.Must(template.New("safety").Parse(safetyTemplate))
)

// GenerateData holds the dynamic data injected into the generate prompt.
type GenerateData struct {
	Category             string
	Description          string
	PreserveFeatures     bool
	HighQuality          bool
	Style                string
	Lighting             string
	CharacterConsistency bool
	MultiImageFusion     bool
}

// RefineData holds the dynamic data injected into the refine prompt.
type RefineData struct {
	Instruction      string
	PreserveFeatures bool
}

// SafetyData holds the dynamic data injected into the safety prompt.
type SafetyData struct {
	// Subject names the image under review, e.g. "subject photo".
	Subject string
	// Expected describes what the image should show, e.g. "photo of a person".
	Expected string
}

// RenderGeneratePrompt renders the composite generation prompt.
func RenderGeneratePrompt(data GenerateData) string {
	return renderTemplate(generatePromptTmpl, data)
}

// RenderRefinePrompt renders the refinement prompt.
func RenderRefinePrompt(data RefineData) string {
	return renderTemplate(refinePromptTmpl, data)
}

// RenderSafetyPrompt renders the safety screening prompt.
func RenderSafetyPrompt(data SafetyData) string {
	return renderTemplate(safetyPromptTmpl, data)
}

// renderTemplate executes a pre-parsed template with the given data.
func renderTemplate(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	// Template execution errors are not expected with our simple templates,
	// but we handle them gracefully by returning whatever was rendered.
	_ = tmpl.Execute(&buf, data)
	return strings.TrimSpace(buf.String())
}
