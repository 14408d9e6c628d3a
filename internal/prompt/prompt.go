// Package prompt renders OCR results into the instruction prompt consumed by
// the receipt model.
package prompt

import (
	"strconv"
	"strings"

	"github.com/zombor/receipt-parser/internal/ocr"
)

// Section delimiters. Each must occur exactly once in a synthesized prompt.
const (
	InstructionHeader = "### Instruction:"
	InputHeader       = "### Input:"
	OutputHeader      = "### Output:"
)

// Instruction is sent verbatim on every call. The receipt model was tuned on
// this exact wording, typos included.
const Instruction = "You are POS receipt data expert, parse, detect, recognize and convert following receipt OCR image result into structure receipt data object.\n" +
	"Don't make up value not in the Input. Output must be a well-formed JSON object.```json"

// sectionTokens are neutralized in region text so OCR output can never
// forge a section boundary.
var sectionTokens = strings.NewReplacer(
	"Instruction:", "Instruction :",
	"Input:", "Input :",
	"Output:", "Output :",
)

// Synthesize builds the inference prompt for result. It is a pure function:
// identical input always yields a byte-identical prompt.
func Synthesize(result ocr.Result) string {
	var b strings.Builder
	b.WriteString(InstructionHeader)
	b.WriteByte('\n')
	b.WriteString(Instruction)
	b.WriteByte('\n')
	b.WriteString(InputHeader)
	b.WriteByte('\n')
	for _, region := range result {
		writeRegion(&b, region)
		b.WriteByte('\n')
	}
	b.WriteString(OutputHeader)
	b.WriteByte('\n')
	return b.String()
}

// writeRegion renders a region as [[[x, y], ...], ('text', confidence)].
func writeRegion(b *strings.Builder, r ocr.TextRegion) {
	b.WriteString("[[")
	for i, p := range r.Box {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('[')
		b.WriteString(formatFloat(p.X))
		b.WriteString(", ")
		b.WriteString(formatFloat(p.Y))
		b.WriteByte(']')
	}
	b.WriteString("], (")
	b.WriteString(quote(r.Text))
	b.WriteString(", ")
	b.WriteString(formatFloat(r.Confidence))
	b.WriteString(")]")
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// quote single-quotes text, escaping backslashes, quotes and line breaks.
func quote(text string) string {
	text = sectionTokens.Replace(text)

	var b strings.Builder
	b.Grow(len(text) + 2)
	b.WriteByte('\'')
	for _, r := range text {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
