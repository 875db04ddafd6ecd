package retriever

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/kbase/pkg/types"
)

// Format selects how a context bundle is rendered
type Format string

const (
	FormatMarkup Format = "markup" // XML-style tagged entries
	FormatProse  Format = "prose"  // Markdown sections
)

// ProseSeparator joins prose sections
const ProseSeparator = "\n\n---\n\n"

// ParseFormat converts a format name. Empty selects markup.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markup", "xml":
		return FormatMarkup, nil
	case "prose", "markdown", "md":
		return FormatProse, nil
	default:
		return "", fmt.Errorf("unsupported context format %q", s)
	}
}

// FormatForLLM renders a retrieval result. It reads only the result.
func FormatForLLM(result *types.ContextRetrievalResult, format Format) string {
	if format == FormatProse {
		return formatProse(result)
	}
	return formatMarkup(result)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

func formatRelevance(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

func formatMarkup(result *types.ContextRetrievalResult) string {
	var b strings.Builder
	b.WriteString("<context>\n")
	if result != nil {
		for _, item := range result.Items {
			fmt.Fprintf(&b, `  <entry id="%s" type="%s" relevance="%s"`,
				escapeXML(item.ID), escapeXML(item.Type), formatRelevance(item.Relevance))
			if item.Related {
				b.WriteString(` related="true"`)
			}
			if item.Truncated {
				b.WriteString(` truncated="true"`)
			}
			b.WriteString(">\n")

			fmt.Fprintf(&b, "    <title>%s</title>\n", escapeXML(item.Title))
			if len(item.Tags) > 0 {
				fmt.Fprintf(&b, "    <tags>%s</tags>\n", escapeXML(strings.Join(item.Tags, ", ")))
			}
			fmt.Fprintf(&b, "    <content>%s</content>\n", escapeXML(item.Content))
			b.WriteString("  </entry>\n")
		}
	}
	b.WriteString("</context>")
	return b.String()
}

func formatProse(result *types.ContextRetrievalResult) string {
	if result == nil || len(result.Items) == 0 {
		return ""
	}

	sections := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		var b strings.Builder
		fmt.Fprintf(&b, "## %s [%s]\n", item.Title, item.Type)

		meta := []string{"Relevance: " + formatRelevance(item.Relevance)}
		if item.Status != "" {
			meta = append(meta, "Status: "+item.Status)
		}
		if len(item.Tags) > 0 {
			meta = append(meta, "Tags: "+strings.Join(item.Tags, ", "))
		}
		if !item.UpdatedAt.IsZero() {
			meta = append(meta, "Updated: "+item.UpdatedAt.Format("2006-01-02"))
		}
		if item.Related {
			meta = append(meta, "Related")
		}
		b.WriteString(strings.Join(meta, " | "))
		b.WriteString("\n\n")
		b.WriteString(item.Content)

		sections = append(sections, b.String())
	}
	return strings.Join(sections, ProseSeparator)
}
