package plan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tanvi/sahayak/internal/store"
)

// placeholderRe matches {{item.field}} with an optional named transform and
// argument, e.g. {{item.email|redomain:archive.example.com}}.
var placeholderRe = regexp.MustCompile(`\{\{\s*item\.([A-Za-z0-9_]+)\s*(?:\|\s*([a-z_]+)(?::([^}|]+))?)?\s*\}\}`)

// RenderTemplate substitutes {{item.<field>}} placeholders in tmpl with
// values from item, applying the named transform when one is given. Unknown
// fields render as empty strings; unknown transforms leave the value as-is.
func RenderTemplate(tmpl string, item store.Record) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		field, transform, arg := groups[1], groups[2], strings.TrimSpace(groups[3])

		v, ok := item[field]
		if !ok || v == nil {
			return ""
		}
		value := fmt.Sprintf("%v", v)

		switch transform {
		case "":
			return value
		case "lower":
			return strings.ToLower(value)
		case "upper":
			return strings.ToUpper(value)
		case "trim":
			return strings.TrimSpace(value)
		case "redomain":
			// Rewrite the domain of an email-shaped value, keeping the
			// local part. Non-email values pass through untouched.
			if at := strings.LastIndex(value, "@"); at > 0 && arg != "" {
				return value[:at+1] + arg
			}
			return value
		default:
			return value
		}
	})
}

// renderData derives a per-item data record from a template map.
func renderData(tmpl map[string]string, item store.Record) map[string]any {
	out := make(map[string]any, len(tmpl))
	for field, t := range tmpl {
		out[field] = RenderTemplate(t, item)
	}
	return out
}
