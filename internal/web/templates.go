package web

import (
	"embed"
	"html/template"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"ledgerwatch.mini/lwm/internal/types"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.Format("2006-01-02 15:04:05")
	},
	"short": func(hash string) string {
		if len(hash) <= 12 {
			return hash
		}
		return hash[:12] + "…"
	},
	"healthText": types.HealthDescription,
	"height": func(h *int) string {
		if h == nil {
			return "-"
		}
		return strconv.Itoa(*h)
	},
}

// parseTemplates parses the embedded page and fragment templates.
func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
}
