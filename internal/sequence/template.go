package sequence

import (
	"html"
	"regexp"
	"strings"

	"flowcrm/backend/internal/sequence/domain"
)

var placeholder = regexp.MustCompile(`\{\{\s*lead\.([A-Za-z]+)\s*\}\}`)

// Render substitutes {{lead.<field>}} placeholders. Unknown fields are left as written.
// With escape set, values are HTML-escaped for email bodies.
func Render(tmpl string, lead *domain.Lead, escape bool) string {
	if lead == nil {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		v, ok := leadField(lead, placeholder.FindStringSubmatch(m)[1])
		if !ok {
			return m
		}
		if escape {
			return html.EscapeString(v)
		}
		return v
	})
}

func leadField(l *domain.Lead, name string) (string, bool) {
	switch strings.ToLower(name) {
	case "name":
		return l.Name, true
	case "firstname":
		if f := strings.Fields(l.Name); len(f) > 0 {
			return f[0], true
		}
		return "", true
	case "email":
		return l.Email, true
	case "company":
		return l.Company, true
	case "phone":
		return l.Phone, true
	case "status":
		return l.Status, true
	}
	return "", false
}
