package enrich

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/sells-group/saleslist/internal/model"
)

// targetField is a company column the runner can fill.
type targetField struct {
	Name  string
	Label string
	// missing reports whether the company lacks a value.
	missing func(c *model.Company) bool
	// apply stores a raw answer, reporting whether it was usable.
	apply func(c *model.Company, raw string) bool
}

var targetFields = []targetField{
	{
		Name: "prefecture", Label: "所在地（都道府県）",
		missing: func(c *model.Company) bool { return c.Prefecture == "" },
		apply: func(c *model.Company, raw string) bool {
			c.Prefecture = raw
			return raw != ""
		},
	},
	{
		Name: "established_year", Label: "設立年",
		missing: func(c *model.Company) bool { return c.EstablishedYear == nil || *c.EstablishedYear == 0 },
		apply: func(c *model.Company, raw string) bool {
			y, ok := normalizeYear(raw)
			if !ok {
				return false
			}
			c.EstablishedYear = &y
			return true
		},
	},
	{
		Name: "employee_count", Label: "従業員数",
		missing: func(c *model.Company) bool { return c.EmployeeCount == nil || *c.EmployeeCount == 0 },
		apply: func(c *model.Company, raw string) bool {
			n, ok := normalizeCount(raw)
			if !ok {
				return false
			}
			c.EmployeeCount = &n
			return true
		},
	},
	{
		Name: "revenue", Label: "売上高",
		missing: func(c *model.Company) bool { return c.Revenue == nil || *c.Revenue == 0 },
		apply: func(c *model.Company, raw string) bool {
			n, ok := normalizeAmount(raw)
			if !ok {
				return false
			}
			c.Revenue = &n
			return true
		},
	},
	{
		Name: "website_url", Label: "会社HP",
		missing: func(c *model.Company) bool { return c.WebsiteURL == "" },
		apply: func(c *model.Company, raw string) bool {
			if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
				return false
			}
			c.WebsiteURL = raw
			return true
		},
	},
	{
		Name: "contact_email", Label: "メールアドレス",
		missing: func(c *model.Company) bool { return c.ContactEmail == "" },
		apply: func(c *model.Company, raw string) bool {
			if !strings.Contains(raw, "@") {
				return false
			}
			c.ContactEmail = raw
			return true
		},
	},
	{
		Name: "phone", Label: "電話番号",
		missing: func(c *model.Company) bool { return c.Phone == "" },
		apply: func(c *model.Company, raw string) bool {
			if !strings.ContainsFunc(raw, unicode.IsDigit) {
				return false
			}
			c.Phone = raw
			return true
		},
	},
}

// MissingFields lists the names of the fillable fields c lacks.
func MissingFields(c *model.Company) []string {
	var out []string
	for _, f := range targetFields {
		if f.missing(c) {
			out = append(out, f.Name)
		}
	}
	return out
}

// applyAnswers copies usable answers for missing fields onto c and returns
// the names of the fields filled. Answers may be keyed by label or name.
func applyAnswers(c *model.Company, answers map[string]any) []string {
	var filled []string
	for _, f := range targetFields {
		if !f.missing(c) {
			continue
		}
		v, ok := answers[f.Label]
		if !ok {
			v, ok = answers[f.Name]
		}
		if !ok || v == nil {
			continue
		}
		if f.apply(c, strings.TrimSpace(answerString(v))) {
			filled = append(filled, f.Name)
		}
	}
	return filled
}

func answerString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// buildPrompt asks for the missing fields of c as a JSON object keyed by
// label.
func buildPrompt(c *model.Company, missing []string) string {
	labels := make([]string, 0, len(missing))
	lines := make([]string, 0, len(missing))
	for _, f := range targetFields {
		for _, m := range missing {
			if m == f.Name {
				labels = append(labels, f.Label)
				lines = append(lines, fmt.Sprintf("  %q: \"\"", f.Label))
			}
		}
	}

	site := c.WebsiteURL
	if site == "" {
		site = "不明"
	}

	var b strings.Builder
	b.WriteString("次の企業の不足している情報を調査し、JSON形式で回答してください。\n")
	fmt.Fprintf(&b, "企業名: %s\n", c.Name)
	fmt.Fprintf(&b, "URL: %s\n", site)
	fmt.Fprintf(&b, "所在地: %s\n", c.Prefecture)
	fmt.Fprintf(&b, "欠損項目: %s\n", strings.Join(labels, ", "))
	b.WriteString("出力形式として以下のJSONだけを返してください。余計な文章は不要です。分からない項目は空文字にしてください。\n")
	fmt.Fprintf(&b, "出力例:\n{\n%s\n}\n", strings.Join(lines, ",\n"))
	return b.String()
}
