package reports

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	multiBlankRe = regexp.MustCompile(`\n{3,}`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
)

// Canonicalize приводит текст отчёта к виду для хранения и сравнения:
// без HTML-разметки и сущностей, с нормализованными переводами строк и
// схлопнутыми пробелами. Исходный текст модели сохраняется отдельно.
func Canonicalize(text string) string {
	out := strings.ReplaceAll(text, "\r\n", "\n")
	out = tagRe.ReplaceAllString(out, "")
	out = html.UnescapeString(out)
	out = spaceRunRe.ReplaceAllString(out, " ")

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	out = strings.Join(lines, "\n")
	out = multiBlankRe.ReplaceAllString(out, "\n\n")

	return strings.TrimSpace(out)
}
