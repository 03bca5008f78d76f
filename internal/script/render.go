// ABOUTME: Response tag expansion for matched triggers
// ABOUTME: Resolves <star>, <get>, <set> and {topic=...} against captures and session variables

package script

import (
	"regexp"
	"strconv"
	"strings"
)

// Undefined is substituted for unknown variables and missing captures.
const Undefined = "undefined"

var (
	starTag  = regexp.MustCompile(`<star(\d*)>`)
	setTag   = regexp.MustCompile(`<set\s+([^=<>\s]+)\s*=\s*([^<>]*(?:<star\d*>[^<>]*)*)>`)
	getTag   = regexp.MustCompile(`<get\s+([^<>\s]+)\s*>`)
	topicTag = regexp.MustCompile(`\{topic=([^}]*)\}`)
	spaces   = regexp.MustCompile(`\s+`)
)

// Rendered is the result of expanding one response.
type Rendered struct {
	Text  string
	Vars  map[string]string // assignments made by <set>, nil when none
	Topic *string           // topic requested by {topic=...}, nil when unchanged
}

// Render expands the response tags. Assignments are applied before <get>,
// so a response can read a variable it sets.
func Render(response string, stars []string, vars map[string]string) Rendered {
	var out Rendered

	text := setTag.ReplaceAllStringFunc(response, func(tag string) string {
		m := setTag.FindStringSubmatch(tag)
		if out.Vars == nil {
			out.Vars = make(map[string]string)
		}
		out.Vars[strings.ToLower(m[1])] = strings.TrimSpace(expandStars(m[2], stars))
		return ""
	})

	text = topicTag.ReplaceAllStringFunc(text, func(tag string) string {
		m := topicTag.FindStringSubmatch(tag)
		name := topicName(m[1])
		if name != "" {
			out.Topic = &name
		}
		return ""
	})

	text = expandStars(text, stars)

	text = getTag.ReplaceAllStringFunc(text, func(tag string) string {
		name := strings.ToLower(getTag.FindStringSubmatch(tag)[1])
		if v, ok := out.Vars[name]; ok {
			return v
		}
		if v, ok := vars[name]; ok {
			return v
		}
		return Undefined
	})

	out.Text = strings.TrimSpace(spaces.ReplaceAllString(text, " "))
	return out
}

func expandStars(s string, stars []string) string {
	return starTag.ReplaceAllStringFunc(s, func(tag string) string {
		idx := 1
		if digits := starTag.FindStringSubmatch(tag)[1]; digits != "" {
			n, err := strconv.Atoi(digits)
			if err != nil {
				return Undefined
			}
			idx = n
		}
		if idx < 1 || idx > len(stars) {
			return Undefined
		}
		return stars[idx-1]
	})
}
