package tracker

import (
	"regexp"
	"strconv"
	"strings"
)

const maxTextLen = 100

var (
	classSpaces    = regexp.MustCompile(` +`)
	selectorEscape = regexp.MustCompile("[:/]|\\.[0-9]|\\[|\\]|%|~|=|&|#|@|`")
)

// ElementInfo is the metadata extracted from a clicked or submitted element.
type ElementInfo struct {
	Element string
	Text    string
	URL     string
}

// DescribeElement builds the element's CSS-like path together with its
// visible text and the URL it points at.
func DescribeElement(el Element) ElementInfo {
	if el == nil {
		return ElementInfo{}
	}
	return ElementInfo{
		Element: elementPath(el),
		Text:    strings.TrimSpace(visibleText(el)),
		URL:     strings.TrimSpace(elementURL(el)),
	}
}

func visibleText(el Element) string {
	if p := el.Attr("placeholder"); p != "" {
		return p
	}
	if t := el.InnerText(); t != "" {
		t = strings.ReplaceAll(t, "\n", " ")
		if r := []rune(t); len(r) > maxTextLen+3 {
			t = string(r[:maxTextLen]) + "..."
		}
		return t
	}
	if el.Tag() == "input" {
		switch el.Attr("type") {
		case "button", "submit":
			return el.Attr("value")
		}
	}
	return ""
}

func elementURL(el Element) string {
	if src := el.Attr("src"); src != "" {
		return src
	}
	return el.Attr("href")
}

// elementPath walks up from el, stopping at the first ancestor with an id.
func elementPath(el Element) string {
	var path []string
	for cur := el; cur != nil && cur.Parent() != nil; cur = cur.Parent() {
		if id := cur.ID(); id != "" {
			path = append(path, "#"+id)
			break
		}
		path = append(path, stepSelector(cur))
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return strings.Join(path, " ")
}

func stepSelector(el Element) string {
	selector := el.Tag()
	classes := strings.TrimSpace(el.ClassName())
	if classes != "" {
		selector += "." + escapeClasses(classes)
	}

	siblings := matchingSiblings(el, classes)
	if len(siblings) > 1 {
		for i, s := range siblings {
			if s == el {
				selector += ":nth-of-type(" + strconv.Itoa(i+1) + ")"
				break
			}
		}
	}
	return selector
}

func escapeClasses(classes string) string {
	joined := classSpaces.ReplaceAllString(classes, ".")
	return selectorEscape.ReplaceAllString(joined, `\${0}`)
}

// matchingSiblings returns the children of el's parent that the step
// selector for el would also match.
func matchingSiblings(el Element, classes string) []Element {
	parent := el.Parent()
	if parent == nil {
		return nil
	}
	want := strings.Fields(classes)
	var out []Element
	for _, c := range parent.Children() {
		if c.Tag() != el.Tag() {
			continue
		}
		if hasClasses(c, want) {
			out = append(out, c)
		}
	}
	return out
}

func hasClasses(el Element, want []string) bool {
	have := strings.Fields(el.ClassName())
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// closest returns el or its nearest ancestor with the given tag.
func closest(el Element, tag string) Element {
	for cur := el; cur != nil; cur = cur.Parent() {
		if cur.Tag() == tag {
			return cur
		}
	}
	return nil
}
