package tracker_test

import (
	"strings"
	"testing"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/tracker"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/tracker/hostsim"
)

func TestDescribeElement(t *testing.T) {
	t.Parallel()

	doc := hostsim.NewDocument()
	first := hostsim.El("li", map[string]string{"class": "item"}).WithText("One")
	second := hostsim.El("li", map[string]string{"class": "item"}).WithText("Two")
	other := hostsim.El("li", map[string]string{"class": "item extra"})
	list := hostsim.El("ul", nil, first, second, other)
	link := hostsim.El("a", map[string]string{"class": "btn  primary", "href": "https://example.com/pricing "}).WithText("See\npricing")
	escaped := hostsim.El("div", map[string]string{"class": "w-1/2 md:flex"})
	email := hostsim.El("input", map[string]string{"type": "email", "placeholder": "Work email"})
	submit := hostsim.El("input", map[string]string{"type": "submit", "value": "Go"})
	img := hostsim.El("img", map[string]string{"src": "/logo.png", "href": "/ignored"})
	doc.Body().Append(
		hostsim.El("div", map[string]string{"id": "main"}, list),
		hostsim.El("nav", nil, link),
		escaped, email, submit, img,
	)

	tests := []struct {
		name string
		el   tracker.Element
		want tracker.ElementInfo
	}{
		{"id short circuit and nth-of-type", second, tracker.ElementInfo{Element: "#main ul li.item:nth-of-type(2)", Text: "Two"}},
		{"extra classes count as siblings", other, tracker.ElementInfo{Element: "#main ul li.item.extra"}},
		{"class path with url", link, tracker.ElementInfo{Element: "body nav a.btn.primary", Text: "See pricing", URL: "https://example.com/pricing"}},
		{"escaped classes", escaped, tracker.ElementInfo{Element: `body div.w-1\/2.md\:flex`}},
		{"placeholder", email, tracker.ElementInfo{Element: "body input:nth-of-type(1)", Text: "Work email"}},
		{"submit value", submit, tracker.ElementInfo{Element: "body input:nth-of-type(2)", Text: "Go"}},
		{"src before href", img, tracker.ElementInfo{Element: "body img", URL: "/logo.png"}},
		{"nil", nil, tracker.ElementInfo{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tracker.DescribeElement(tt.el); got != tt.want {
				t.Errorf("DescribeElement = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDescribeElementTruncatesText(t *testing.T) {
	t.Parallel()
	doc := hostsim.NewDocument()
	long := hostsim.El("p", nil).WithText(strings.Repeat("é", 150))
	exact := hostsim.El("p", nil).WithText(strings.Repeat("x", 103))
	doc.Body().Append(long, exact)

	got := tracker.DescribeElement(long).Text
	if got != strings.Repeat("é", 100)+"..." {
		t.Errorf("text = %q, want 100 runes and an ellipsis", got)
	}
	if got := tracker.DescribeElement(exact).Text; got != strings.Repeat("x", 103) {
		t.Errorf("text of 103 runes was truncated to %q", got)
	}
}
