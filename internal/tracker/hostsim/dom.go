// Package hostsim is an in-memory page for the tracking core: a small DOM,
// a cookie jar, a manual clock and a pluggable network.
package hostsim

import (
	"strings"
	"sync"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/tracker"
)

// Node is a DOM element. Build trees with El and Append.
type Node struct {
	tag      string
	attrs    map[string]string
	text     string
	invalid  bool
	parent   *Node
	children []*Node
}

// El creates an element. attrs may carry id, class and any other attribute.
func El(tag string, attrs map[string]string, children ...*Node) *Node {
	n := &Node{tag: strings.ToLower(tag), attrs: map[string]string{}}
	for k, v := range attrs {
		n.attrs[k] = v
	}
	n.Append(children...)
	return n
}

// Append adds children to n and returns n.
func (n *Node) Append(children ...*Node) *Node {
	for _, c := range children {
		c.parent = n
		n.children = append(n.children, c)
	}
	return n
}

// WithText sets the rendered text.
func (n *Node) WithText(s string) *Node {
	n.text = s
	return n
}

// SetAttr changes an attribute, for example the value typed into an input.
func (n *Node) SetAttr(name, value string) {
	n.attrs[name] = value
}

// SetInvalid marks the control as failing constraint validation.
func (n *Node) SetInvalid(invalid bool) {
	n.invalid = invalid
}

func (n *Node) Tag() string       { return n.tag }
func (n *Node) ID() string        { return n.attrs["id"] }
func (n *Node) ClassName() string { return n.attrs["class"] }
func (n *Node) InnerText() string { return n.text }
func (n *Node) Valid() bool       { return !n.invalid }

func (n *Node) Parent() tracker.Element {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *Node) Children() []tracker.Element {
	out := make([]tracker.Element, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// Attr mirrors the DOM's reflected properties: buttons default to type
// submit and inputs to type text.
func (n *Node) Attr(name string) string {
	if v, ok := n.attrs[name]; ok {
		return v
	}
	if name == "type" {
		switch n.tag {
		case "button":
			return "submit"
		case "input":
			return "text"
		}
	}
	return ""
}

func (n *Node) FormElements() []tracker.Element {
	if n.tag != "form" {
		return nil
	}
	var out []tracker.Element
	n.walk(func(c *Node) {
		switch c.tag {
		case "input", "button", "select", "textarea":
			out = append(out, c)
		}
	})
	return out
}

// walk visits the descendants of n in document order.
func (n *Node) walk(fn func(*Node)) {
	for _, c := range n.children {
		fn(c)
		c.walk(fn)
	}
}

// Document is the DOM of a Page.
type Document struct {
	mu       sync.Mutex
	root     *Node
	body     *Node
	active   *Node
	metrics  tracker.ScrollMetrics
	handlers map[*Node][]func(tracker.Element)
}

// NewDocument creates <html><body/></html>.
func NewDocument() *Document {
	body := El("body", nil)
	return &Document{
		root:     El("html", nil, body),
		body:     body,
		handlers: make(map[*Node][]func(tracker.Element)),
	}
}

// Body returns the body element for building the page.
func (d *Document) Body() *Node {
	return d.body
}

// SetMetrics replaces the scroll and height measurements.
func (d *Document) SetMetrics(m tracker.ScrollMetrics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = m
}

// ScrollTo sets all three scroll offsets to y.
func (d *Document) ScrollTo(y int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics.WindowScrollY = y
	d.metrics.BodyScrollTop = y
	d.metrics.DocScrollTop = y
}

// Focus makes n the active element.
func (d *Document) Focus(n *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = n
}

func (d *Document) Metrics() tracker.ScrollMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metrics
}

func (d *Document) Forms() []tracker.Element {
	return d.collect(func(n *Node) bool { return n.tag == "form" })
}

func (d *Document) Inputs() []tracker.Element {
	return d.collect(func(n *Node) bool { return n.tag == "input" })
}

func (d *Document) ActiveElement() tracker.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return nil
	}
	return d.active
}

func (d *Document) OnSubmit(form tracker.Element, fn func(tracker.Element)) {
	n, ok := form.(*Node)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[n] = append(d.handlers[n], fn)
}

// Submit dispatches the submit event of form to its listeners and reports
// whether any were attached.
func (d *Document) Submit(form *Node) bool {
	d.mu.Lock()
	handlers := append([]func(tracker.Element){}, d.handlers[form]...)
	d.mu.Unlock()
	for _, fn := range handlers {
		fn(form)
	}
	return len(handlers) > 0
}

func (d *Document) collect(match func(*Node) bool) []tracker.Element {
	var out []tracker.Element
	d.root.walk(func(n *Node) {
		if match(n) {
			out = append(out, n)
		}
	})
	return out
}
