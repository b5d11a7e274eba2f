package engine

import (
	"encoding/json"

	"github.com/gofhir/bundlevalidator/pkg/document"
	"github.com/gofhir/bundlevalidator/pkg/model"
	"github.com/gofhir/bundlevalidator/pkg/path"
)

// instance is one in-scope resource, or the document root for rules
// targeting the Bundle itself.
type instance struct {
	node *model.Node // nil for the root
	obj  map[string]any
}

func (in instance) json() []byte {
	if in.node != nil {
		return in.node.JSON()
	}
	data, _ := json.Marshal(in.obj)
	return data
}

// hit is one value reached by a structural suffix, with the concrete
// segments (explicit indices, resolved choice names) that reach it.
type hit struct {
	value any
	segs  []path.Segment
}

// instances returns the resources matching the rule's type and selectors
// in document order.
func (ev *evaluation) instances() []instance {
	r := ev.rule
	if r.ResourceType == document.RootType {
		root := ev.graph.Document().RootObject()
		if root == nil || !r.Expr.Matches(root) {
			return nil
		}
		return []instance{{obj: root}}
	}
	var out []instance
	for _, n := range ev.graph.OfType(r.ResourceType) {
		if r.Expr.Matches(n.Node) {
			out = append(out, instance{node: n, obj: n.Node})
		}
	}
	return out
}

// pathOf renders the path of segs inside in. Resources with an id unique
// to their type are qualified by content so the path does not depend on
// entry order; the others use their entry position.
func (ev *evaluation) pathOf(in instance, segs []path.Segment) string {
	r := ev.rule
	switch {
	case in.node == nil:
		return r.Expr.WithSuffix(segs).String()
	case ev.graph.UniqueID(in.node):
		return r.Expr.WithSelector(path.IDEquals(in.node.ID)).WithSuffix(segs).String()
	}
	p := in.node.Path()
	for _, s := range segs {
		p += "." + s.String()
	}
	return p
}

// collect follows segs from node and returns every value reached, fanning
// out across arrays. With whole set, an array at the final step is returned
// as one value instead of element by element.
func collect(node any, segs []path.Segment, whole bool) []hit {
	var out []hit
	walk(node, segs, nil, whole, &out)
	return out
}

func walk(node any, segs, prefix []path.Segment, whole bool, out *[]hit) {
	if len(segs) == 0 {
		*out = append(*out, hit{value: node, segs: prefix})
		return
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return
	}
	seg := segs[0]
	keys := []string{seg.Name}
	if seg.Choice {
		keys = path.ChoiceKeys(obj, seg.Name)
	}
	last := len(segs) == 1

	for _, key := range keys {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		arr, isArray := v.([]any)
		switch {
		case seg.HasIndex():
			if isArray {
				if seg.Index < len(arr) {
					walk(arr[seg.Index], segs[1:], extend(prefix, key, seg.Index), whole, out)
				}
			} else if seg.Index == 0 {
				walk(v, segs[1:], extend(prefix, key, 0), whole, out)
			}
		case isArray && !(last && whole):
			for i, item := range arr {
				if item != nil {
					walk(item, segs[1:], extend(prefix, key, i), whole, out)
				}
			}
		default:
			walk(v, segs[1:], extend(prefix, key, path.NoIndex), whole, out)
		}
	}
}

func extend(prefix []path.Segment, name string, index int) []path.Segment {
	out := make([]path.Segment, len(prefix), len(prefix)+1)
	copy(out, prefix)
	return append(out, path.Segment{Name: name, Index: index})
}

func concat(a, b []path.Segment) []path.Segment {
	out := make([]path.Segment, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
