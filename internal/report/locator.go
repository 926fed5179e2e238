package report

// MaxSearchDepth caps the exhaustive summary search. Report documents come
// from an external producer, so their depth is not trusted.
const MaxSearchDepth = 64

// Well-known summary locations, checked before the exhaustive search.
var summaryPaths = [][]string{
	{"summary"},
	{"adlog", "payload", "summary"},
	{"adlog", "data", "summary"},
	{"adlog", "summary"},
}

// Locate returns the summary subtree of a resolved report body, or nil when
// none is present anywhere.
//
// The fixed locations are tried first. Only then is the body walked depth
// first, descending into object-valued properties in document order, and
// the first truthy summary found wins. Arrays are not descended into.
func Locate(body *Node) *Node {
	if body.Kind() != KindObject {
		return nil
	}

	for _, p := range summaryPaths {
		if v := body.Path(p...); v.Truthy() {
			return v
		}
	}

	return search(body, 0)
}

func search(n *Node, depth int) *Node {
	if n.Kind() != KindObject || depth > MaxSearchDepth {
		return nil
	}
	if v := n.Get("summary"); v.Truthy() {
		return v
	}
	for _, f := range n.fields {
		if found := search(f.Value, depth+1); found != nil {
			return found
		}
	}
	return nil
}
