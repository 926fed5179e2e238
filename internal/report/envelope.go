package report

// Wrapper keys recognised by Resolve.
const (
	WrapperReport     = "report"
	WrapperResult     = "result"
	WrapperDataReport = "data.report"
)

var envelopes = []struct {
	name string
	path []string
}{
	{name: WrapperReport, path: []string{"report"}},
	{name: WrapperResult, path: []string{"result"}},
	{name: WrapperDataReport, path: []string{"data", "report"}},
}

// Resolution is the outcome of unwrapping a raw report document.
type Resolution struct {
	// Body is the analysis result. It aliases a subtree of the raw document.
	Body *Node
	// Matched lists the wrapper keys that were present, in rule order.
	Matched []string
	// RegisterRemoved is set when the register metadata was dropped from Body.
	RegisterRemoved bool
}

// Conflict reports whether more than one wrapper shape was present at once.
// Producers are expected to emit a single shape, so this usually points at an
// upstream schema mix-up.
func (r Resolution) Conflict() bool { return len(r.Matched) > 1 }

// Resolve unwraps the envelope variants emitted by the different pipeline
// stages: {report:…}, {result:…} and {data:{report:…}}.
//
// This is a compatibility shim, not a protocol. The rules are applied as
// sequential reassignment, so when several wrappers are present data.report
// beats result, which beats report. Any other shape passes through.
//
// A register key on the resolved body is deleted in place. Body shares
// storage with raw, so the deletion is visible through raw as well.
func Resolve(raw *Node) Resolution {
	res := Resolution{Body: raw}
	for _, env := range envelopes {
		if v := raw.Path(env.path...); v.Truthy() {
			res.Body = v
			res.Matched = append(res.Matched, env.name)
		}
	}

	if res.Body.Get("register").Truthy() {
		res.RegisterRemoved = res.Body.Delete("register")
	}

	return res
}
