package effect

// Result is the explicit two-case return of an execution: either a context
// patch (keys the effect wants merged into the caller's context) or an opaque
// value. The shape is declared by the effect that produced it, never inferred
// from the keys inside.
type Result struct {
	patch   *Context
	value   any
	isPatch bool

	// Compensated is true when the result came from a compensation fallback
	// after the primary effect failed.
	Compensated bool
}

// PatchResult wraps a context patch to merge into the caller's context.
// A nil patch is treated as an empty patch.
func PatchResult(patch *Context) Result {
	if patch == nil {
		patch = NewContext()
	}
	return Result{patch: patch, isPatch: true}
}

// ValueResult wraps an opaque result value.
func ValueResult(value any) Result {
	return Result{value: value}
}

// IsPatch reports whether the result is a context patch.
func (r Result) IsPatch() bool {
	return r.isPatch
}

// Patch returns the context patch, or an empty context for value results.
func (r Result) Patch() *Context {
	if r.patch == nil {
		return NewContext()
	}
	return r.patch
}

// Value returns the opaque value, or nil for patch results.
func (r Result) Value() any {
	return r.value
}
