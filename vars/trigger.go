package vars

// TriggerSpec declares, for one named client-side trigger (e.g. "on_click",
// "on_change"), the Vars extracted from the native event object and passed
// as the backend handler's positional arguments. The runtime consumes only
// the arity and types; the component catalog owns the extraction itself.
type TriggerSpec struct {
	// Trigger is the client-side trigger name.
	Trigger string
	// Args are the expressions passed to the backend handler, in positional
	// order.
	Args []Var
}

// Triggers maps trigger names to their argument specs for one component.
type Triggers map[string]TriggerSpec

// Arity returns the number of handler arguments a trigger provides, or -1 if
// the trigger is not declared.
func (t Triggers) Arity(trigger string) int {
	spec, ok := t[trigger]
	if !ok {
		return -1
	}
	return len(spec.Args)
}
