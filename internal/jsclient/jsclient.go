// Package jsclient simulates the browser side of the reflow protocol inside
// a goja JavaScript VM. Tests use it to verify that serialized deltas apply
// cleanly client-side and that symbolic var expressions evaluate against the
// applied state exactly as they would in a real frontend.
package jsclient

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"

	reflow "github.com/joeycumines/go-reflow"
)

// Client holds one simulated frontend: a JS object per state node, exposed
// as globals named by the node's dotted path segments.
type Client struct {
	vm *goja.Runtime
}

// New creates a client with an empty state.
func New() (*Client, error) {
	vm := goja.New()
	const bootstrap = `
var __state = {};
function __applyDelta(delta) {
	for (var node in delta) {
		if (!__state[node]) { __state[node] = {}; }
		var changed = delta[node];
		for (var name in changed) { __state[node][name] = changed[name]; }
	}
}
function __bind(prefix, obj) {
	globalThis[prefix] = obj;
}
`
	if _, err := vm.RunString(bootstrap); err != nil {
		return nil, fmt.Errorf("jsclient: bootstrap failed: %w", err)
	}
	return &Client{vm: vm}, nil
}

// ApplyDelta merges one update's delta into the client state, exactly as a
// frontend would on receiving the frame.
func (c *Client) ApplyDelta(d reflow.Delta) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("jsclient: delta not JSON-encodable: %w", err)
	}
	if _, err := c.vm.RunString("__applyDelta(" + string(data) + ")"); err != nil {
		return fmt.Errorf("jsclient: applying delta: %w", err)
	}
	return nil
}

// Get reads one var of one state node back out of the client state.
func (c *Client) Get(node, name string) (any, error) {
	v, err := c.vm.RunString(fmt.Sprintf("__state[%q][%q]", node, name))
	if err != nil {
		return nil, fmt.Errorf("jsclient: reading %s.%s: %w", node, name, err)
	}
	return v.Export(), nil
}

// Eval evaluates a rendered var expression with every known state node bound
// as a global object graph, so expressions like `counter.value + 1` resolve
// against the applied deltas.
func (c *Client) Eval(expr string) (any, error) {
	if _, err := c.vm.RunString(bindScript); err != nil {
		return nil, fmt.Errorf("jsclient: binding state globals: %w", err)
	}
	v, err := c.vm.RunString(expr)
	if err != nil {
		return nil, fmt.Errorf("jsclient: evaluating %q: %w", expr, err)
	}
	return v.Export(), nil
}

// bindScript exposes each dotted node name as a nested global object so
// state-qualified expressions resolve naturally.
const bindScript = `
(function () {
	for (var node in __state) {
		var segs = node.split(".");
		var cur = globalThis;
		for (var i = 0; i < segs.length; i++) {
			if (i === segs.length - 1) {
				if (!cur[segs[i]]) { cur[segs[i]] = {}; }
				var target = cur[segs[i]];
				for (var name in __state[node]) { target[name] = __state[node][name]; }
			} else {
				if (!cur[segs[i]]) { cur[segs[i]] = {}; }
				cur = cur[segs[i]];
			}
		}
	}
})();
`
