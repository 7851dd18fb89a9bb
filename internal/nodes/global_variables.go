package nodes

import (
	"context"

	"github.com/alexjbarnes/withings-auth/internal/globalvars"
)

// VariableSource supplies the current global variables.
// *globalvars.Watcher implements it.
type VariableSource interface {
	Variables() globalvars.Variables
}

// StaticVariables is a VariableSource over a fixed set of variables.
type StaticVariables globalvars.Variables

// Variables returns s.
func (s StaticVariables) Variables() globalvars.Variables { return globalvars.Variables(s) }

// GlobalVariablesNode merges the global variables into every item.
type GlobalVariablesNode struct {
	source VariableSource
	opts   globalvars.Options
}

// NewGlobalVariablesNode creates the node.
func NewGlobalVariablesNode(source VariableSource, opts globalvars.Options) *GlobalVariablesNode {
	return &GlobalVariablesNode{source: source, opts: opts}
}

// NewGlobalVariablesNodeFromData extracts variables from credential data
// and returns a node serving them.
func NewGlobalVariablesNodeFromData(data globalvars.Data, opts globalvars.Options) (*GlobalVariablesNode, error) {
	vars, err := globalvars.Extract(data)
	if err != nil {
		return nil, err
	}

	return NewGlobalVariablesNode(StaticVariables(vars), opts), nil
}

// Execute returns the items with the variables merged in, or a single
// item holding only the variables when there is no input.
func (n *GlobalVariablesNode) Execute(_ context.Context, items []Item) ([]Item, error) {
	in := make([]map[string]any, len(items))
	for i, item := range items {
		in[i] = item.JSON
	}

	merged := globalvars.Apply(in, n.source.Variables(), n.opts)

	out := make([]Item, len(merged))
	for i, m := range merged {
		out[i] = Item{JSON: m, PairedItem: i}
	}

	return out, nil
}
