package provider

import (
	"sort"

	"github.com/lumipet/lumipet/core"
)

// ToolCallAssembler accumulates streamed ToolCallDelta fragments into
// complete tool calls. Fragments are keyed by stream index; id and name stick
// on first sight while argument fragments concatenate in arrival order.
//
// Not safe for concurrent use; a stream delivers chunks sequentially.
type ToolCallAssembler struct {
	calls map[int]*assembledCall
}

type assembledCall struct {
	id   string
	name string
	args string
}

// NewToolCallAssembler creates an empty assembler for one streaming response.
func NewToolCallAssembler() *ToolCallAssembler {
	return &ToolCallAssembler{calls: make(map[int]*assembledCall)}
}

// Add folds a single delta into the accumulated state.
func (a *ToolCallAssembler) Add(d ToolCallDelta) {
	c, ok := a.calls[d.Index]
	if !ok {
		c = &assembledCall{}
		a.calls[d.Index] = c
	}
	if d.ID != "" {
		c.id = d.ID
	}
	if d.Name != "" {
		c.name = d.Name
	}
	c.args += d.ArgumentsDelta
}

// Len reports the number of distinct tool calls seen so far.
func (a *ToolCallAssembler) Len() int { return len(a.calls) }

// Calls returns the assembled tool calls ordered by stream index, not by
// fragment arrival time.
func (a *ToolCallAssembler) Calls() []core.ToolCallInfo {
	if len(a.calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]core.ToolCallInfo, 0, len(indexes))
	for _, i := range indexes {
		c := a.calls[i]
		out = append(out, core.ToolCallInfo{ID: c.id, Name: c.name, Arguments: c.args})
	}
	return out
}
