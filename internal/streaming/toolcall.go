package streaming

import (
	"encoding/json"
	"fmt"
	"sync"
)

// ToolCallIndexState tracks one upstream tool-call slot across SSE chunks,
// per the data model: index, tool id/name, the growing argument buffer, and
// whether the content block has been started / its JSON delta already sent.
type ToolCallIndexState struct {
	Index       int
	ToolID      string
	ToolName    string
	ArgsBuffer  string
	Started     bool
	JSONSent    bool
	OutputIndex int
}

// ToolCallIDAllocator assigns stable ids to upstream tool-call indices that
// never supply one, and remembers whichever id upstream does supply.
type ToolCallIDAllocator struct {
	prefix   string
	mu       sync.Mutex
	assigned map[int]string
	counter  int
}

func NewToolCallIDAllocator(prefix string) *ToolCallIDAllocator {
	return &ToolCallIDAllocator{prefix: prefix, assigned: make(map[int]string)}
}

// Get returns the id for index, recording providedID if upstream supplied one.
func (a *ToolCallIDAllocator) Get(index int, providedID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if providedID != "" {
		a.assigned[index] = providedID
		return providedID
	}
	if id, ok := a.assigned[index]; ok {
		return id
	}
	a.counter++
	id := fmt.Sprintf("%s_%d", a.prefix, a.counter)
	a.assigned[index] = id
	return id
}

// ArgsAssembler accumulates per-index argument fragments.
type ArgsAssembler struct {
	buffers map[int]string
}

func NewArgsAssembler() *ArgsAssembler {
	return &ArgsAssembler{buffers: make(map[int]string)}
}

func (a *ArgsAssembler) Append(index int, fragment string) string {
	a.buffers[index] += fragment
	return a.buffers[index]
}

// IsCompleteJSON reports whether buf currently parses as valid, non-empty JSON.
func IsCompleteJSON(buf string) bool {
	if buf == "" {
		return false
	}
	return json.Valid([]byte(buf))
}
