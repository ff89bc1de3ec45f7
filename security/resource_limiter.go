// Package security limits what a single invocation may consume
package security

import "github.com/govm-net/greeter/core"

const (
	// DefaultMaxLogBytes caps the program log of one invocation
	DefaultMaxLogBytes = 10000
	// DefaultMaxCallDepth caps nested invocations
	DefaultMaxCallDepth = 4
)

// ResourceLimiter limits the resources a single invocation may use
type ResourceLimiter struct {
	maxLogBytes  int
	maxCallDepth int
}

// ResourceMonitor tracks usage of one invocation against its limiter.
// It is not safe for concurrent use; every invocation gets its own.
type ResourceMonitor struct {
	limiter   *ResourceLimiter
	logBytes  int
	truncated bool
}

// NewResourceLimiter creates a limiter. Non-positive values fall back to the defaults.
func NewResourceLimiter(maxLogBytes, maxCallDepth int) *ResourceLimiter {
	if maxLogBytes <= 0 {
		maxLogBytes = DefaultMaxLogBytes
	}
	if maxCallDepth <= 0 {
		maxCallDepth = DefaultMaxCallDepth
	}
	return &ResourceLimiter{
		maxLogBytes:  maxLogBytes,
		maxCallDepth: maxCallDepth,
	}
}

func (r *ResourceLimiter) MaxLogBytes() int {
	return r.maxLogBytes
}

func (r *ResourceLimiter) MaxCallDepth() int {
	return r.maxCallDepth
}

// StartMonitoring starts tracking a new invocation
func (r *ResourceLimiter) StartMonitoring() *ResourceMonitor {
	return &ResourceMonitor{
		limiter: r,
	}
}

// AdmitLog charges a log line against the budget. It returns the line to
// record and whether anything should be recorded at all. The first line over
// budget is replaced by truncated; everything after it is dropped.
func (m *ResourceMonitor) AdmitLog(line, truncated string) (string, bool) {
	if m.truncated {
		return "", false
	}
	if m.logBytes+len(line) > m.limiter.maxLogBytes {
		m.truncated = true
		return truncated, true
	}
	m.logBytes += len(line)
	return line, true
}

// LogBytes returns the number of log bytes charged so far
func (m *ResourceMonitor) LogBytes() int {
	return m.logBytes
}

// Truncated reports whether the log budget was exhausted
func (m *ResourceMonitor) Truncated() bool {
	return m.truncated
}

// CallTracer tracks the invocation call chain
type CallTracer struct {
	limiter   *ResourceLimiter
	callStack []CallFrame
}

// CallFrame is a single entry in the call stack
type CallFrame struct {
	Program     core.Address
	Instruction string
}

// NewCallTracer creates a call tracer
func NewCallTracer(limiter *ResourceLimiter) *CallTracer {
	return &CallTracer{
		limiter:   limiter,
		callStack: make([]CallFrame, 0, 1),
	}
}

// BeginCall pushes a frame and returns the resulting depth, starting at 1.
// It returns false when the depth limit would be exceeded.
func (t *CallTracer) BeginCall(program core.Address, instruction string) (int, bool) {
	if len(t.callStack) >= t.limiter.maxCallDepth {
		return len(t.callStack), false
	}
	t.callStack = append(t.callStack, CallFrame{
		Program:     program,
		Instruction: instruction,
	})
	return len(t.callStack), true
}

// EndCall pops the current frame
func (t *CallTracer) EndCall() {
	if len(t.callStack) > 0 {
		t.callStack = t.callStack[:len(t.callStack)-1]
	}
}

// Depth returns the current call depth
func (t *CallTracer) Depth() int {
	return len(t.callStack)
}
