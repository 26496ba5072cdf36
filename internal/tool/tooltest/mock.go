// Package tooltest provides test helpers and mocks for the tool package.
package tooltest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/flemzord/toolgate/internal/tool"
)

// ObjectSchema is a permissive object schema for mocks.
const ObjectSchema = `{"properties":{},"required":[],"type":"object"}`

// MockTool is a configurable mock implementation of tool.Tool.
type MockTool struct {
	NameFunc        func() string
	DescriptionFunc func() string
	SchemaFunc      func() json.RawMessage
	ScopesFunc      func() []tool.Scope
	ApprovalFunc    func(args json.RawMessage, actx tool.ApprovalContext) (string, bool, error)
	RunFunc         func(ctx context.Context, args json.RawMessage) (string, error)

	mu       sync.Mutex
	RunCalls int
}

// Name implements tool.Tool.
func (m *MockTool) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock_tool"
}

// Description implements tool.Tool.
func (m *MockTool) Description() string {
	if m.DescriptionFunc != nil {
		return m.DescriptionFunc()
	}
	return "a mock tool"
}

// Schema implements tool.Tool.
func (m *MockTool) Schema() json.RawMessage {
	if m.SchemaFunc != nil {
		return m.SchemaFunc()
	}
	return json.RawMessage(ObjectSchema)
}

// Scopes implements tool.Tool.
func (m *MockTool) Scopes() []tool.Scope {
	if m.ScopesFunc != nil {
		return m.ScopesFunc()
	}
	return []tool.Scope{tool.ScopeReadOnly}
}

// Approval implements tool.Tool.
func (m *MockTool) Approval(args json.RawMessage, actx tool.ApprovalContext) (string, bool, error) {
	if m.ApprovalFunc != nil {
		return m.ApprovalFunc(args, actx)
	}
	return "", false, nil
}

// Run implements tool.Tool.
func (m *MockTool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	m.mu.Lock()
	m.RunCalls++
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, args)
	}
	return "ok", nil
}

// Calls returns how many times Run was invoked.
func (m *MockTool) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RunCalls
}

// SimpleTool creates a read-only tool that never asks for approval.
func SimpleTool(name string) *MockTool {
	return &MockTool{
		NameFunc:        func() string { return name },
		DescriptionFunc: func() string { return "simple test tool: " + name },
		RunFunc: func(context.Context, json.RawMessage) (string, error) {
			return "executed: " + name, nil
		},
	}
}

// GuardedTool creates a read-write tool that always asks for approval
// with message.
func GuardedTool(name, message string) *MockTool {
	m := SimpleTool(name)
	m.ScopesFunc = func() []tool.Scope { return []tool.Scope{tool.ScopeReadWrite} }
	m.ApprovalFunc = func(json.RawMessage, tool.ApprovalContext) (string, bool, error) {
		return message, true, nil
	}
	return m
}

// MockLedger is a configurable mock for tool.Ledger.
type MockLedger struct {
	AuthorizeFunc func(key string, call tool.Call) (tool.Verdict, error)

	mu    sync.Mutex
	Calls []tool.Call
}

// Authorize implements tool.Ledger.
func (m *MockLedger) Authorize(key string, call tool.Call) (tool.Verdict, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	m.mu.Unlock()

	if m.AuthorizeFunc != nil {
		return m.AuthorizeFunc(key, call)
	}
	return tool.VerdictPending, nil
}

// Interface guards.
var (
	_ tool.Tool   = (*MockTool)(nil)
	_ tool.Ledger = (*MockLedger)(nil)
)
