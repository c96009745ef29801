package qjsbind

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// InspectorClient receives protocol traffic from an Inspector.
type InspectorClient interface {
	// OnResponse delivers one protocol response or event, JSON-encoded.
	OnResponse(message string)
	// OnWaitForFrontend fires when the context starts waiting for a
	// frontend to connect and signal readiness.
	OnWaitForFrontend()
}

// Inspector exposes a context over a subset of the Chrome DevTools
// protocol: Runtime evaluation plus cooperative pause/resume
// notifications. One inspector serves one context.
type Inspector struct {
	ctx    *Context
	client InspectorClient

	mu       sync.Mutex
	detached bool

	pauseReq    atomic.Bool
	pauseReason string

	clientReady  atomic.Bool
	waiting      atomic.Bool
	debugEnabled atomic.Bool
	scriptSeq    atomic.Int64
}

// NewInspector attaches an inspector to the scope's context. The
// previous inspector, if any, is detached.
func NewInspector(cs *ContextScope, client InspectorClient) *Inspector {
	cs.valid("NewInspector")
	ctx := cs.ctx
	if ctx.inspector != nil {
		ctx.inspector.detach()
	}
	insp := &Inspector{ctx: ctx, client: client}
	ctx.inspector = insp
	Logger().Debug("inspector attached", zap.Uint64("context", ctx.id))
	return insp
}

func (i *Inspector) detach() {
	i.mu.Lock()
	i.detached = true
	i.mu.Unlock()
}

// Detach disconnects the inspector from its context.
func (i *Inspector) Detach() {
	i.detach()
	i.mu.Lock()
	ctx := i.ctx
	i.mu.Unlock()
	if ctx != nil && ctx.inspector == i {
		ctx.inspector = nil
	}
}

// SchedulePauseOnNextStatement asks for a Debugger.paused notification
// around the next evaluation in the context.
func (i *Inspector) SchedulePauseOnNextStatement(reason string) {
	i.mu.Lock()
	i.pauseReason = reason
	i.mu.Unlock()
	i.pauseReq.Store(true)
}

// WaitForFrontend marks the context as waiting and notifies the
// client. Runtime.runIfWaitingForDebugger from the frontend clears the
// wait.
func (i *Inspector) WaitForFrontend() {
	i.waiting.Store(true)
	if i.client != nil {
		i.client.OnWaitForFrontend()
	}
}

// FrontendReady reports whether the frontend has signalled
// Runtime.runIfWaitingForDebugger.
func (i *Inspector) FrontendReady() bool {
	return i.clientReady.Load()
}

// WaitingForFrontend reports whether WaitForFrontend was called and no
// frontend has signalled readiness yet.
func (i *Inspector) WaitingForFrontend() bool {
	return i.waiting.Load()
}

type cdpRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DispatchProtocolMessage handles one frontend message. It enters the
// isolate as needed, so callers must not hold it entered.
func (i *Inspector) DispatchProtocolMessage(message string) {
	i.mu.Lock()
	if i.detached {
		i.mu.Unlock()
		return
	}
	ctx := i.ctx
	i.mu.Unlock()

	var req cdpRequest
	if err := json.Unmarshal([]byte(message), &req); err != nil {
		Logger().Warn("malformed protocol message", zap.Error(err))
		return
	}

	switch req.Method {
	case "Runtime.enable":
		i.respond(req.ID, map[string]any{})
		i.emit("Runtime.executionContextCreated", map[string]any{
			"context": map[string]any{
				"id":     ctx.id,
				"origin": "",
				"name":   "context-" + fmt.Sprint(ctx.id),
			},
		})
	case "Runtime.evaluate":
		i.evaluate(req)
	case "Runtime.runIfWaitingForDebugger":
		i.clientReady.Store(true)
		i.waiting.Store(false)
		i.respond(req.ID, map[string]any{})
	case "Debugger.enable":
		i.debugEnabled.Store(true)
		i.respond(req.ID, map[string]any{"debuggerId": fmt.Sprintf("ctx-%d", ctx.id)})
	case "Debugger.pause":
		i.SchedulePauseOnNextStatement("frontend")
		i.respond(req.ID, map[string]any{})
	case "Debugger.resume":
		i.pauseReq.Store(false)
		i.respond(req.ID, map[string]any{})
		i.emit("Debugger.resumed", map[string]any{})
	default:
		i.respondError(req.ID, -32601, fmt.Sprintf("%q not supported", req.Method))
	}
}

type evaluateParams struct {
	Expression    string `json:"expression"`
	ReturnByValue bool   `json:"returnByValue"`
}

// evaluate runs an expression in the inspected context, emitting
// paused/resumed notifications around it when a pause was scheduled.
func (i *Inspector) evaluate(req cdpRequest) {
	var params evaluateParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			i.respondError(req.ID, -32602, "bad evaluate params")
			return
		}
	}

	paused := i.pauseReq.Swap(false)
	if paused {
		i.mu.Lock()
		reason := i.pauseReason
		i.mu.Unlock()
		i.emit("Debugger.paused", map[string]any{
			"reason":     reason,
			"callFrames": []any{},
		})
	}

	ctx := i.ctx
	iso := ctx.iso
	s := iso.Scope()
	cs := ctx.Enter()
	val, err := cs.RunScript(params.Expression, "<inspector>")

	var result map[string]any
	if err != nil {
		result = map[string]any{
			"result": map[string]any{"type": "undefined"},
			"exceptionDetails": map[string]any{
				"text":      err.Error(),
				"exception": map[string]any{"type": "object", "description": err.Error()},
			},
		}
	} else {
		remote := map[string]any{
			"type":        val.TypeOf(),
			"description": val.String(),
		}
		if params.ReturnByValue {
			if text, jerr := cs.JSONStringify(val); jerr == nil && text != "undefined" {
				var decoded any
				if json.Unmarshal([]byte(text), &decoded) == nil {
					remote["value"] = decoded
				}
			}
		}
		result = map[string]any{"result": remote}
	}
	cs.Exit()
	s.Close()

	i.respond(req.ID, result)
	if paused {
		i.emit("Debugger.resumed", map[string]any{})
	}
}

// scriptCompiled announces a successful compile to a frontend that has
// enabled the debugger domain.
func (i *Inspector) scriptCompiled(origin string) {
	if !i.debugEnabled.Load() {
		return
	}
	i.mu.Lock()
	detached := i.detached
	i.mu.Unlock()
	if detached {
		return
	}
	i.emit("Debugger.scriptParsed", map[string]any{
		"scriptId":           fmt.Sprint(i.scriptSeq.Add(1)),
		"url":                origin,
		"executionContextId": i.ctx.id,
	})
}

func (i *Inspector) respond(id int64, result map[string]any) {
	i.send(map[string]any{"id": id, "result": result})
}

func (i *Inspector) respondError(id int64, code int, msg string) {
	i.send(map[string]any{"id": id, "error": cdpError{Code: code, Message: msg}})
}

func (i *Inspector) emit(method string, params map[string]any) {
	i.send(map[string]any{"method": method, "params": params})
}

func (i *Inspector) send(payload map[string]any) {
	if i.client == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		Logger().Error("protocol encode failed", zap.Error(err))
		return
	}
	i.client.OnResponse(string(b))
}
