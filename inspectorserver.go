package qjsbind

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

const maxInspectorMessageBytes = 1 << 20

// ClientMessage is one protocol message received from a DevTools
// frontend.
type ClientMessage struct {
	Data []byte
}

// ServerMessage is one protocol message queued for a DevTools
// frontend.
type ServerMessage struct {
	Data []byte
}

// DebuggerServer serves a context's inspector over WebSocket, with the
// /json discovery endpoints DevTools frontends probe. A single client
// is admitted at a time.
type DebuggerServer struct {
	cfg InspectorConfig
	ctx *Context

	ln  net.Listener
	srv *http.Server

	mu      sync.Mutex
	session *DebuggerSession
	closed  bool
}

// NewDebuggerServer starts listening on cfg.Addr for the given
// context. Close releases the listener.
func NewDebuggerServer(ctx *Context, cfg InspectorConfig) (*DebuggerServer, error) {
	if cfg.TargetName == "" {
		cfg.TargetName = "qjsbind"
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("debugger listen on %s: %w", cfg.Addr, err)
	}
	ds := &DebuggerServer{
		cfg: cfg,
		ctx: ctx,
		ln:  netutil.LimitListener(ln, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json", ds.handleDiscovery)
	mux.HandleFunc("/json/list", ds.handleDiscovery)
	mux.HandleFunc("/json/version", ds.handleVersion)
	mux.HandleFunc("/", ds.handleWebSocket)
	ds.srv = &http.Server{Handler: mux}

	go func() {
		if serveErr := ds.srv.Serve(ds.ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			Logger().Error("debugger server stopped", zap.Error(serveErr))
		}
	}()
	Logger().Info("debugger listening",
		zap.String("addr", ds.Addr()),
		zap.String("target", cfg.TargetName))
	return ds, nil
}

// Addr returns the bound listen address.
func (ds *DebuggerServer) Addr() string {
	return ds.ln.Addr().String()
}

// Session returns the connected session, or nil.
func (ds *DebuggerServer) Session() *DebuggerSession {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.session
}

// Close stops the listener and disconnects any session.
func (ds *DebuggerServer) Close() error {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return nil
	}
	ds.closed = true
	sess := ds.session
	ds.mu.Unlock()

	if sess != nil {
		sess.close(websocket.StatusGoingAway, "server shutting down")
	}
	return ds.srv.Close()
}

func (ds *DebuggerServer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if host == "" {
		host = ds.Addr()
	}
	targets := []map[string]string{{
		"id":                   fmt.Sprintf("ctx-%d", ds.ctx.id),
		"type":                 "node",
		"title":                ds.cfg.TargetName,
		"description":          ds.cfg.TargetName,
		"webSocketDebuggerUrl": "ws://" + host + "/",
		"devtoolsFrontendUrl":  "devtools://devtools/bundled/js_app.html?ws=" + host + "/",
	}}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(targets); err != nil {
		Logger().Warn("discovery encode failed", zap.Error(err))
	}
}

func (ds *DebuggerServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]string{
		"Browser":          ds.cfg.TargetName + "/" + Version,
		"Protocol-Version": "1.3",
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		Logger().Warn("version encode failed", zap.Error(err))
	}
}

func (ds *DebuggerServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		Logger().Warn("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxInspectorMessageBytes)

	sess := newDebuggerSession(ds, conn)
	ds.mu.Lock()
	if ds.closed || ds.session != nil {
		ds.mu.Unlock()
		_ = conn.Close(websocket.StatusPolicyViolation, "debugger already attached")
		return
	}
	ds.session = sess
	ds.mu.Unlock()

	sess.run(r.Context())

	ds.mu.Lock()
	if ds.session == sess {
		ds.session = nil
	}
	ds.mu.Unlock()
}

// DebuggerSession bridges one WebSocket client to the context's
// inspector. It implements InspectorClient.
type DebuggerSession struct {
	server *DebuggerServer
	conn   *websocket.Conn
	insp   *Inspector

	outgoing  chan ServerMessage
	closeOnce sync.Once
}

func newDebuggerSession(ds *DebuggerServer, conn *websocket.Conn) *DebuggerSession {
	return &DebuggerSession{
		server:   ds,
		conn:     conn,
		outgoing: make(chan ServerMessage, 64),
	}
}

// OnResponse queues a protocol message for the frontend. Messages are
// dropped with a warning when the client cannot keep up.
func (sess *DebuggerSession) OnResponse(message string) {
	select {
	case sess.outgoing <- ServerMessage{Data: []byte(message)}:
	default:
		Logger().Warn("debugger client lagging, message dropped",
			zap.Int("bytes", len(message)))
	}
}

// OnWaitForFrontend is part of InspectorClient.
func (sess *DebuggerSession) OnWaitForFrontend() {
	Logger().Info("context waiting for debugger frontend")
}

func (sess *DebuggerSession) close(code websocket.StatusCode, reason string) {
	sess.closeOnce.Do(func() {
		_ = sess.conn.Close(code, reason)
	})
}

// run pumps protocol traffic until the client disconnects or the
// request context ends.
func (sess *DebuggerSession) run(ctx context.Context) {
	iso := sess.server.ctx.iso
	s := iso.Scope()
	cs := sess.server.ctx.Enter()
	sess.insp = NewInspector(cs, sess)
	cs.Exit()
	s.Close()
	defer sess.insp.Detach()
	defer sess.close(websocket.StatusNormalClosure, "")

	incoming := make(chan ClientMessage, 64)
	go func() {
		defer close(incoming)
		for {
			msgType, data, err := sess.conn.Read(ctx)
			if err != nil {
				return
			}
			if msgType != websocket.MessageText {
				continue
			}
			select {
			case incoming <- ClientMessage{Data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			sess.insp.DispatchProtocolMessage(string(msg.Data))

		case out := <-sess.outgoing:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := sess.conn.Write(writeCtx, websocket.MessageText, out.Data)
			cancel()
			if err != nil {
				Logger().Debug("debugger write failed", zap.Error(err))
				return
			}

		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := sess.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				Logger().Debug("debugger ping failed", zap.Error(err))
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
