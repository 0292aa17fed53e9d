package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nexsess/gateway/internal/terminal"
)

// Router is the Message Router (C9): one instance shared by every client
// connection. It owns no per-connection state itself — that lives in the
// SessionState the dispatch loop looks up from the Registry.
type Router struct {
	Registry *Registry
	Bus      *EventBus
	Keeper   *Keeper
	RDP      Config

	// ResolveConnection looks up the external profile store entry for a
	// connectionId and returns a decrypted ConnectSpec plus the display
	// name to attach to the session (§4.2's decrypted connection spec is
	// produced by this seam — storage and decryption are both external
	// collaborators).
	ResolveConnection func(connectionID int) (ConnectSpec, string, error)
}

// Config mirrors rdp.Config's shape without importing the rdp package,
// letting the router hold a deployment-mode value without introducing an
// import cycle. Nothing in this module sets or reads Router.RDP; the RDP
// route builds its own rdp.Config from settings (routes.rdpConfig).
type Config struct {
	Mode             string
	LocalServiceURL  string
	DockerServiceURL string
}

// requiresLiveSession and requiresRequestID implement §4.9's precondition
// table: ssh:input/resize, all sftp:*, docker:* require a live bound
// session; all sftp:* additionally require a non-empty requestId.
func requiresLiveSession(msgType string) bool {
	switch {
	case msgType == "ssh:input", msgType == "ssh:resize":
		return true
	case hasPrefix(msgType, "sftp:"):
		return true
	case hasPrefix(msgType, "docker:"):
		return true
	default:
		return false
	}
}

func requiresRequestID(msgType string) bool {
	return hasPrefix(msgType, "sftp:")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Dispatch parses one inbound frame for sessionID and routes it by type.
// JSON parse failure and unknown types reply with a generic error message
// and the frame is not processed further (§4.9).
func (rt *Router) Dispatch(sessionID string, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		rt.replyGenericError(sessionID, "malformed message")
		return
	}

	s, ok := rt.Registry.Get(sessionID)
	if !ok && requiresLiveSession(msg.Type) {
		rt.replyGenericError(sessionID, "no active session")
		return
	}

	if requiresRequestID(msg.Type) && msg.RequestID == "" {
		if ok {
			send(s, "sftp_error", "requestId is required for sftp operations")
		}
		return
	}

	switch msg.Type {
	case "ssh:connect":
		rt.handleConnect(sessionID, msg)
	case "ssh:input":
		rt.handleInput(s, msg)
	case "ssh:resize":
		rt.handleResize(s, msg)
	case "sftp:readdir":
		rt.handleSFTP(s, msg, opReaddir)
	case "sftp:stat":
		rt.handleSFTP(s, msg, opStat)
	case "sftp:realpath":
		rt.handleSFTP(s, msg, opRealpath)
	case "sftp:mkdir":
		rt.handleSFTP(s, msg, opMkdir)
	case "sftp:unlink":
		rt.handleSFTP(s, msg, opUnlink)
	case "sftp:rmdir":
		rt.handleSFTP(s, msg, opRmdir)
	case "sftp:rename":
		rt.handleSFTP(s, msg, opRename)
	case "sftp:chmod":
		rt.handleSFTP(s, msg, opChmod)
	case "sftp:readfile":
		rt.handleSFTP(s, msg, opReadfile)
	case "sftp:writefile":
		rt.handleSFTP(s, msg, opWritefile)
	case "sftp:copy":
		rt.handleSFTP(s, msg, opCopy)
	case "sftp:move":
		rt.handleSFTP(s, msg, opMove)
	case "sftp:upload:start":
		rt.handleUploadStart(s, msg)
	case "sftp:upload:chunk":
		rt.handleUploadChunk(s, msg)
	case "sftp:upload:cancel":
		rt.handleUploadCancel(s, msg)
	case "docker:get_status":
		dockerTick(s)
	case "docker:get_stats":
		rt.handleDockerStats(s, msg)
	case "docker:command":
		rt.handleDockerCommand(s, msg)
	case "pong":
		if ok {
			rt.Keeper.Pong(s.ID)
		}
	default:
		rt.replyGenericError(sessionID, "unsupported message type: "+msg.Type)
	}
}

func (rt *Router) replyGenericError(sessionID, message string) {
	s, ok := rt.Registry.Get(sessionID)
	if !ok {
		return
	}
	send(s, "error", message)
}

// sendReply emits one frame with requestId set on the envelope (not nested
// inside payload), per §6.1's `{type, payload?, requestId?}` shape.
func sendReply(s *SessionState, msgType, requestID string, payload any) {
	if err := s.Client.Send(Message{Type: msgType, Payload: payload, RequestID: requestID}); err != nil {
		log.Printf("[gateway] session %s: send %s: %v", s.ID, msgType, err)
	}
}

func payloadMap(msg Message) map[string]any {
	m, _ := msg.Payload.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// NewSession creates and registers a fresh SessionState for a newly accepted
// client channel. Callers supply the identity captured at channel
// acceptance (§6.4); connectionId/connectionName are filled in once
// ssh:connect resolves them from the external profile store.
func (rt *Router) NewSession(client ClientConn, userID, username, ip string) *SessionState {
	s := &SessionState{
		ID:       uuid.NewString(),
		Client:   client,
		UserID:   userID,
		Username: username,
		IP:       ip,
	}
	rt.Registry.Insert(s)
	rt.Keeper.Track(s.ID, func() error { return s.Client.Send(Message{Type: "ping"}) }, func() {
		_ = s.Client.Close()
		rt.teardown(s, "liveness timeout")
	})
	return s
}

// handleConnect runs the Connected/ShellOpening/Ready transitions of the
// session state machine (§4's state machine section): dial the transport,
// open the shell, then start the side workers.
func (rt *Router) handleConnect(sessionID string, msg Message) {
	s, ok := rt.Registry.Get(sessionID)
	if !ok {
		rt.replyGenericError(sessionID, "no active session")
		return
	}

	m := payloadMap(msg)
	connectionID := intField(m, "connectionId")
	if connectionID < 0 {
		send(s, "ssh:error", "connectionId must be non-negative")
		rt.teardown(s, "connect spec invalid")
		return
	}
	if rt.ResolveConnection == nil {
		send(s, "ssh:error", "no connection profile store configured")
		rt.teardown(s, "connect spec invalid")
		return
	}

	send(s, "ssh:status", "resolving connection profile")
	spec, connectionName, err := rt.ResolveConnection(connectionID)
	if err != nil {
		send(s, "ssh:error", err.Error())
		rt.teardown(s, "connect spec invalid")
		return
	}
	s.ConnectionID = connectionID
	s.ConnectionName = connectionName

	send(s, "ssh:status", "connecting to "+spec.Host)
	ctx := context.Background()
	client, err := Connect(ctx, spec, ConnectTimeoutLive, false)
	if err != nil {
		rt.Bus.Emit(Event{Type: EventSSHConnectFailure, UserID: s.UserID, Username: s.Username,
			Details: map[string]any{"sessionId": s.ID, "error": err.Error()}})
		send(s, "ssh:error", err.Error())
		rt.teardown(s, "ssh connect failed")
		return
	}
	s.SetTransport(client)
	rt.Bus.Emit(Event{Type: EventSSHConnectSuccess, UserID: s.UserID, Username: s.Username,
		Details: map[string]any{"sessionId": s.ID}})

	if err := OpenShell(s, rt.Bus, func(reason string) { rt.teardown(s, reason) }); err != nil {
		send(s, "ssh:error", err.Error())
		rt.teardown(s, "shell open failed")
		return
	}

	sftpClient, err := terminal.NewSFTPClientOverConn(client)
	if err != nil {
		log.Printf("[gateway] session %s: sftp init: %v", s.ID, err)
	} else {
		s.SetSFTP(sftpClient)
	}

	s.SetStatusStop(StartStatusSampler(s, DefaultStatusInterval))
	s.SetDockerStop(StartDockerInspector(s, DefaultDockerInterval))
}

func (rt *Router) teardown(s *SessionState, reason string) {
	log.Printf("[gateway] session %s: teardown (%s)", s.ID, reason)
	rt.Keeper.Untrack(s.ID)
	rt.Registry.Remove(s.ID)
}

func (rt *Router) handleInput(s *SessionState, msg Message) {
	data := stringField(payloadMap(msg), "data")
	if err := HandleInput(s, data); err != nil {
		send(s, "ssh:error", err.Error())
	}
}

func (rt *Router) handleResize(s *SessionState, msg Message) {
	m := payloadMap(msg)
	if err := HandleResize(s, intField(m, "cols"), intField(m, "rows")); err != nil {
		send(s, "ssh:error", err.Error())
	}
}

func (rt *Router) handleDockerCommand(s *SessionState, msg Message) {
	m := payloadMap(msg)
	_ = HandleDockerCommand(s, stringField(m, "containerId"), stringField(m, "command"))
}

func (rt *Router) handleDockerStats(s *SessionState, msg Message) {
	m := payloadMap(msg)
	containerID := stringField(m, "containerId")
	transport := s.Transport()
	if transport == nil {
		send(s, "docker:stats:error", map[string]any{"containerId": containerID, "message": "session not connected"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dockerProbeTimeout)
	defer cancel()
	stat, err := singleContainerStats(ctx, transport, containerID)
	if err != nil {
		send(s, "docker:stats:error", map[string]any{"containerId": containerID, "message": err.Error()})
		return
	}
	send(s, "docker:stats:update", map[string]any{"containerId": containerID, "stats": stat})
}

func (rt *Router) handleUploadStart(s *SessionState, msg Message) {
	m := payloadMap(msg)
	uploadID := stringField(m, "uploadId")
	remotePath := stringField(m, "remotePath")
	relativePath := stringField(m, "relativePath")
	totalSize := int64(intField(m, "size"))

	err := StartUpload(rt.Registry, s.ID, s.SFTP(), uploadID, remotePath, relativePath, totalSize)
	if err != nil {
		sendReply(s, "sftp:upload:error", msg.RequestID, map[string]any{"uploadId": uploadID, "message": err.Error()})
		return
	}
	sendReply(s, "sftp:upload:ready", msg.RequestID, map[string]any{"uploadId": uploadID})
}

func (rt *Router) handleUploadChunk(s *SessionState, msg Message) {
	m := payloadMap(msg)
	uploadID := stringField(m, "uploadId")
	chunk := stringField(m, "data")

	result, err := HandleUploadChunk(rt.Registry, s.ID, uploadID, chunk, s.SFTP())
	if err != nil {
		sendReply(s, "sftp:upload:error", msg.RequestID, map[string]any{"uploadId": uploadID, "message": err.Error()})
		return
	}
	if result.Complete {
		sendReply(s, "sftp:upload:success", msg.RequestID, result)
		return
	}
	sendReply(s, "sftp:upload:progress", msg.RequestID, result)
}

func (rt *Router) handleUploadCancel(s *SessionState, msg Message) {
	m := payloadMap(msg)
	uploadID := stringField(m, "uploadId")
	if err := CancelUpload(rt.Registry, s.ID, uploadID, s.SFTP()); err != nil {
		sendReply(s, "sftp:upload:error", msg.RequestID, map[string]any{"uploadId": uploadID, "message": err.Error()})
		return
	}
	sendReply(s, "sftp:upload:cancelled", msg.RequestID, map[string]any{"uploadId": uploadID})
}

type sftpOp string

const (
	opReaddir  sftpOp = "readdir"
	opStat     sftpOp = "stat"
	opRealpath sftpOp = "realpath"
	opMkdir    sftpOp = "mkdir"
	opUnlink   sftpOp = "unlink"
	opRmdir    sftpOp = "rmdir"
	opRename   sftpOp = "rename"
	opChmod    sftpOp = "chmod"
	opReadfile sftpOp = "readfile"
	opWritefile sftpOp = "writefile"
	opCopy     sftpOp = "copy"
	opMove     sftpOp = "move"
)

// handleSFTP dispatches one sftp:* operation and emits the matching
// sftp:<op>:success / sftp:<op>:error reply (§4.5.1), plus an SFTP_ACTION
// audit event for every mutating op.
func (rt *Router) handleSFTP(s *SessionState, msg Message, op sftpOp) {
	client := s.SFTP()
	if client == nil {
		replySFTPError(s, msg.RequestID, "sftp:"+string(op), New(KindPrecondition, "sftp not initialized"))
		return
	}
	m := payloadMap(msg)

	var payload any
	var err error
	mutating := true

	switch op {
	case opReaddir:
		mutating = false
		payload, err = ReadDir(client, stringField(m, "path"))
	case opStat:
		mutating = false
		payload, err = Stat(client, stringField(m, "path"))
	case opRealpath:
		mutating = false
		payload, err = Realpath(client, stringField(m, "path"))
	case opMkdir:
		payload, err = Mkdir(client, stringField(m, "path"))
	case opUnlink:
		err = Unlink(client, stringField(m, "path"))
	case opRmdir:
		transport := s.Transport()
		if transport == nil {
			err = New(KindPrecondition, "session not connected")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), rmdirTimeout)
			err = Rmdir(ctx, transport, stringField(m, "path"))
			cancel()
		}
	case opRename:
		payload, err = Rename(client, stringField(m, "oldPath"), stringField(m, "newPath"))
	case opChmod:
		payload, err = Chmod(client, stringField(m, "path"), intField(m, "mode"))
	case opReadfile:
		mutating = false
		payload, err = ReadFile(client, stringField(m, "path"), maxReadBytes)
	case opWritefile:
		payload, err = WriteFile(client, stringField(m, "path"), stringField(m, "content"))
	case opCopy:
		payload, err = CopyOrMove(client, stringSliceField(m, "sources"), stringField(m, "destination"), false)
	case opMove:
		payload, err = CopyOrMove(client, stringSliceField(m, "sources"), stringField(m, "destination"), true)
	}

	if err != nil {
		replySFTPError(s, msg.RequestID, "sftp:"+string(op), err)
		return
	}
	if mutating {
		rt.Bus.Emit(Event{Type: EventSFTPAction, UserID: s.UserID, Username: s.Username,
			Details: map[string]any{"sessionId": s.ID, "op": string(op)}})
	}
	replySFTPSuccess(s, msg.RequestID, "sftp:"+string(op), payload)
}

const maxReadBytes = 2 << 20
const rmdirTimeout = 30 * time.Second

func stringSliceField(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

func replySFTPSuccess(s *SessionState, requestID, op string, payload any) {
	sendReply(s, op+":success", requestID, payload)
}

func replySFTPError(s *SessionState, requestID, op string, err error) {
	sendReply(s, op+":error", requestID, err.Error())
}

