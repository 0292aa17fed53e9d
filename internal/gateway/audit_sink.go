package gateway

import (
	"github.com/pocketbase/pocketbase/core"

	"github.com/nexsess/gateway/internal/audit"
)

// AuditSink adapts the teacher's audit.Write collaborator to EventSink, so
// the Event Bus (C10) delivers through the same audit_logs collection every
// other backend write goes through.
type AuditSink struct {
	App core.App
}

// statusForEvent maps an EventType to the audit status column; failure
// events are recorded as failed, everything else as success.
func statusForEvent(t EventType) string {
	switch t {
	case EventLoginFailure, EventSSHConnectFailure, EventSSHShellFailure, EventServerError:
		return audit.StatusFailed
	default:
		return audit.StatusSuccess
	}
}

// Write persists ev as one audit_logs record. Errors are logged and
// swallowed inside audit.Write itself, matching §4.10's "delivery is
// asynchronous, fire-and-forget" requirement without this sink blocking the
// Emit call site.
func (a AuditSink) Write(ev Event) {
	go audit.Write(a.App, audit.Entry{
		UserID:       ev.UserID,
		UserEmail:    ev.Username,
		Action:       string(ev.Type),
		ResourceType: "gateway_session",
		ResourceID:   stringField(ev.Details, "sessionId"),
		Status:       statusForEvent(ev.Type),
		Detail:       ev.Details,
	})
}
