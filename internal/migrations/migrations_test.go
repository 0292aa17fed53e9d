package migrations_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"

	// trigger init() registrations
	_ "github.com/nexsess/gateway/internal/migrations"
)

// TestResourceCollectionsCreated verifies that the connection-profile
// collections are created after running migrations.
func TestResourceCollectionsCreated(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	expected := []string{"secrets", "servers"}

	for _, name := range expected {
		col, err := app.FindCollectionByNameOrId(name)
		if err != nil {
			t.Errorf("collection %q not found: %v", name, err)
			continue
		}
		if col.Name != name {
			t.Errorf("expected collection name %q, got %q", name, col.Name)
		}
		if col.Type != core.CollectionTypeBase {
			t.Errorf("collection %q: expected type %q, got %q", name, core.CollectionTypeBase, col.Type)
		}
	}
}

// TestSecretsCollectionFields verifies the secrets collection schema.
func TestSecretsCollectionFields(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	col, err := app.FindCollectionByNameOrId("secrets")
	if err != nil {
		t.Fatal(err)
	}

	// Secrets: name (text, required), type (select), value (text, hidden), description (text)
	assertFieldExists(t, col, "name", core.FieldTypeText, true)
	assertFieldExists(t, col, "type", core.FieldTypeSelect, true)
	assertFieldExists(t, col, "value", core.FieldTypeText, false)
	assertFieldExists(t, col, "description", core.FieldTypeText, false)

	// type is narrowed to the values servers.auth_type actually resolves against
	typeField, ok := col.Fields.GetByName("type").(*core.SelectField)
	if !ok {
		t.Fatal("type field is not a SelectField")
	}
	wantValues := []string{"password", "ssh_key"}
	if len(typeField.Values) != len(wantValues) {
		t.Fatalf("secrets.type values = %v, want %v", typeField.Values, wantValues)
	}
	for i, v := range wantValues {
		if typeField.Values[i] != v {
			t.Errorf("secrets.type values[%d] = %q, want %q", i, typeField.Values[i], v)
		}
	}

	// value field must be hidden
	valueField := col.Fields.GetByName("value")
	if valueField == nil {
		t.Fatal("value field not found")
	}
	if !valueField.GetHidden() {
		t.Error("secrets.value field should be hidden")
	}

	// Superuser-only rules (nil = superuser only in PB)
	if col.ListRule != nil {
		t.Error("secrets.ListRule should be nil (superuser only)")
	}
	if col.ViewRule != nil {
		t.Error("secrets.ViewRule should be nil (superuser only)")
	}
}

// TestServersCollectionFields verifies the servers collection schema and relations.
func TestServersCollectionFields(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	col, err := app.FindCollectionByNameOrId("servers")
	if err != nil {
		t.Fatal(err)
	}

	assertFieldExists(t, col, "name", core.FieldTypeText, true)
	assertFieldExists(t, col, "host", core.FieldTypeText, true)
	assertFieldExists(t, col, "port", core.FieldTypeNumber, false)
	assertFieldExists(t, col, "user", core.FieldTypeText, true)
	assertFieldExists(t, col, "auth_type", core.FieldTypeSelect, true)
	assertFieldExists(t, col, "credential", core.FieldTypeRelation, false)
	assertFieldExists(t, col, "description", core.FieldTypeText, false)
	assertFieldExists(t, col, "connection_id", core.FieldTypeNumber, false)

	// Verify credential relation points to secrets
	assertRelationTarget(t, app, col, "credential", "secrets")

	// Authenticated users can list/view
	if col.ListRule == nil {
		t.Error("servers.ListRule should allow authenticated users")
	}
}

// TestServersConnectionIDIsUnique verifies the connection_id field added by
// the follow-up migration carries a unique index, since it is the resolver
// key used to look up a server's ConnectSpec.
func TestServersConnectionIDIsUnique(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	col, err := app.FindCollectionByNameOrId("servers")
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, idx := range col.Indexes {
		if containsAll(idx, "idx_servers_connection_id", "UNIQUE") {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected a unique index on servers.connection_id, got indexes: %v", col.Indexes)
	}
}

// TestAuditLogsCollectionFields verifies the audit_logs collection schema.
func TestAuditLogsCollectionFields(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	col, err := app.FindCollectionByNameOrId("audit_logs")
	if err != nil {
		t.Fatal(err)
	}

	assertFieldExists(t, col, "user_id", core.FieldTypeText, true)
	assertFieldExists(t, col, "action", core.FieldTypeText, true)
	assertFieldExists(t, col, "status", core.FieldTypeSelect, true)
	assertFieldExists(t, col, "ip", core.FieldTypeText, false)

	if col.CreateRule != nil || col.UpdateRule != nil || col.DeleteRule != nil {
		t.Error("audit_logs should forbid client-side writes (all writes go through audit.Write)")
	}
}

// TestAppSettingsCollectionFields verifies the app_settings collection schema
// and its uniqueness constraint on (module, key).
func TestAppSettingsCollectionFields(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	col, err := app.FindCollectionByNameOrId("app_settings")
	if err != nil {
		t.Fatal(err)
	}

	assertFieldExists(t, col, "module", core.FieldTypeText, true)
	assertFieldExists(t, col, "key", core.FieldTypeText, true)
	assertFieldExists(t, col, "value", core.FieldTypeJSON, false)

	found := false
	for _, idx := range col.Indexes {
		if containsAll(idx, "idx_app_settings_module_key", "UNIQUE") {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected a unique index on app_settings (module, key), got indexes: %v", col.Indexes)
	}
}

// ─── Helpers ─────────────────────────────────────────────

func assertFieldExists(t *testing.T, col *core.Collection, name, fieldType string, required bool) {
	t.Helper()
	f := col.Fields.GetByName(name)
	if f == nil {
		t.Errorf("collection %q: field %q not found", col.Name, name)
		return
	}
	if f.Type() != fieldType {
		t.Errorf("collection %q.%s: expected type %q, got %q", col.Name, name, fieldType, f.Type())
	}
	if v := reflect.Indirect(reflect.ValueOf(f)); v.Kind() == reflect.Struct {
		if req := v.FieldByName("Required"); req.IsValid() && req.Kind() == reflect.Bool && req.Bool() != required {
			t.Errorf("collection %q.%s: expected required=%v, got %v", col.Name, name, required, req.Bool())
		}
	}
}

func assertRelationTarget(t *testing.T, app core.App, col *core.Collection, fieldName, targetCollection string) {
	t.Helper()
	f := col.Fields.GetByName(fieldName)
	if f == nil {
		t.Errorf("collection %q: field %q not found", col.Name, fieldName)
		return
	}
	rf, ok := f.(*core.RelationField)
	if !ok {
		t.Errorf("collection %q.%s: expected RelationField, got %T", col.Name, fieldName, f)
		return
	}
	target, err := app.FindCollectionByNameOrId(rf.CollectionId)
	if err != nil {
		t.Errorf("collection %q.%s: relation target collection not found: %v", col.Name, fieldName, err)
		return
	}
	if target.Name != targetCollection {
		t.Errorf("collection %q.%s: expected relation to %q, got %q", col.Name, fieldName, targetCollection, target.Name)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
