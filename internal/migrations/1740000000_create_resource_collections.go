package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

// Connection profile storage backing the session multiplexer's external
// collaborator seam (§1): one secrets vault and one servers directory.
//
// Collections are created in dependency order:
//  1. secrets  (no deps)
//  2. servers  (→ secrets)
func init() {
	m.Register(func(app core.App) error {
		// ─── 1. secrets ──────────────────────────────────────
		secrets := core.NewBaseCollection("secrets")
		secrets.ListRule = nil // superuser only
		secrets.ViewRule = nil
		secrets.CreateRule = nil
		secrets.UpdateRule = nil
		secrets.DeleteRule = nil

		secrets.Fields.Add(&core.TextField{
			Name:     "name",
			Required: true,
			Max:      200,
		})
		secrets.Fields.Add(&core.SelectField{
			Name:      "type",
			Required:  true,
			MaxSelect: 1,
			Values:    []string{"password", "ssh_key"},
		})
		secrets.Fields.Add(&core.TextField{
			Name:   "value",
			Hidden: true, // never exposed in API list responses
		})
		secrets.Fields.Add(&core.TextField{
			Name: "description",
		})
		secrets.AddIndex("idx_secrets_name", true, "name", "")

		if err := app.Save(secrets); err != nil {
			return err
		}

		// ─── 2. servers ──────────────────────────────────────
		servers := core.NewBaseCollection("servers")
		servers.ListRule = types.Pointer("@request.auth.id != ''")
		servers.ViewRule = types.Pointer("@request.auth.id != ''")
		servers.CreateRule = nil
		servers.UpdateRule = nil
		servers.DeleteRule = nil

		servers.Fields.Add(&core.TextField{
			Name:     "name",
			Required: true,
			Max:      200,
		})
		servers.Fields.Add(&core.TextField{
			Name:     "host",
			Required: true,
		})
		servers.Fields.Add(&core.NumberField{
			Name:    "port",
			OnlyInt: true,
			Min:     types.Pointer(1.0),
			Max:     types.Pointer(65535.0),
		})
		servers.Fields.Add(&core.TextField{
			Name:     "user",
			Required: true,
		})
		servers.Fields.Add(&core.SelectField{
			Name:      "auth_type",
			Required:  true,
			MaxSelect: 1,
			Values:    []string{"password", "key"},
		})
		servers.Fields.Add(&core.RelationField{
			Name:         "credential",
			CollectionId: secrets.Id,
			MaxSelect:    1,
		})
		servers.Fields.Add(&core.TextField{
			Name: "description",
		})
		servers.AddIndex("idx_servers_name", true, "name", "")

		return app.Save(servers)
	}, func(app core.App) error {
		// Down: delete collections in reverse dependency order
		for _, name := range []string{"servers", "secrets"} {
			col, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				continue // already deleted
			}
			if err := app.Delete(col); err != nil {
				return err
			}
		}
		return nil
	})
}
