package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// connectionId gives the session multiplexer's ConnectSpec resolver an
// integer key into servers, independent of PocketBase's string record id.
func init() {
	m.Register(func(app core.App) error {
		col, err := app.FindCollectionByNameOrId("servers")
		if err != nil {
			return err
		}

		col.Fields.Add(&core.NumberField{
			Name:     "connection_id",
			Required: false,
			OnlyInt:  true,
		})

		col.AddIndex("idx_servers_connection_id", true, "connection_id", "")

		return app.Save(col)
	}, func(app core.App) error {
		// connection_id is additive; rollback is a no-op
		return nil
	})
}
