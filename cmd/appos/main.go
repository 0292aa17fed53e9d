package main

import (
	"log"

	"github.com/nexsess/gateway/internal/hooks"
	"github.com/nexsess/gateway/internal/routes"

	// Register custom PocketBase migrations (session multiplexer schema)
	_ "github.com/nexsess/gateway/internal/migrations"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
)

func main() {
	app := pocketbase.New()

	// Register custom routes
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		routes.Register(se)
		return se.Next()
	})

	// Register event hooks
	hooks.Register(app)

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}
