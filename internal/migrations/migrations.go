// Package migrations contains PocketBase Go migrations for AppOS custom collections.
//
// All migration files use init() to register with the PocketBase migration runner.
// The package must be blank-imported in main.go:
//
//	_ "github.com/nexsess/gateway/internal/migrations"
package migrations
