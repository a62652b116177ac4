package migrations

import (
	"ticket-backoffice/internal/store"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		return store.EnsureCollections(app)
	}, func(app core.App) error {
		return store.DropCollections(app)
	})
}
