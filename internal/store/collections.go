package store

import (
	"fmt"

	"github.com/pocketbase/pocketbase/core"
)

// EnsureCollections creates the directory collections that do not exist yet.
// Existing collections are left untouched.
func EnsureCollections(app core.App) error {
	for _, collection := range collectionDefs() {
		if _, err := app.FindCollectionByNameOrId(collection.Name); err == nil {
			continue
		}
		if err := app.Save(collection); err != nil {
			return fmt.Errorf("create collection %s: %w", collection.Name, err)
		}
	}
	return nil
}

// DropCollections removes the directory collections, tickets first.
func DropCollections(app core.App) error {
	for _, name := range []Collection{CollectionTickets, CollectionAssistants, CollectionPhases, CollectionLocalities, CollectionPromoters} {
		collection, err := app.FindCollectionByNameOrId(string(name))
		if err != nil {
			continue
		}
		if err := app.Delete(collection); err != nil {
			return fmt.Errorf("drop collection %s: %w", name, err)
		}
	}
	return nil
}

func collectionDefs() []*core.Collection {
	tickets := core.NewBaseCollection(string(CollectionTickets))
	tickets.Fields.Add(
		&core.TextField{Name: "event_id", Required: true},
		&core.TextField{Name: "assistant_id", Required: true},
		&core.TextField{Name: "phase_id"},
		&core.TextField{Name: "locality_id"},
		&core.TextField{Name: "promoter_id"},
		&core.SelectField{Name: "ticket_type", MaxSelect: 1, Values: []string{"standard", "courtesy"}},
		// decimal string, empty means no price
		&core.TextField{Name: "price"},
		&core.TextField{Name: "qr_code"},
		&core.SelectField{Name: "status", MaxSelect: 1, Required: true, Values: []string{"enabled", "joined"}},
		&core.DateField{Name: "checked_in_at"},
	)
	addAutodate(tickets)
	tickets.AddIndex("idx_tickets_event_created", false, "event_id, created, id", "")

	assistants := core.NewBaseCollection(string(CollectionAssistants))
	assistants.Fields.Add(
		&core.TextField{Name: "name", Required: true},
		&core.TextField{Name: "email"},
		&core.TextField{Name: "phone"},
		&core.TextField{Name: "identification_number"},
		&core.TextField{Name: "identification_type"},
	)
	addAutodate(assistants)

	defs := []*core.Collection{tickets, assistants}
	for _, name := range []Collection{CollectionPhases, CollectionLocalities, CollectionPromoters} {
		named := core.NewBaseCollection(string(name))
		named.Fields.Add(&core.TextField{Name: "name", Required: true})
		addAutodate(named)
		defs = append(defs, named)
	}
	return defs
}

func addAutodate(c *core.Collection) {
	if c.Fields.GetByName("created") == nil {
		c.Fields.Add(&core.AutodateField{Name: "created", OnCreate: true})
	}
	if c.Fields.GetByName("updated") == nil {
		c.Fields.Add(&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true})
	}
}
