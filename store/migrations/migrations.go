package migrations

import (
	"github.com/mattes/migrate"
	_ "github.com/mattes/migrate/database/postgres"
	_ "github.com/mattes/migrate/source/file"
)

type ApplyOptions struct {
	SourceURL   string
	DatabaseURL string
}

type ApplyResult struct {
	Err     error
	Changes bool
}

// Up applies every pending migration; an already up-to-date schema is
// reported as no changes, not an error.
func Up(options ApplyOptions) (res ApplyResult) {
	var m *migrate.Migrate
	m, res.Err = migrate.New(options.SourceURL, options.DatabaseURL)
	if res.Err != nil {
		return
	}

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			return
		}
		res.Err = err
		return
	}

	res.Changes = true
	return
}
