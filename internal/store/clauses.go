package store

import "gorm.io/gorm/clause"

// onConflictDoNothing builds an ON CONFLICT(cols...) DO NOTHING clause,
// used for the "insert if absent" provisioning steps (artifact rows,
// idempotent replays of planning).
func onConflictDoNothing(cols ...string) clause.OnConflict {
	columns := make([]clause.Column, 0, len(cols))
	for _, c := range cols {
		columns = append(columns, clause.Column{Name: c})
	}
	return clause.OnConflict{Columns: columns, DoNothing: true}
}

// onConflictDoUpdateAll builds an ON CONFLICT(cols...) DO UPDATE clause
// that overwrites every column, used for the payload upserts that ride
// alongside an artifact's ready transition.
func onConflictDoUpdateAll(cols ...string) clause.OnConflict {
	columns := make([]clause.Column, 0, len(cols))
	for _, c := range cols {
		columns = append(columns, clause.Column{Name: c})
	}
	return clause.OnConflict{Columns: columns, UpdateAll: true}
}
