package migrations

import "embed"

// Files holds the SQL migrations for the event mirror, applied in lexical
// order (001_events.sql, 002_...). The accounts and users tables belong to
// the web app that links calendars and are never created here.
//
//go:embed *.sql
var Files embed.FS
