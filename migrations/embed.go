// Package migrations ships the schema and seed SQL inside the binary so
// deployments never depend on a checkout being present next to it.
package migrations

import "embed"

//go:embed sql seeds
var FS embed.FS

const (
	// SQLDir is the migrations directory inside FS.
	SQLDir = "sql"
	// SeedsDir is the seeds directory inside FS.
	SeedsDir = "seeds"
)
