// Package migrations embeds the SQL schema so binaries do not depend on the working directory.
package migrations

import "embed"

// FS holds every *.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
