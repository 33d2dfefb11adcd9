// Package all links every storage backend into the binary. Importing it for
// side effects registers the backend factories; config decides which one runs.
package all

import (
	_ "spotifyetl/internal/storage/mssql"
	_ "spotifyetl/internal/storage/postgres"
	_ "spotifyetl/internal/storage/sqlite"
)
