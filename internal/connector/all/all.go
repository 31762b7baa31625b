// Package all registers every bundled connector and parser with the default
// registry. Binaries import it for its side effects.
package all

import (
	_ "github.com/nucleus/ucl-sync/internal/connector/file"
	_ "github.com/nucleus/ucl-sync/internal/connector/http"
	_ "github.com/nucleus/ucl-sync/internal/connector/jdbc"
	_ "github.com/nucleus/ucl-sync/internal/connector/minio"
	_ "github.com/nucleus/ucl-sync/internal/connector/postgres"
	_ "github.com/nucleus/ucl-sync/internal/parser"
)
