//go:build tools

package tools

// Tool dependencies, pinned through go.mod:
//   oapi-codegen generates clients from api/openapi.yaml
//   goose applies internal/adapters/postgres/migrations by hand, e.g.
//     go run github.com/pressly/goose/v3/cmd/goose -dir internal/adapters/postgres/migrations postgres "$DATABASE_URL" status

import (
	_ "github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen"
	_ "github.com/pressly/goose/v3/cmd/goose"
)
