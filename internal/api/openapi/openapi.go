// Пакет openapi — встроенный OpenAPI-контракт HTTP API.
package openapi

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var Contract []byte

// Load разбирает и проверяет встроенный контракт.
// Список servers очищается: маршруты сопоставляются по пути
// независимо от хоста, на котором запущен модуль.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(Contract)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI-контракта: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("проверка OpenAPI-контракта: %w", err)
	}
	doc.Servers = nil
	return doc, nil
}
