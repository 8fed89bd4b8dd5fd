package webhook

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
)

// Kind определяет форму пакета конкретного маршрута.
type Kind string

const (
	KindOrders      Kind = "orders"
	KindCreditNotes Kind = "credit_notes"
	KindShipments   Kind = "shipments"
)

const schemaBaseURL = "https://order-sync-gateway.local/schemas/"

// Схемы проверяют только форму пакета. Идентификаторы разбираются по записям,
// чтобы одна битая запись не отклоняла весь пакет.
var batchSchemas = map[Kind]string{
	KindOrders: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"$defs": {
			"item": {
				"type": "object",
				"properties": {
					"item_status": {"type": ["string", "null"]}
				}
			},
			"order": {
				"type": "object",
				"properties": {
					"order_status": {"type": ["string", "null"]},
					"order_items": {"type": "array", "items": {"$ref": "#/$defs/item"}}
				}
			},
			"batch": {"type": "array", "items": {"$ref": "#/$defs/order"}}
		},
		"anyOf": [
			{"$ref": "#/$defs/batch"},
			{
				"type": "object",
				"required": ["orders"],
				"properties": {"orders": {"$ref": "#/$defs/batch"}}
			}
		]
	}`,
	KindCreditNotes: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"$defs": {
			"line": {"type": "object"},
			"note": {
				"type": "object",
				"properties": {
					"lines": {"type": "array", "items": {"$ref": "#/$defs/line"}},
					"document": {"type": ["string", "null"]},
					"currency": {"type": ["string", "null"]}
				}
			},
			"batch": {"type": "array", "items": {"$ref": "#/$defs/note"}}
		},
		"anyOf": [
			{"$ref": "#/$defs/batch"},
			{"type": "array", "items": {"$ref": "#/$defs/batch"}},
			{
				"type": "object",
				"required": ["credit_notes"],
				"properties": {"credit_notes": {"$ref": "#/$defs/batch"}}
			}
		]
	}`,
	KindShipments: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"$defs": {
			"shipment": {
				"type": "object",
				"properties": {
					"carrier": {"type": ["string", "null"]},
					"tracking_number": {"type": ["string", "number", "null"]},
					"status": {"type": ["string", "null"]},
					"items": {"type": "array", "items": {"type": "object"}}
				}
			},
			"batch": {"type": "array", "items": {"$ref": "#/$defs/shipment"}}
		},
		"anyOf": [
			{"$ref": "#/$defs/batch"},
			{
				"type": "object",
				"required": ["shipments"],
				"properties": {"shipments": {"$ref": "#/$defs/batch"}}
			}
		]
	}`,
}

var compiledSchemas = mustCompileSchemas()

func mustCompileSchemas() map[Kind]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	for kind, src := range batchSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			panic(fmt.Sprintf("webhook: схема %s: %v", kind, err))
		}
		if err := compiler.AddResource(schemaBaseURL+string(kind)+".json", doc); err != nil {
			panic(fmt.Sprintf("webhook: схема %s: %v", kind, err))
		}
	}

	out := make(map[Kind]*jsonschema.Schema, len(batchSchemas))
	for kind := range batchSchemas {
		out[kind] = compiler.MustCompile(schemaBaseURL + string(kind) + ".json")
	}
	return out
}

// decodeBatch разбирает тело, проверяет форму пакета и возвращает записи в исходном порядке.
// Числа приходят как json.Number.
func decodeBatch(kind Kind, body []byte) ([]map[string]any, error) {
	schema, ok := compiledSchemas[kind]
	if !ok {
		return nil, fmt.Errorf("webhook: неизвестный тип пакета %q", kind)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "тело запроса не является корректным JSON")
	}
	if err := schema.Validate(inst); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректный формат пакета")
	}

	switch val := inst.(type) {
	case map[string]any:
		return objects(val[string(kind)]), nil
	case []any:
		if kind == KindCreditNotes && isNestedBatch(val) {
			var flat []map[string]any
			for _, group := range val {
				flat = append(flat, objects(group)...)
			}
			return flat, nil
		}
		return objects(val), nil
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "некорректный формат пакета")
	}
}

func isNestedBatch(list []any) bool {
	for _, item := range list {
		if _, ok := item.([]any); ok {
			return true
		}
	}
	return false
}
