package httpadapter

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed approval_schema.json
var approvalSchemaJSON []byte

var approvalSchema = mustLoadApprovalSchema()

func mustLoadApprovalSchema() *openapi3.Schema {
	schema := openapi3.NewSchema()
	if err := json.Unmarshal(approvalSchemaJSON, schema); err != nil {
		panic(fmt.Sprintf("approval schema: %v", err))
	}
	return schema
}

// validateApprovalPayload checks a decoded JSON body and returns one detail
// line per violation.
func validateApprovalPayload(payload any) []string {
	err := approvalSchema.VisitJSON(payload, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	return flattenSchemaErrors(err)
}

func flattenSchemaErrors(err error) []string {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		out := make([]string, 0, len(multi))
		for _, e := range multi {
			out = append(out, flattenSchemaErrors(e)...)
		}
		return out
	}
	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		pointer := strings.Join(schemaErr.JSONPointer(), "/")
		if pointer == "" {
			return []string{schemaErr.Reason}
		}
		return []string{"/" + pointer + ": " + schemaErr.Reason}
	}
	return []string{err.Error()}
}
