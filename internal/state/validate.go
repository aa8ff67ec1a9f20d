package state

import (
	_ "embed"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/plan.schema.json
var planSchemaJSON string

//go:embed schemas/active_task.schema.json
var activeTaskSchemaJSON string

//go:embed schemas/agent_result.schema.json
var agentResultSchemaJSON string

var (
	planSchema        = mustCompileSchema(planSchemaJSON)
	activeTaskSchema  = mustCompileSchema(activeTaskSchemaJSON)
	agentResultSchema = mustCompileSchema(agentResultSchemaJSON)
)

func mustCompileSchema(doc string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic("state: compile embedded schema: " + err.Error())
	}
	return schema
}

// validateBytes checks a serialized artifact against its schema. Violations
// carry dotted context paths prefixed with the artifact name.
func validateBytes(artifact string, schema *gojsonschema.Schema, payload []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return newValidationError(artifact + " is not valid JSON: " + err.Error())
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, contextualize(artifact, schemaErr.Field())+": "+schemaErr.Description())
	}
	sort.Strings(errs)

	return newValidationError(artifact + " schema validation failed: " + strings.Join(errs, "; "))
}

// contextualize prefixes a schema error field with the artifact name.
func contextualize(artifact, field string) string {
	if field == "" || field == "(root)" {
		return artifact
	}
	return artifact + "." + field
}
