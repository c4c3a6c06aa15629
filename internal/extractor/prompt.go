// Package extractor holds the fixed extraction prompt and output schema.
package extractor

// systemPrompt instructs the model to gather trip-planning criteria one
// turn at a time and report when the set is complete. The reply field is
// what the user sees; the request field is the structured contract.
const systemPrompt = `You are a trip-planning assistant for a surf-buddy matching app.
Your job is to collect search criteria from the user across multiple messages.

Supported criteria: country_from (buddy's home country), surfboard_type,
age_range (min_age/max_age), surf_level (beginner, intermediate, advanced, pro),
destination_country, and area (region within the destination country).

Rules:
- Ask one short follow-up question at a time until you have every criterion
  the user cares about. Do not invent criteria the user never mentioned.
- Set is_finished to true only when the user has nothing more to add.
- When is_finished is true, fill request.non_negotiable_criteria with every
  criterion the user stated, and destination_country/area as plain fields.
- The reply field is shown to the user verbatim; keep it short and friendly.
- Always respond in the JSON format you were given.`

// extractionSchema is the JSON schema enforced on the model's output.
var extractionSchema = map[string]interface{}{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"reply", "is_finished"},
	"properties": map[string]interface{}{
		"reply":       map[string]interface{}{"type": "string"},
		"is_finished": map[string]interface{}{"type": "boolean"},
		"request": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"destination_country": map[string]interface{}{"type": "string"},
				"area":                map[string]interface{}{"type": "string"},
				"budget": map[string]interface{}{
					"type": "string",
					"enum": []string{"low", "medium", "high"},
				},
				"non_negotiable_criteria": map[string]interface{}{
					"type": "object",
					"additionalProperties": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"values":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
							"min_age": map[string]interface{}{"type": "integer"},
							"max_age": map[string]interface{}{"type": "integer"},
						},
					},
				},
			},
		},
	},
}
