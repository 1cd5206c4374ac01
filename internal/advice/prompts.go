package advice

import (
	"fmt"
	"strings"
)

const farmerPersona = `You are an experienced agronomist who advises small farmers in India on growing and harvesting Ayurvedic medicinal herbs.
Give practical, field-level guidance: soil, watering, pests, harvest timing and post-harvest handling.
Keep answers short and concrete. If the location is given, account for its climate and season.`

const consumerPersona = `You are a friendly Ayurveda wellness guide helping consumers understand the herbs they buy.
Explain traditional uses, typical preparations and safe usage in plain language.
Always mention when a doctor should be consulted. Do not diagnose or prescribe.`

const queryPersona = `You are an expert in Ayurvedic medicinal plants answering questions for a herb traceability platform.
Respond ONLY with a JSON object in the following format:

{
  "advice": "the answer to the question",
  "precautions": ["safety notes, contraindications"],
  "related_herbs": ["other herbs worth knowing about"]
}

Use empty arrays when there is nothing to list. Do not wrap the JSON in markdown.`

// buildPrompt renders the caller context and question as the user message
func buildPrompt(q Query) string {
	var sb strings.Builder
	if q.Herb != "" {
		fmt.Fprintf(&sb, "Herb: %s\n", q.Herb)
	}
	if q.Location != "" {
		fmt.Fprintf(&sb, "Location: %s\n", q.Location)
	}
	fmt.Fprintf(&sb, "Question: %s", q.Question)
	return sb.String()
}

// stripFences removes a surrounding markdown code block
func stripFences(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}
