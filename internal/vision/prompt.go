package vision

import "strings"

func buildPrompt(hint string, categories []string) string {
	var sb strings.Builder

	sb.WriteString("Analyze this image and identify the inventory items visible. Return JSON only.\n\n")
	sb.WriteString(`For each item you can identify, provide:
1. name: a clear, descriptive name
2. description: optional short detail (size, colour, brand)
3. quantity_estimate: one of
   - "exact:N" if you can count exactly N items
   - "approximate:label" for things you cannot count (e.g. "approximate:assorted", "approximate:roll")
   - "boolean" for a single tool or object that is not counted
4. confidence: your confidence from 0.0 to 1.0
5. category_suggestion: the best matching category name, or "Other"
`)
	sb.WriteString("\n")

	if len(categories) > 0 {
		sb.WriteString("Existing categories (prefer these when they fit):\n")
		for _, c := range categories {
			sb.WriteString("- ")
			sb.WriteString(c)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if hint = strings.TrimSpace(hint); hint != "" {
		sb.WriteString("Context: ")
		sb.WriteString(hint)
		sb.WriteString("\n\n")
	}

	sb.WriteString(`Also report:
- labels_detected: readable text, barcodes or product codes
- suggestions: helpful observations, such as "this looks like a 50-piece kit"

Return a JSON object with this structure:
{
  "items": [
    {"name": "M3 socket head cap screws", "quantity_estimate": "exact:50", "confidence": 0.9, "category_suggestion": "Screws"}
  ],
  "labels_detected": ["UPC: 123456789"],
  "suggestions": "The package label shows a 50-piece kit"
}

Return ONLY the JSON, no other text.`)

	return sb.String()
}
