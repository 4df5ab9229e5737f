package perplexity

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractJSON parses a completion's text as a JSON object. Markdown code
// fences around the object are dropped. Blank text yields an empty map.
func ExtractJSON(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]any{}, nil
	}
	if strings.HasPrefix(text, "```") {
		var kept []string
		for _, line := range strings.Split(text, "\n") {
			if !strings.HasPrefix(strings.TrimSpace(line), "```") {
				kept = append(kept, line)
			}
		}
		text = strings.Join(kept, "\n")
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, eris.Wrap(err, "perplexity: parse json from completion")
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, eris.New("perplexity: completion is not a json object")
	}
	return obj, nil
}
