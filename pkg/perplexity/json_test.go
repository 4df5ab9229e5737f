package perplexity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    map[string]any
		wantErr string
	}{
		{name: "plain object", in: `{"設立年": "1990"}`, want: map[string]any{"設立年": "1990"}},
		{name: "fenced", in: "```json\n{\"従業員数\": 120}\n```", want: map[string]any{"従業員数": float64(120)}},
		{name: "fenced with padding", in: "  ```\n{\"a\": null}\n```  ", want: map[string]any{"a": nil}},
		{name: "blank", in: "  \n", want: map[string]any{}},
		{name: "array", in: `[1, 2]`, wantErr: "not a json object"},
		{name: "prose", in: "I could not find it.", wantErr: "parse json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractJSON(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
