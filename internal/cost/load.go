package cost

import (
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadRates decodes a YAML pricing table and merges it over base. Models in
// the file replace the base entry for that model as a whole.
//
//	perplexity:
//	  sonar-reasoning:
//	    input: 1.0
//	    output: 5.0
//	    request_fee: {low: 0.005, medium: 0.008, high: 0.012}
func LoadRates(r io.Reader, base Rates) (Rates, error) {
	var file Rates
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return base, nil
		}
		return Rates{}, eris.Wrap(err, "cost: decode pricing yaml")
	}

	merged := Rates{Perplexity: make(map[string]ModelRate, len(base.Perplexity)+len(file.Perplexity))}
	for m, rate := range base.Perplexity {
		merged.Perplexity[m] = rate
	}
	for m, rate := range file.Perplexity {
		merged.Perplexity[m] = rate
	}

	if err := merged.Validate(); err != nil {
		return Rates{}, err
	}
	return merged, nil
}
