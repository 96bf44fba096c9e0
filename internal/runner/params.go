package runner

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/quantlab/papertrade/internal/strategy"
)

// loadOptimizedParams reads per-symbol parameter overrides produced by an
// offline optimization run. Any failure disables overrides rather than
// blocking the runner.
func loadOptimizedParams(path string) map[string]strategy.Params {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("no optimized parameters file, using defaults")
		} else {
			log.Error().Err(err).Str("path", path).Msg("failed to read optimized parameters")
		}
		return nil
	}

	var params map[string]strategy.Params
	if err := json.Unmarshal(data, &params); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to parse optimized parameters")
		return nil
	}

	log.Info().Int("symbols", len(params)).Str("path", path).Msg("loaded optimized parameters")
	return params
}
