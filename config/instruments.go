package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"marketfeed/models"
)

var instrumentEnvPaths = map[string]string{
	EnvironmentProduction: "config/instruments.production.yml",
	EnvironmentStaging:    "config/instruments.staging.yml",
}

// InstrumentList is the content of instruments.yml.
type InstrumentList struct {
	Instruments []models.InstrumentID `yaml:"instruments"`
}

// LoadInstruments reads the instrument list. Every entry needs exchange,
// name, code and class, and an (exchange, name) pair may appear only once.
func LoadInstruments(path string) ([]models.InstrumentID, error) {
	path = resolveEnvSpecificPath(path, DefaultInstrumentsPath, instrumentEnvPaths)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instruments file: %w", err)
	}
	var list InstrumentList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse instruments file: %w", err)
	}
	if len(list.Instruments) == 0 {
		return nil, fmt.Errorf("instruments file %s lists no instruments", path)
	}

	seen := make(map[string]int, len(list.Instruments))
	out := make([]models.InstrumentID, 0, len(list.Instruments))
	for i, id := range list.Instruments {
		id.Exchange = strings.TrimSpace(id.Exchange)
		id.Name = strings.TrimSpace(id.Name)
		id.Code = strings.TrimSpace(id.Code)
		id.Class = strings.TrimSpace(id.Class)

		var missing []string
		if id.Exchange == "" {
			missing = append(missing, "exchange")
		}
		if id.Name == "" {
			missing = append(missing, "name")
		}
		if id.Code == "" {
			missing = append(missing, "code")
		}
		if id.Class == "" {
			missing = append(missing, "class")
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("instruments[%d]: missing %s", i, strings.Join(missing, ", "))
		}

		key := id.Exchange + "/" + id.Name
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("instruments[%d]: duplicate %s (first at instruments[%d])", i, key, prev)
		}
		seen[key] = i
		out = append(out, id)
	}
	return out, nil
}

// GroupByExchange splits ids per exchange, keeping file order within each
// exchange.
func GroupByExchange(ids []models.InstrumentID) map[string][]models.InstrumentID {
	out := make(map[string][]models.InstrumentID)
	for _, id := range ids {
		out[id.Exchange] = append(out[id.Exchange], id)
	}
	return out
}
