package battle

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/quiz-battle/internal/domain"
)

//go:embed encounters.yaml
var encountersYAML []byte

// Encounter is the opponent configuration of one stage.
type Encounter struct {
	Name         string `yaml:"name"`
	domain.Stats `yaml:",inline"`
}

// EncounterTable maps stage numbers to opponents.
type EncounterTable struct {
	Stages map[int]Encounter `yaml:"stages"`
}

// DefaultEncounters parses the embedded stage table.
func DefaultEncounters() (*EncounterTable, error) {
	return ParseEncounters(encountersYAML)
}

// ParseEncounters parses a stage table and validates every entry.
func ParseEncounters(data []byte) (*EncounterTable, error) {
	var table EncounterTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse encounters: %w", err)
	}
	for stage, enc := range table.Stages {
		if stage <= 0 {
			return nil, fmt.Errorf("encounter stage %d: stage must be > 0", stage)
		}
		if err := enc.Validate(); err != nil {
			return nil, fmt.Errorf("encounter stage %d: %w", stage, err)
		}
	}
	return &table, nil
}

// Lookup returns the encounter for stage.
func (t *EncounterTable) Lookup(stage int) (Encounter, bool) {
	if t == nil {
		return Encounter{}, false
	}
	enc, ok := t.Stages[stage]
	return enc, ok
}
