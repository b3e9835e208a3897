package lake

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/syncline-io/syncline/internal/models"
)

// EntityRules is the data-driven normalization rule set for one entity
// type: how raw source fields map to canonical fields, which sources win
// conflicts, and which canonical fields are required for a record to be
// considered valid.
type EntityRules struct {
	// SourcePriority lists sources highest-priority first. A field set by a
	// higher-priority source is only overwritten by the same or a
	// higher-priority source. Sources absent from the list rank last, in
	// rule-file order of appearance.
	SourcePriority []models.IntegrationType `yaml:"source_priority"`

	// FieldMap maps, per source, raw field names to canonical field names.
	FieldMap map[models.IntegrationType]map[string]string `yaml:"field_map"`

	// RequiredFields must all be present and non-empty for validation_status
	// to be valid. A record missing some but not all is pending_review;
	// a record missing every required field is invalid.
	RequiredFields []string `yaml:"required_fields"`
}

// Rules holds per-entity-type normalization rule sets loaded from YAML.
type Rules struct {
	Entities map[models.EntityType]EntityRules `yaml:"entities"`
}

// LoadRules reads rules.yaml from dir. Every entity type referenced in the
// file must parse; unknown entity or source tags are a hard error rather
// than silently ignored.
func LoadRules(dir string) (*Rules, error) {
	path := filepath.Join(dir, "rules.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	return ParseRules(data)
}

// ParseRules parses a YAML rules document.
func ParseRules(data []byte) (*Rules, error) {
	var raw struct {
		Entities map[string]struct {
			SourcePriority []string                     `yaml:"source_priority"`
			FieldMap       map[string]map[string]string `yaml:"field_map"`
			RequiredFields []string                     `yaml:"required_fields"`
		} `yaml:"entities"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	rules := &Rules{Entities: make(map[models.EntityType]EntityRules, len(raw.Entities))}
	for entityKey, entityRaw := range raw.Entities {
		entityType, err := models.ParseEntityType(entityKey)
		if err != nil {
			return nil, fmt.Errorf("rules: %w", err)
		}

		er := EntityRules{
			FieldMap:       make(map[models.IntegrationType]map[string]string, len(entityRaw.FieldMap)),
			RequiredFields: entityRaw.RequiredFields,
		}
		for _, sourceKey := range entityRaw.SourcePriority {
			source, err := models.ParseIntegrationType(sourceKey)
			if err != nil {
				return nil, fmt.Errorf("rules for %s: %w", entityKey, err)
			}
			er.SourcePriority = append(er.SourcePriority, source)
		}
		for sourceKey, mapping := range entityRaw.FieldMap {
			source, err := models.ParseIntegrationType(sourceKey)
			if err != nil {
				return nil, fmt.Errorf("rules for %s: %w", entityKey, err)
			}
			er.FieldMap[source] = mapping
		}

		rules.Entities[entityType] = er
	}

	return rules, nil
}

// ForEntity returns the rule set for an entity type.
func (r *Rules) ForEntity(entityType models.EntityType) (EntityRules, bool) {
	er, ok := r.Entities[entityType]
	return er, ok
}

// priorityRank returns the priority index of a source; lower wins. Sources
// not listed rank after all listed ones.
func (er EntityRules) priorityRank(source models.IntegrationType) int {
	for i, s := range er.SourcePriority {
		if s == source {
			return i
		}
	}
	return len(er.SourcePriority)
}

// Overrides reports whether incoming may overwrite a field previously set
// by existing. Equal priority means the newer write wins.
func (er EntityRules) Overrides(incoming, existing models.IntegrationType) bool {
	return er.priorityRank(incoming) <= er.priorityRank(existing)
}
