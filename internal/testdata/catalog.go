package testdata

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario tags used for selection.
const (
	TagSmoke       = "smoke"
	TagIntegration = "integration"
	TagRegression  = "regression"
)

const (
	errorMessageDecodeCatalog   = "decode scenario catalog"
	errorMessageDuplicateID     = "duplicate scenario id %q"
	errorMessageMissingID       = "scenario at index %d has no id"
	errorMessageUnknownScenario = "scenario %q not found"
	errorMessageUnknownTag      = "scenario %q has unknown tag %q"
)

//go:embed scenarios.yaml
var embeddedCatalog []byte

var knownTags = []string{TagSmoke, TagIntegration, TagRegression}

// ScenarioDefinition describes one catalog entry.
type ScenarioDefinition struct {
	ID              string          `yaml:"id" json:"id"`
	Name            string          `yaml:"name" json:"name"`
	Description     string          `yaml:"description" json:"description"`
	Tags            []string        `yaml:"tags" json:"tags"`
	Steps           []string        `yaml:"steps" json:"steps"`
	ExpectedResults map[string]bool `yaml:"expected_results" json:"expected_results"`
	Events          []string        `yaml:"events" json:"events,omitempty"`
}

// HasTag reports whether the scenario carries tag.
func (definition ScenarioDefinition) HasTag(tag string) bool {
	return slices.Contains(definition.Tags, strings.ToLower(tag))
}

// Catalog is the ordered set of known scenarios.
type Catalog struct {
	scenarios []ScenarioDefinition
}

type catalogDocument struct {
	Scenarios []ScenarioDefinition `yaml:"scenarios"`
}

// DefaultCatalog decodes the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(embeddedCatalog)
}

// ParseCatalog decodes a YAML catalog and checks ids and tags.
func ParseCatalog(contents []byte) (*Catalog, error) {
	var document catalogDocument
	if decodeErr := yaml.Unmarshal(contents, &document); decodeErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageDecodeCatalog, decodeErr)
	}

	seen := make(map[string]struct{}, len(document.Scenarios))
	for index, definition := range document.Scenarios {
		if strings.TrimSpace(definition.ID) == "" {
			return nil, fmt.Errorf(errorMessageMissingID, index)
		}
		if _, duplicate := seen[definition.ID]; duplicate {
			return nil, fmt.Errorf(errorMessageDuplicateID, definition.ID)
		}
		seen[definition.ID] = struct{}{}
		for _, tag := range definition.Tags {
			if !slices.Contains(knownTags, tag) {
				return nil, fmt.Errorf(errorMessageUnknownTag, definition.ID, tag)
			}
		}
	}
	return &Catalog{scenarios: document.Scenarios}, nil
}

// All returns every scenario in catalog order.
func (catalog *Catalog) All() []ScenarioDefinition {
	return slices.Clone(catalog.scenarios)
}

// Get returns the scenario with id.
func (catalog *Catalog) Get(id string) (ScenarioDefinition, error) {
	for _, definition := range catalog.scenarios {
		if definition.ID == id {
			return definition, nil
		}
	}
	return ScenarioDefinition{}, fmt.Errorf(errorMessageUnknownScenario, id)
}

// WithTags returns scenarios carrying any of tags. No tags selects everything.
func (catalog *Catalog) WithTags(tags ...string) []ScenarioDefinition {
	if len(tags) == 0 {
		return catalog.All()
	}
	var selected []ScenarioDefinition
	for _, definition := range catalog.scenarios {
		for _, tag := range tags {
			if definition.HasTag(tag) {
				selected = append(selected, definition)
				break
			}
		}
	}
	return selected
}
