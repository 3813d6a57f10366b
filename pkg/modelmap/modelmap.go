package modelmap

import (
	_ "embed"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultMapRaw []byte

// Model is a model identity on the target side
type Model struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type mapFile struct {
	Default *Model           `yaml:"default"`
	Models  map[string]Model `yaml:"models"`
}

// Mapper resolves source model slugs. It is read-only after construction.
type Mapper struct {
	def    Model
	models map[string]Model
}

// Default returns the mapper built from the embedded model table
func Default() (*Mapper, error) {
	m := &Mapper{models: map[string]Model{}}
	if err := m.merge(defaultMapRaw); err != nil {
		return nil, goerr.Wrap(err, "failed to parse embedded model map")
	}
	return m, nil
}

// Load returns the embedded table overlaid with the YAML file at path. An empty
// path returns Default().
func Load(path string) (*Mapper, error) {
	m, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return m, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read model map file", goerr.V("file", path))
	}
	if err := m.merge(raw); err != nil {
		return nil, goerr.Wrap(err, "failed to parse model map file", goerr.V("file", path))
	}
	return m, nil
}

func (m *Mapper) merge(raw []byte) error {
	var f mapFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return goerr.Wrap(err, "invalid model map")
	}

	if f.Default != nil {
		if f.Default.ID == "" {
			return goerr.New("default model has no id")
		}
		m.def = withName(*f.Default)
	}
	for slug, model := range f.Models {
		if model.ID == "" {
			return goerr.New("model has no id", goerr.V("slug", slug))
		}
		m.models[slug] = withName(model)
	}
	return nil
}

func withName(m Model) Model {
	if m.Name == "" {
		m.Name = m.ID
	}
	return m
}

// Lookup maps a source slug. Unlisted "gpt-*" and "o*" slugs map to
// "openai-<slug>"; anything else, including an empty slug, maps to the default.
func (m *Mapper) Lookup(slug string) Model {
	if model, ok := m.models[slug]; ok {
		return model
	}

	switch {
	case strings.HasPrefix(slug, "gpt-"):
		return Model{ID: "openai-" + slug, Name: strings.ToUpper(slug)}
	case strings.HasPrefix(slug, "o"):
		return Model{ID: "openai-" + slug, Name: slug}
	}

	return m.def
}

// DefaultModel returns the fallback model
func (m *Mapper) DefaultModel() Model {
	return m.def
}
