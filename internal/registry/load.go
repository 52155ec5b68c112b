package registry

import (
	"io"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fieldtrack/internal/model"
)

// declarations is the on-disk form of a field-spec file:
//
//	entities:
//	  person:
//	    - name: name
//	      weight: 90
//	      max_age: 30
//	    - name: email
type declarations struct {
	Entities map[string][]fieldDecl `yaml:"entities"`
}

type fieldDecl struct {
	Name   string   `yaml:"name"`
	Weight *int     `yaml:"weight"`
	MaxAge *float64 `yaml:"max_age"`
}

// LoadFile reads field declarations from a YAML file and registers them on r.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrap(err, "registry: open declarations")
	}
	defer f.Close() //nolint:errcheck

	return eris.Wrapf(r.Load(f), "registry: load %s", path)
}

// Load reads YAML field declarations from rd and registers every entity type
// they name. Omitted weights and max ages take the defaults. Any invalid
// declaration fails the whole load.
func (r *Registry) Load(rd io.Reader) error {
	var decl declarations
	if err := yaml.NewDecoder(rd).Decode(&decl); err != nil && err != io.EOF {
		return eris.Wrap(err, "registry: decode declarations")
	}
	if len(decl.Entities) == 0 {
		return &model.ConfigurationError{Reason: "no entity types declared"}
	}

	kinds := make([]string, 0, len(decl.Entities))
	for k := range decl.Entities {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		specs := make([]model.FieldSpec, 0, len(decl.Entities[kind]))
		for _, fd := range decl.Entities[kind] {
			s, err := fd.spec()
			if err != nil {
				if ce, ok := err.(*model.ConfigurationError); ok {
					ce.Entity = kind
				}
				return err
			}
			specs = append(specs, s)
		}
		if err := r.Register(kind, specs...); err != nil {
			return err
		}
		zap.L().Debug("registry: registered entity type",
			zap.String("entity_type", kind),
			zap.Int("fields", len(specs)),
		)
	}
	return nil
}

func (fd fieldDecl) spec() (model.FieldSpec, error) {
	var opts []model.FieldSpecOption
	if fd.Weight != nil {
		opts = append(opts, model.WithWeight(*fd.Weight))
	}
	if fd.MaxAge != nil {
		opts = append(opts, model.WithMaxAge(*fd.MaxAge))
	}
	return model.NewFieldSpec(fd.Name, opts...)
}
