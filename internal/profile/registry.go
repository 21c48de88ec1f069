// Package profile declares the analysis profiles the pipeline can process and
// resolves user-selected profile names against that registry.
package profile

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profile describes one analysis profile (an organism group processed
// together).
type Profile struct {
	Name string `yaml:"name"`
	// MLST marks profiles whose metadata rows carry the sequence type and
	// per-gene allele calls from MLST typing.
	MLST bool `yaml:"mlst"`
}

// Registry is the set of declared analysis profiles.
type Registry struct {
	Profiles []Profile `yaml:"profiles"`
}

// Default returns the built-in registry used when no profiles file is
// configured.
func Default() Registry {
	return Registry{Profiles: []Profile{
		{Name: "staphylococcus_aureus", MLST: true},
		{Name: "klebsiella_pneumoniae", MLST: true},
	}}
}

// Load reads a profile registry from a YAML file.
func Load(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, eris.Wrapf(err, "profile: read registry %s", path)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return Registry{}, eris.Wrap(err, "profile: parse registry")
	}
	if len(reg.Profiles) == 0 {
		return Registry{}, eris.Errorf("profile: registry %s declares no profiles", path)
	}
	return reg, nil
}

// Names lists the declared profile names in registry order.
func (r Registry) Names() []string {
	out := make([]string, len(r.Profiles))
	for i, p := range r.Profiles {
		out[i] = p.Name
	}
	return out
}

// Lookup returns the declared profile with the given name.
func (r Registry) Lookup(name string) (Profile, bool) {
	for _, p := range r.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Resolve maps user-selected profile names to declared profiles. The single
// selector "all" (case-insensitive) selects every declared profile. Unknown
// names are an error rather than being silently dropped.
func (r Registry) Resolve(selected []string) ([]Profile, error) {
	if len(selected) == 0 {
		return nil, eris.New("profile: no profiles selected")
	}
	if len(selected) == 1 && strings.EqualFold(selected[0], "all") {
		return r.Profiles, nil
	}

	out := make([]Profile, 0, len(selected))
	for _, name := range selected {
		p, ok := r.Lookup(name)
		if !ok {
			return nil, eris.Errorf("profile: unknown profile %q (declared: %s)",
				name, strings.Join(r.Names(), ", "))
		}
		out = append(out, p)
	}
	return out, nil
}
