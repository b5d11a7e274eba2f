package terminology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofhir/fhir/r4"
	"gopkg.in/yaml.v3"
)

// LoadStats counts what a load call registered.
type LoadStats struct {
	CodeSystemsLoaded int
	ValueSetsLoaded   int
	Errors            int
}

func (s *LoadStats) add(o LoadStats) {
	s.CodeSystemsLoaded += o.CodeSystemsLoaded
	s.ValueSetsLoaded += o.ValueSetsLoaded
	s.Errors += o.Errors
}

// compactFile is the hand-written terminology format:
//
//	terminologies:
//	  - url: http://example.org/cs/vitals
//	    name: vitals
//	    concepts:
//	      - code: BP
//	        display: Blood pressure
//	        concepts:
//	          - code: SYS
type compactFile struct {
	Terminologies []compactTerminology `yaml:"terminologies" json:"terminologies"`
}

type compactTerminology struct {
	URL      string           `yaml:"url" json:"url"`
	Name     string           `yaml:"name" json:"name"`
	Concepts []compactConcept `yaml:"concepts" json:"concepts"`
}

type compactConcept struct {
	Code     string           `yaml:"code" json:"code"`
	Display  string           `yaml:"display" json:"display"`
	Concepts []compactConcept `yaml:"concepts" json:"concepts"`
}

// LoadCompact registers terminologies from the compact YAML (or JSON) form.
func (r *Registry) LoadCompact(data []byte) (*LoadStats, error) {
	var f compactFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid terminology file: %w", err)
	}
	stats := &LoadStats{}
	for i, ct := range f.Terminologies {
		if ct.URL == "" {
			return stats, fmt.Errorf("terminologies[%d]: url is required", i)
		}
		t := newTerminology(ct.URL)
		var walk func([]compactConcept, string) error
		walk = func(concepts []compactConcept, parent string) error {
			for _, c := range concepts {
				if c.Code == "" {
					return fmt.Errorf("terminologies[%d] (%s): concept without code", i, ct.URL)
				}
				t.add(Concept{System: ct.URL, Code: c.Code, Display: c.Display}, parent)
				if err := walk(c.Concepts, c.Code); err != nil {
					return err
				}
			}
			return nil
		}
		if err := walk(ct.Concepts, ""); err != nil {
			return stats, err
		}
		r.mu.Lock()
		r.codeSystems[t.url] = t
		r.invalidateExpansions()
		r.mu.Unlock()
		r.Alias(ct.Name, ct.URL)
		stats.CodeSystemsLoaded++
	}
	return stats, nil
}

// LoadFromJSON registers a FHIR CodeSystem, ValueSet, or a Bundle of them.
// Resource ids and names become aliases. Inside a Bundle, code systems are
// registered before value sets.
func (r *Registry) LoadFromJSON(data []byte) (*LoadStats, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
		Name         string `json:"name"`
		URL          string `json:"url"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	stats := &LoadStats{}
	switch probe.ResourceType {
	case "Bundle":
		var b struct {
			Entry []struct {
				Resource json.RawMessage `json:"resource"`
			} `json:"entry"`
		}
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to parse Bundle: %w", err)
		}
		for _, pass := range []string{"CodeSystem", "ValueSet"} {
			for _, e := range b.Entry {
				var inner struct {
					ResourceType string `json:"resourceType"`
				}
				if json.Unmarshal(e.Resource, &inner) != nil || inner.ResourceType != pass {
					continue
				}
				s, err := r.LoadFromJSON(e.Resource)
				if err != nil {
					stats.Errors++
					continue
				}
				stats.add(*s)
			}
		}

	case "CodeSystem":
		var cs r4.CodeSystem
		if err := json.Unmarshal(data, &cs); err != nil {
			return nil, fmt.Errorf("failed to parse CodeSystem: %w", err)
		}
		if err := r.LoadR4CodeSystem(&cs); err != nil {
			return nil, err
		}
		stats.CodeSystemsLoaded++

	case "ValueSet":
		var vs r4.ValueSet
		if err := json.Unmarshal(data, &vs); err != nil {
			return nil, fmt.Errorf("failed to parse ValueSet: %w", err)
		}
		if err := r.LoadR4ValueSet(&vs); err != nil {
			return nil, err
		}
		stats.ValueSetsLoaded++

	default:
		return nil, fmt.Errorf("unsupported resourceType: %q", probe.ResourceType)
	}

	if probe.ResourceType != "Bundle" {
		r.Alias(probe.ID, probe.URL)
		r.Alias(probe.Name, probe.URL)
	}
	return stats, nil
}

// LoadFile registers terminologies from a file. JSON files holding a
// resourceType are read as FHIR resources; everything else is read as the
// compact form.
func (r *Registry) LoadFile(filename string) (*LoadStats, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read terminology: %w", err)
	}
	var stats *LoadStats
	if strings.EqualFold(filepath.Ext(filename), ".json") && isFHIRResource(data) {
		stats, err = r.LoadFromJSON(data)
	} else {
		stats, err = r.LoadCompact(data)
	}
	if err != nil {
		return stats, fmt.Errorf("%s: %w", filename, err)
	}
	return stats, nil
}

// LoadFiles loads each file in order, stopping at the first error.
func (r *Registry) LoadFiles(filenames ...string) (*LoadStats, error) {
	total := &LoadStats{}
	for _, f := range filenames {
		s, err := r.LoadFile(f)
		if s != nil {
			total.add(*s)
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func isFHIRResource(data []byte) bool {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	return json.Unmarshal(data, &probe) == nil && probe.ResourceType != ""
}
