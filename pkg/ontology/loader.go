package ontology

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlOntology mirrors the on-disk schema format:
//
//	version: 1
//	classes:
//	  - id: Organization
//	    parents: [Party]
//	properties:
//	  - id: ancestorOf
//	    domain: Organization
//	    range: Organization
//	    transitive: true
//	chains:
//	  - chain: [placedBy, memberOf]
//	    implies: placedInOrg
type yamlOntology struct {
	Version    int            `yaml:"version,omitempty"`
	Classes    []yamlClass    `yaml:"classes,omitempty"`
	Properties []yamlProperty `yaml:"properties,omitempty"`
	Chains     []yamlChain    `yaml:"chains,omitempty"`
}

type yamlClass struct {
	ID           string   `yaml:"id"`
	Parents      []string `yaml:"parents,omitempty"`
	DisjointWith []string `yaml:"disjointWith,omitempty"`
	SameAs       []string `yaml:"sameAs,omitempty"`
}

type yamlProperty struct {
	ID            string   `yaml:"id"`
	Domain        string   `yaml:"domain,omitempty"`
	Range         string   `yaml:"range,omitempty"`
	Functional    bool     `yaml:"functional,omitempty"`
	InverseOf     string   `yaml:"inverseOf,omitempty"`
	Transitive    bool     `yaml:"transitive,omitempty"`
	Symmetric     bool     `yaml:"symmetric,omitempty"`
	SubPropertyOf []string `yaml:"subPropertyOf,omitempty"`
}

type yamlChain struct {
	Chain   []string `yaml:"chain"`
	Implies string   `yaml:"implies"`
}

// LoadYAML decodes and validates a TBox.
func LoadYAML(r io.Reader) (TBox, error) {
	var doc yamlOntology
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return TBox{}, fmt.Errorf("failed to decode ontology YAML: %w", err)
	}

	classes := make([]ClassDef, 0, len(doc.Classes))
	for _, c := range doc.Classes {
		if c.ID == "" {
			return TBox{}, invalid("class without id")
		}
		classes = append(classes, ClassDef{ID: c.ID, Parents: c.Parents, DisjointWith: c.DisjointWith, SameAs: c.SameAs})
	}
	props := make([]PropertyDef, 0, len(doc.Properties))
	for _, p := range doc.Properties {
		if p.ID == "" {
			return TBox{}, invalid("property without id")
		}
		props = append(props, PropertyDef{
			ID:              p.ID,
			Domain:          p.Domain,
			Range:           p.Range,
			Transitive:      p.Transitive,
			Functional:      p.Functional,
			Symmetric:       p.Symmetric,
			InverseOf:       p.InverseOf,
			SuperProperties: p.SubPropertyOf,
		})
	}
	chains := make([]PropertyChainDef, 0, len(doc.Chains))
	for _, ch := range doc.Chains {
		chains = append(chains, PropertyChainDef{Chain: ch.Chain, Implies: ch.Implies})
	}

	tbox := NewTBox(classes, props, chains)
	if err := Validate(tbox); err != nil {
		return TBox{}, err
	}
	return tbox, nil
}

// LoadYAMLFile reads a TBox from a YAML file on disk.
func LoadYAMLFile(path string) (TBox, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TBox{}, fmt.Errorf("failed to read ontology file %s: %w", path, err)
	}
	tbox, err := LoadYAML(bytes.NewReader(data))
	if err != nil {
		return TBox{}, fmt.Errorf("%s: %w", path, err)
	}
	return tbox, nil
}

// MarshalYAML renders a TBox in the same format LoadYAML reads, with ids sorted.
func MarshalYAML(t TBox) ([]byte, error) {
	doc := yamlOntology{Version: 1}
	for _, id := range t.ClassIDs() {
		c := t.Classes[id]
		doc.Classes = append(doc.Classes, yamlClass{ID: c.ID, Parents: c.Parents, DisjointWith: c.DisjointWith, SameAs: c.SameAs})
	}
	for _, id := range t.PropertyIDs() {
		p := t.Properties[id]
		doc.Properties = append(doc.Properties, yamlProperty{
			ID:            p.ID,
			Domain:        p.Domain,
			Range:         p.Range,
			Functional:    p.Functional,
			InverseOf:     p.InverseOf,
			Transitive:    p.Transitive,
			Symmetric:     p.Symmetric,
			SubPropertyOf: p.SuperProperties,
		})
	}
	for _, ch := range t.Chains {
		doc.Chains = append(doc.Chains, yamlChain{Chain: ch.Chain, Implies: ch.Implies})
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ontology YAML: %w", err)
	}
	return out, nil
}
