package ontology

import (
	"fmt"
	"slices"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/apperrors"
)

// ValidationError describes why a TBox was rejected.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid ontology: " + e.Message
}

// Unwrap lets callers match with errors.Is(err, apperrors.ErrInvalidSchema).
func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidSchema
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Validate checks a TBox for structural consistency. It returns the first
// violation found; a TBox that fails must not be installed.
//
// Checks run in this order: references, super-property cycles, transitive
// domain/range, chain shape, chain regularity. Class hierarchy cycles are
// not checked.
func Validate(t TBox) error {
	for _, check := range []func(TBox) error{
		validateReferences,
		validatePropertyHierarchy,
		validateTransitive,
		validateChainShape,
		validateChainRegularity,
	} {
		if err := check(t); err != nil {
			return err
		}
	}
	return nil
}

func validateReferences(t TBox) error {
	for _, id := range t.PropertyIDs() {
		p := t.Properties[id]
		if p.Domain != "" {
			if _, ok := t.Classes[p.Domain]; !ok {
				return invalid("Unknown class '%s' in domain of %s", p.Domain, id)
			}
		}
		if p.Range != "" {
			if _, ok := t.Classes[p.Range]; !ok {
				return invalid("Unknown class '%s' in range of %s", p.Range, id)
			}
		}
		if p.InverseOf != "" {
			if _, ok := t.Properties[p.InverseOf]; !ok {
				return invalid("Unknown property '%s' in inverseOf of %s", p.InverseOf, id)
			}
		}
		for _, sp := range p.SuperProperties {
			if _, ok := t.Properties[sp]; !ok {
				return invalid("Unknown property '%s' in subPropertyOf of %s", sp, id)
			}
		}
	}
	return nil
}

// validatePropertyHierarchy runs a depth-first search over super-property
// links. Reaching a node that is still on the current path is a cycle.
func validatePropertyHierarchy(t TBox) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(t.Properties))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case visiting:
			return invalid("Cycle detected in subPropertyOf hierarchy involving '%s' (%v)", id, append(path, id))
		case done:
			return nil
		}
		state[id] = visiting
		supers := slices.Clone(t.Properties[id].SuperProperties)
		slices.Sort(supers)
		for _, sp := range supers {
			if err := visit(sp, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, id := range t.PropertyIDs() {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

func validateTransitive(t TBox) error {
	for _, id := range t.PropertyIDs() {
		p := t.Properties[id]
		if !p.Transitive || p.Domain == "" || p.Range == "" {
			continue
		}
		if p.Domain != p.Range {
			return invalid("Transitive property '%s' must have same domain and range (domain=%s, range=%s)", id, p.Domain, p.Range)
		}
	}
	return nil
}

func validateChainShape(t TBox) error {
	for _, ch := range t.Chains {
		if ch.Implies == "" {
			return invalid("Chain %v implies must be non-empty", ch.Chain)
		}
		if len(ch.Chain) < 2 {
			return invalid("Property chain %s must have at least 2 properties", ch.ID())
		}
		if _, ok := t.Properties[ch.Implies]; !ok {
			return invalid("Unknown property '%s' in chain implies", ch.Implies)
		}
		for _, pid := range ch.Chain {
			if _, ok := t.Properties[pid]; !ok {
				return invalid("Unknown property '%s' in chain for implies %s", pid, ch.Implies)
			}
		}
	}
	return nil
}

// validateChainRegularity rejects chains whose non-terminal steps use a
// transitive property that does not share the implied property's declared
// domain and range. A transitive step in the final position is always allowed.
func validateChainRegularity(t TBox) error {
	for _, ch := range t.Chains {
		implied := t.Properties[ch.Implies]
		for i, pid := range ch.Chain[:len(ch.Chain)-1] {
			step := t.Properties[pid]
			if !step.Transitive {
				continue
			}
			if step.Domain != "" && step.Domain == implied.Domain && step.Range == implied.Range {
				continue
			}
			return invalid("Property chain %s is non-regular: transitive property '%s' at step %d does not match domain/range of '%s'",
				ch.ID(), pid, i, ch.Implies)
		}
	}
	return nil
}
