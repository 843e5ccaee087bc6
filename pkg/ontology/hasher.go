package ontology

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"slices"
	"strconv"
	"strings"
)

// ComputeHash returns a SHA-256 hex fingerprint of the TBox. Ids and sets are
// sorted before hashing and every value is length-prefixed, so the digest is
// independent of map order and changes whenever any field changes.
func ComputeHash(t TBox) string {
	h := sha256.New()

	for _, id := range t.ClassIDs() {
		c := t.Classes[id]
		writeField(h, "class", id)
		writeField(h, "id", c.ID)
		writeSet(h, "parents", c.Parents)
		writeSet(h, "disjointWith", c.DisjointWith)
		writeSet(h, "sameAs", c.SameAs)
	}

	for _, id := range t.PropertyIDs() {
		p := t.Properties[id]
		writeField(h, "property", id)
		writeField(h, "id", p.ID)
		writeField(h, "domain", p.Domain)
		writeField(h, "range", p.Range)
		writeField(h, "inverseOf", p.InverseOf)
		writeField(h, "transitive", strconv.FormatBool(p.Transitive))
		writeField(h, "functional", strconv.FormatBool(p.Functional))
		writeField(h, "symmetric", strconv.FormatBool(p.Symmetric))
		writeSet(h, "subPropertyOf", p.SuperProperties)
	}

	chains := make([]string, 0, len(t.Chains))
	for _, ch := range t.Chains {
		var b strings.Builder
		for _, step := range ch.Chain {
			b.WriteString(strconv.Itoa(len(step)))
			b.WriteByte(':')
			b.WriteString(step)
		}
		b.WriteString("=>")
		b.WriteString(ch.Implies)
		chains = append(chains, b.String())
	}
	slices.Sort(chains)
	for _, ch := range chains {
		writeField(h, "chain", ch)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, name, value string) {
	h.Write([]byte(name))
	h.Write([]byte{'='})
	h.Write([]byte(strconv.Itoa(len(value))))
	h.Write([]byte{':'})
	h.Write([]byte(value))
	h.Write([]byte{'\n'})
}

func writeSet(h hash.Hash, name string, values []string) {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	writeField(h, name+"#", strconv.Itoa(len(sorted)))
	for _, v := range sorted {
		writeField(h, name, v)
	}
}
