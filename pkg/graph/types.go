// Package graph provides the core of KartaDB: an immutable, indexed graph
// data store built once from a set of node declarations and then served
// read-only.
//
// The store models a knowledge graph as an arena of densely indexed nodes
// plus a flat, typed edge table. Nodes never point at each other directly;
// everything is addressed by index. This keeps cyclic graphs safe to share
// between any number of concurrent readers without locking.
//
// Basic usage:
//
//	st, err := graph.Build(decls)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	idx, ok := st.FindByID("kb.root")
package graph

import (
	"fmt"
)

// Kind classifies a node. The set is closed: declarations carrying any other
// kind string are rejected at build time.
type Kind uint8

const (
	KindData Kind = iota
	KindFn
	KindStruct
	KindEnum
	KindModule
	KindDatabase
	KindExtern
	KindTest
)

var kindNames = [...]string{
	KindData:     "data",
	KindFn:       "fn",
	KindStruct:   "struct",
	KindEnum:     "enum",
	KindModule:   "module",
	KindDatabase: "database",
	KindExtern:   "extern",
	KindTest:     "test",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a declaration kind string to its Kind value.
// An empty string defaults to "data" (the common case for knowledge nodes).
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindData, nil
	}
	for k, name := range kindNames {
		if s == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// RelationType identifies the semantic type of an edge. The vocabulary is
// closed by design: twenty tags, five of them true inverse pairs and ten
// self-inverse. Extending it requires a store format version bump, never a
// runtime option.
type RelationType uint8

const (
	RelContains RelationType = iota
	RelContainedBy
	RelNext
	RelPrevious
	RelDescribes
	RelDescribedBy
	RelCauses
	RelCausedBy
	RelImplements
	RelImplementedBy
	RelElaboratesOn
	RelContrastsWith
	RelExampleOf
	RelSupersedes
	RelPrecedes
	RelVersionOf
	RelMotivates
	RelEnables
	RelRelatedTo
	RelDependsOn

	// NumRelationTypes is the size of the closed vocabulary.
	NumRelationTypes = int(RelDependsOn) + 1
)

var relationNames = [NumRelationTypes]string{
	RelContains:      "contains",
	RelContainedBy:   "contained_by",
	RelNext:          "next",
	RelPrevious:      "previous",
	RelDescribes:     "describes",
	RelDescribedBy:   "described_by",
	RelCauses:        "causes",
	RelCausedBy:      "caused_by",
	RelImplements:    "implements",
	RelImplementedBy: "implemented_by",
	RelElaboratesOn:  "elaborates_on",
	RelContrastsWith: "contrasts_with",
	RelExampleOf:     "example_of",
	RelSupersedes:    "supersedes",
	RelPrecedes:      "precedes",
	RelVersionOf:     "version_of",
	RelMotivates:     "motivates",
	RelEnables:       "enables",
	RelRelatedTo:     "related_to",
	RelDependsOn:     "depends_on",
}

// inverseTable is the pairing table of the Relation Inverse Resolver.
// The five explicit pairs swap; the remaining ten map to themselves, so a
// synthesized inverse edge carries the same label, directionally reversed.
var inverseTable = [NumRelationTypes]RelationType{
	RelContains:      RelContainedBy,
	RelContainedBy:   RelContains,
	RelNext:          RelPrevious,
	RelPrevious:      RelNext,
	RelDescribes:     RelDescribedBy,
	RelDescribedBy:   RelDescribes,
	RelCauses:        RelCausedBy,
	RelCausedBy:      RelCauses,
	RelImplements:    RelImplementedBy,
	RelImplementedBy: RelImplements,
	RelElaboratesOn:  RelElaboratesOn,
	RelContrastsWith: RelContrastsWith,
	RelExampleOf:     RelExampleOf,
	RelSupersedes:    RelSupersedes,
	RelPrecedes:      RelPrecedes,
	RelVersionOf:     RelVersionOf,
	RelMotivates:     RelMotivates,
	RelEnables:       RelEnables,
	RelRelatedTo:     RelRelatedTo,
	RelDependsOn:     RelDependsOn,
}

func (t RelationType) String() string {
	if int(t) < NumRelationTypes {
		return relationNames[t]
	}
	return fmt.Sprintf("relation(%d)", uint8(t))
}

// Inverse returns the counterpart type that guarantees bidirectional
// discoverability for an edge of type t.
func (t RelationType) Inverse() RelationType {
	return inverseTable[t]
}

// ParseRelationType maps a declaration type string to its RelationType.
// Any string outside the twenty-entry vocabulary fails with
// ErrUnknownRelationType.
func ParseRelationType(s string) (RelationType, error) {
	for t, name := range relationNames {
		if s == name {
			return RelationType(t), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRelationType, s)
}

// Edge is an ordered (source, type, target) triple over dense node indices.
type Edge struct {
	Source uint32
	Type   RelationType
	Target uint32
}

// RelationDecl is one declared outgoing relation inside a NodeDecl.
type RelationDecl struct {
	To   string `yaml:"to" json:"to"`
	Type string `yaml:"type" json:"type"`
}

// NodeDecl is the input shape supplied by the authoring front end.
// Validation of the declaration syntax itself happens upstream; Build only
// enforces graph-level invariants (id uniqueness, target resolution, closed
// vocabularies).
type NodeDecl struct {
	ID        string            `yaml:"id" json:"id"`
	Kind      string            `yaml:"kind,omitempty" json:"kind,omitempty"`
	Content   string            `yaml:"content,omitempty" json:"content,omitempty"`
	Notes     []string          `yaml:"notes,omitempty" json:"notes,omitempty"`
	Metadata  map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Relations []RelationDecl    `yaml:"relations,omitempty" json:"relations,omitempty"`
}
