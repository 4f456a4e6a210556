package operation

import (
	"fmt"
	"sort"
	"strings"
)

// ObjectType is the kind of securable object a privilege is granted on.
type ObjectType string

const (
	ObjectDatabase  ObjectType = "DATABASE"
	ObjectSchema    ObjectType = "SCHEMA"
	ObjectTable     ObjectType = "TABLE"
	ObjectView      ObjectType = "VIEW"
	ObjectWarehouse ObjectType = "WAREHOUSE"
)

// ParseObjectType accepts singular or plural, any case ("tables" -> TABLE).
func ParseObjectType(s string) (ObjectType, error) {
	switch strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(strings.ToLower(s)), "s")) {
	case "DATABASE":
		return ObjectDatabase, nil
	case "SCHEMA":
		return ObjectSchema, nil
	case "TABLE":
		return ObjectTable, nil
	case "VIEW":
		return ObjectView, nil
	case "WAREHOUSE":
		return ObjectWarehouse, nil
	default:
		return "", fmt.Errorf("unknown object type %q", s)
	}
}

// Depth is the number of dotted name parts an object of this type has; 0 means unconstrained.
func (t ObjectType) Depth() int {
	switch t {
	case ObjectDatabase, ObjectWarehouse:
		return 1
	case ObjectSchema:
		return 2
	case ObjectTable, ObjectView:
		return 3
	default:
		return 0
	}
}

// Plural is the keyword used in bulk grants (ALL TABLES IN SCHEMA ...).
func (t ObjectType) Plural() string {
	switch t {
	case ObjectSchema:
		return "SCHEMAS"
	case ObjectTable:
		return "TABLES"
	case ObjectView:
		return "VIEWS"
	case ObjectDatabase:
		return "DATABASES"
	case ObjectWarehouse:
		return "WAREHOUSES"
	default:
		return string(t) + "S"
	}
}

// MatchName reports whether a concrete dotted name matches a pattern whose
// segments are either literal identifiers (case-insensitive) or "*".
func MatchName(pattern, name string) bool {
	p := SplitName(pattern)
	n := SplitName(name)
	if len(p) != len(n) {
		return false
	}
	for i := range p {
		if p[i] == "*" {
			continue
		}
		if !strings.EqualFold(p[i], n[i]) {
			return false
		}
	}
	return true
}

// Snapshot is the serialisable form of an Operation kept in audit records.
type Snapshot struct {
	Kind    Kind              `json:"kind" yaml:"kind"`
	Key     string            `json:"key" yaml:"key"`
	Label   string            `json:"label" yaml:"label"`
	Source  string            `json:"source,omitempty" yaml:"source,omitempty"`
	Target  string            `json:"target" yaml:"target"`
	Objects []string          `json:"objects" yaml:"objects"`
	Params  map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Describe captures an operation as a Snapshot.
func Describe(op Operation) Snapshot {
	objects := op.Objects()
	seen := make(map[string]bool, len(objects))
	var unique []string
	for _, o := range objects {
		if o == "" || seen[strings.ToUpper(o)] {
			continue
		}
		seen[strings.ToUpper(o)] = true
		unique = append(unique, o)
	}
	sort.Strings(unique)

	return Snapshot{
		Kind:    op.Kind(),
		Key:     Key(op),
		Label:   Label(op),
		Source:  op.Source(),
		Target:  op.Target(),
		Objects: unique,
		Params:  op.Params(),
	}
}

// Touches reports whether the snapshot references the named object.
func (s Snapshot) Touches(name string) bool {
	for _, o := range s.Objects {
		if strings.EqualFold(o, name) {
			return true
		}
	}
	return false
}
