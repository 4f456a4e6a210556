// Package validator compares a cloned target with its source and with the
// grants its role templates promise. It never changes warehouse state.
package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/davidthor/clonectl/pkg/operation"
	"github.com/davidthor/clonectl/pkg/rbac"
	"github.com/davidthor/clonectl/pkg/warehouse"
	"go.uber.org/zap"
)

// MismatchKind classifies a discrepancy.
type MismatchKind string

const (
	MismatchMissingObject   MismatchKind = "missing_object"
	MismatchRowCount        MismatchKind = "row_count"
	MismatchMissingGrant    MismatchKind = "missing_grant"
	MismatchUnexpectedGrant MismatchKind = "unexpected_grant"
)

var kindOrder = map[MismatchKind]int{
	MismatchMissingObject:   0,
	MismatchRowCount:        1,
	MismatchMissingGrant:    2,
	MismatchUnexpectedGrant: 3,
}

// Mismatch is one discrepancy.
type Mismatch struct {
	Kind     MismatchKind `json:"kind" yaml:"kind"`
	Object   string       `json:"object" yaml:"object"`
	Expected string       `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual   string       `json:"actual,omitempty" yaml:"actual,omitempty"`
	Detail   string       `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Report is the outcome of a validation pass.
type Report struct {
	Source       string     `json:"source" yaml:"source"`
	Target       string     `json:"target" yaml:"target"`
	CheckedAt    time.Time  `json:"checked_at" yaml:"checked_at"`
	SourceTables int        `json:"source_tables" yaml:"source_tables"`
	TargetTables int        `json:"target_tables" yaml:"target_tables"`
	Mismatches   []Mismatch `json:"mismatches" yaml:"mismatches"`
}

// OK reports whether no mismatches were found.
func (r *Report) OK() bool {
	return len(r.Mismatches) == 0
}

// Count returns the number of mismatches of a kind.
func (r *Report) Count(kind MismatchKind) int {
	n := 0
	for _, m := range r.Mismatches {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// Tolerance bounds acceptable row-count drift. A delta passes if it is within
// either limit.
type Tolerance struct {
	Absolute int64
	Ratio    float64
}

// Within reports whether actual is close enough to expected.
func (t Tolerance) Within(expected, actual int64) bool {
	delta := expected - actual
	if delta < 0 {
		delta = -delta
	}
	if delta <= t.Absolute {
		return true
	}
	return t.Ratio > 0 && expected > 0 && float64(delta)/float64(expected) <= t.Ratio
}

// Validator compares source and target metadata.
type Validator struct {
	introspector *Introspector
	tolerance    Tolerance
	logger       *zap.Logger
	now          func() time.Time
}

// New creates a validator.
func New(client warehouse.Client, tolerance Tolerance, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		introspector: NewIntrospector(client, logger),
		tolerance:    tolerance,
		logger:       logger,
		now:          time.Now,
	}
}

// Validate compares target against source. Both are a database or a
// database.schema pair. Expected grants are checked against the roles they
// name, scoped to objects in the target.
func (v *Validator) Validate(ctx context.Context, source, target string, expected []rbac.ExpectedGrant) (*Report, error) {
	srcDB, srcSchema, err := splitScope(source)
	if err != nil {
		return nil, err
	}
	tgtDB, tgtSchema, err := splitScope(target)
	if err != nil {
		return nil, err
	}
	if (srcSchema == "") != (tgtSchema == "") {
		return nil, fmt.Errorf("cannot compare %s with %s: both must be databases or both schemas", source, target)
	}

	report := &Report{
		Source:    strings.ToUpper(source),
		Target:    strings.ToUpper(target),
		CheckedAt: v.now().UTC(),
	}

	sourceTables, err := v.introspector.Tables(ctx, srcDB, srcSchema)
	if err != nil {
		return nil, err
	}
	targetTables, err := v.introspector.Tables(ctx, tgtDB, tgtSchema)
	if err != nil {
		return nil, err
	}
	report.SourceTables = len(sourceTables)
	report.TargetTables = len(targetTables)

	// Schema-level comparisons match on table name alone.
	relative := func(t Table) string {
		if srcSchema != "" {
			return strings.ToUpper(t.Name)
		}
		return t.RelativeName()
	}

	inTarget := make(map[string]Table, len(targetTables))
	for _, t := range targetTables {
		inTarget[relative(t)] = t
	}

	for _, s := range sourceTables {
		name := relative(s)
		t, ok := inTarget[name]
		if !ok {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Kind:     MismatchMissingObject,
				Object:   operation.QualifiedName(report.Target, name),
				Expected: operation.QualifiedName(report.Source, name),
				Detail:   "present in source, absent in target",
			})
			continue
		}
		if s.RowCount < 0 || t.RowCount < 0 {
			continue
		}
		if !v.tolerance.Within(s.RowCount, t.RowCount) {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Kind:     MismatchRowCount,
				Object:   operation.QualifiedName(report.Target, name),
				Expected: fmt.Sprintf("%d", s.RowCount),
				Actual:   fmt.Sprintf("%d", t.RowCount),
				Detail:   fmt.Sprintf("delta %d", t.RowCount-s.RowCount),
			})
		}
	}

	if len(expected) > 0 {
		mismatches, err := v.compareGrants(ctx, tgtDB, targetTables, expected)
		if err != nil {
			return nil, err
		}
		report.Mismatches = append(report.Mismatches, mismatches...)
	}

	sort.SliceStable(report.Mismatches, func(i, j int) bool {
		a, b := report.Mismatches[i], report.Mismatches[j]
		if a.Kind != b.Kind {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		return a.Object < b.Object
	})

	v.logger.Info("validation complete",
		zap.String("source", report.Source),
		zap.String("target", report.Target),
		zap.Int("source_tables", report.SourceTables),
		zap.Int("target_tables", report.TargetTables),
		zap.Int("mismatches", len(report.Mismatches)))
	return report, nil
}

// compareGrants checks each role named by expected. Table wildcards expand to
// one required grant per matching target table.
func (v *Validator) compareGrants(ctx context.Context, database string, tables []Table, expected []rbac.ExpectedGrant) ([]Mismatch, error) {
	byRole := map[string][]rbac.ExpectedGrant{}
	var roles []string
	for _, e := range expected {
		role := strings.ToUpper(e.Role)
		if _, ok := byRole[role]; !ok {
			roles = append(roles, role)
		}
		byRole[role] = append(byRole[role], e)
	}
	sort.Strings(roles)

	var mismatches []Mismatch
	for _, role := range roles {
		actual, err := v.introspector.Grants(ctx, role)
		if err != nil {
			return nil, err
		}

		for _, e := range byRole[role] {
			if !strings.HasPrefix(strings.ToUpper(e.Pattern), strings.ToUpper(database)+".") &&
				!strings.EqualFold(e.Pattern, database) {
				continue
			}

			if e.ObjectType == operation.ObjectTable && strings.Contains(e.Pattern, "*") {
				for _, t := range tables {
					name := operation.QualifiedName(strings.ToUpper(database), t.Schema, t.Name)
					if !operation.MatchName(e.Pattern, name) {
						continue
					}
					if !hasGrant(actual, e, name) {
						mismatches = append(mismatches, missingGrant(role, e, name))
					}
				}
				continue
			}

			if !hasGrant(actual, e, "") {
				mismatches = append(mismatches, missingGrant(role, e, e.Pattern))
			}
		}

		for _, a := range actual {
			if a.Privilege == "OWNERSHIP" || !inDatabase(a.Object, database) {
				continue
			}
			if !covered(byRole[role], a) {
				mismatches = append(mismatches, Mismatch{
					Kind:   MismatchUnexpectedGrant,
					Object: a.Object,
					Actual: fmt.Sprintf("%s on %s to %s", a.Privilege, a.ObjectType, role),
					Detail: "not declared by any role template",
				})
			}
		}
	}
	return mismatches, nil
}

// hasGrant reports whether actual satisfies e, on object when given or on
// anything matching the pattern otherwise.
func hasGrant(actual []Grant, e rbac.ExpectedGrant, object string) bool {
	for _, a := range actual {
		if !privilegeMatches(e.Privilege, a.Privilege) || !strings.EqualFold(string(e.ObjectType), a.ObjectType) {
			continue
		}
		if object != "" {
			if strings.EqualFold(a.Object, object) {
				return true
			}
			continue
		}
		if operation.MatchName(e.Pattern, a.Object) {
			return true
		}
	}
	return false
}

func covered(expected []rbac.ExpectedGrant, a Grant) bool {
	for _, e := range expected {
		if privilegeMatches(e.Privilege, a.Privilege) &&
			strings.EqualFold(string(e.ObjectType), a.ObjectType) &&
			operation.MatchName(e.Pattern, a.Object) {
			return true
		}
	}
	return false
}

// privilegeMatches treats ALL as covering any single privilege.
func privilegeMatches(expected, actual string) bool {
	expected = strings.ToUpper(expected)
	if expected == "ALL" || expected == "ALL PRIVILEGES" {
		return true
	}
	return expected == strings.ToUpper(actual)
}

func missingGrant(role string, e rbac.ExpectedGrant, object string) Mismatch {
	return Mismatch{
		Kind:     MismatchMissingGrant,
		Object:   object,
		Expected: fmt.Sprintf("%s on %s to %s", strings.ToUpper(e.Privilege), e.ObjectType, role),
		Detail:   "declared by role template " + role,
	}
}

func inDatabase(object, database string) bool {
	parts := operation.SplitName(object)
	return len(parts) > 0 && strings.EqualFold(parts[0], database)
}

func splitScope(name string) (database, schema string, err error) {
	parts := operation.SplitName(name)
	if len(parts) == 0 || len(parts) > 2 {
		return "", "", fmt.Errorf("%q is not a database or database.schema", name)
	}
	if err := warehouse.CheckName(name); err != nil {
		return "", "", err
	}
	if len(parts) == 2 {
		return parts[0], parts[1], nil
	}
	return parts[0], "", nil
}
