// Package operation defines the closed set of remote operations clonectl plans and executes.
package operation

import (
	"fmt"
	"strings"
)

// Kind identifies the variant of an Operation.
type Kind string

const (
	KindCloneDatabase  Kind = "clone_database"
	KindCloneSchema    Kind = "clone_schema"
	KindCloneTable     Kind = "clone_table"
	KindCreateRole     Kind = "create_role"
	KindGrantPrivilege Kind = "grant_privilege"
	KindGrantRole      Kind = "grant_role"
	KindAssignUser     Kind = "assign_user"
)

// Kinds lists every kind in planning priority order.
var Kinds = []Kind{
	KindCloneDatabase,
	KindCloneSchema,
	KindCloneTable,
	KindCreateRole,
	KindGrantPrivilege,
	KindGrantRole,
	KindAssignUser,
}

// Priority returns the tie-break rank of a kind. Lower runs first. Databases
// are cloned before schemas before tables, roles are created before privileges
// are granted, and the hierarchy and user assignments come last.
func (k Kind) Priority() (int, error) {
	switch k {
	case KindCloneDatabase:
		return 0, nil
	case KindCloneSchema:
		return 1, nil
	case KindCloneTable:
		return 2, nil
	case KindCreateRole:
		return 3, nil
	case KindGrantPrivilege:
		return 4, nil
	case KindGrantRole:
		return 5, nil
	case KindAssignUser:
		return 6, nil
	default:
		return 0, fmt.Errorf("unknown operation kind %q", k)
	}
}

// IsClone reports whether the kind copies a warehouse object.
func (k Kind) IsClone() bool {
	return k == KindCloneDatabase || k == KindCloneSchema || k == KindCloneTable
}

// Operation is one remote operation. The set of implementations is closed:
// only the types in this package satisfy it.
type Operation interface {
	Kind() Kind
	// Source identifies what the operation reads from or grants.
	Source() string
	// Target identifies the object the operation creates or changes.
	Target() string
	// Objects lists every object name the operation touches.
	Objects() []string
	// Params carries the operation-specific parameters.
	Params() map[string]string
	// Validate checks the operation is fully specified.
	Validate() error

	sealed()
}

// CloneType selects how a clone captures its source.
type CloneType string

const (
	CloneZeroCopy    CloneType = "zero_copy"
	ClonePointInTime CloneType = "point_in_time"
)

// ParseCloneType accepts both the canonical names and the ZERO_COPY/AT_TIME config spellings.
func ParseCloneType(s string) (CloneType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ZERO_COPY", "ZERO-COPY":
		return CloneZeroCopy, nil
	case "AT_TIME", "POINT_IN_TIME", "POINT-IN-TIME":
		return ClonePointInTime, nil
	default:
		return "", fmt.Errorf("unknown clone type %q (expected ZERO_COPY or AT_TIME)", s)
	}
}

// Mode describes how a clone is taken.
type Mode struct {
	Type        CloneType
	AtTimestamp string
}

func (m Mode) validate() error {
	switch m.Type {
	case CloneZeroCopy, "":
		return nil
	case ClonePointInTime:
		if m.AtTimestamp == "" {
			return fmt.Errorf("point-in-time clone requires a timestamp")
		}
		return nil
	default:
		return fmt.Errorf("unknown clone type %q", m.Type)
	}
}

func (m Mode) params(p map[string]string) {
	t := m.Type
	if t == "" {
		t = CloneZeroCopy
	}
	p["clone_type"] = string(t)
	if m.AtTimestamp != "" {
		p["at_timestamp"] = m.AtTimestamp
	}
}

// CloneDatabase copies a whole database.
type CloneDatabase struct {
	SourceDatabase string
	TargetDatabase string
	Mode           Mode
	// IdempotentSkip turns "target already exists" into a no-op success.
	IdempotentSkip bool
}

func (o CloneDatabase) Kind() Kind         { return KindCloneDatabase }
func (o CloneDatabase) Source() string     { return o.SourceDatabase }
func (o CloneDatabase) Target() string     { return o.TargetDatabase }
func (o CloneDatabase) Objects() []string  { return []string{o.SourceDatabase, o.TargetDatabase} }
func (o CloneDatabase) sealed()            {}
func (o CloneDatabase) Params() map[string]string {
	p := map[string]string{}
	o.Mode.params(p)
	if o.IdempotentSkip {
		p["idempotent_skip"] = "true"
	}
	return p
}

func (o CloneDatabase) Validate() error {
	if o.SourceDatabase == "" || o.TargetDatabase == "" {
		return fmt.Errorf("clone database requires source and target")
	}
	if strings.EqualFold(o.SourceDatabase, o.TargetDatabase) {
		return fmt.Errorf("clone database source and target are both %s", o.SourceDatabase)
	}
	return o.Mode.validate()
}

// CloneSchema copies one schema, optionally under a new name.
type CloneSchema struct {
	SourceDatabase string
	SourceSchema   string
	TargetDatabase string
	TargetSchema   string
	Mode           Mode
	IdempotentSkip bool
	// EnsureDatabase creates the target database first when nothing else
	// in the plan clones it.
	EnsureDatabase bool
}

func (o CloneSchema) Kind() Kind     { return KindCloneSchema }
func (o CloneSchema) Source() string { return QualifiedName(o.SourceDatabase, o.SourceSchema) }
func (o CloneSchema) Target() string {
	return QualifiedName(o.TargetDatabase, firstNonEmpty(o.TargetSchema, o.SourceSchema))
}
func (o CloneSchema) Objects() []string {
	return []string{o.SourceDatabase, o.Source(), o.TargetDatabase, o.Target()}
}
func (o CloneSchema) sealed() {}
func (o CloneSchema) Params() map[string]string {
	p := map[string]string{}
	o.Mode.params(p)
	if o.IdempotentSkip {
		p["idempotent_skip"] = "true"
	}
	if o.EnsureDatabase {
		p["ensure_database"] = "true"
	}
	return p
}

func (o CloneSchema) Validate() error {
	if o.SourceDatabase == "" || o.SourceSchema == "" || o.TargetDatabase == "" {
		return fmt.Errorf("clone schema requires source database, source schema and target database")
	}
	if strings.EqualFold(o.Source(), o.Target()) {
		return fmt.Errorf("clone schema source and target are both %s", o.Source())
	}
	return o.Mode.validate()
}

// CloneTable copies one table, optionally under a new schema or name.
type CloneTable struct {
	SourceDatabase string
	SourceSchema   string
	SourceTable    string
	TargetDatabase string
	TargetSchema   string
	TargetTable    string
	Mode           Mode
	IdempotentSkip bool
	EnsureDatabase bool
	// EnsureSchema creates the target schema first when nothing else in the
	// plan clones it.
	EnsureSchema bool
}

func (o CloneTable) Kind() Kind { return KindCloneTable }
func (o CloneTable) Source() string {
	return QualifiedName(o.SourceDatabase, o.SourceSchema, o.SourceTable)
}
func (o CloneTable) Target() string {
	return QualifiedName(o.TargetDatabase, o.EffectiveTargetSchema(), firstNonEmpty(o.TargetTable, o.SourceTable))
}
func (o CloneTable) Objects() []string {
	return []string{
		o.SourceDatabase, QualifiedName(o.SourceDatabase, o.SourceSchema), o.Source(),
		o.TargetDatabase, QualifiedName(o.TargetDatabase, o.EffectiveTargetSchema()), o.Target(),
	}
}
func (o CloneTable) sealed() {}
func (o CloneTable) Params() map[string]string {
	p := map[string]string{}
	o.Mode.params(p)
	if o.IdempotentSkip {
		p["idempotent_skip"] = "true"
	}
	if o.EnsureDatabase {
		p["ensure_database"] = "true"
	}
	if o.EnsureSchema {
		p["ensure_schema"] = "true"
	}
	return p
}

// EffectiveTargetSchema defaults the target schema to the source schema.
func (o CloneTable) EffectiveTargetSchema() string {
	return firstNonEmpty(o.TargetSchema, o.SourceSchema)
}

func (o CloneTable) Validate() error {
	if o.SourceDatabase == "" || o.SourceSchema == "" || o.SourceTable == "" || o.TargetDatabase == "" {
		return fmt.Errorf("clone table requires source database, schema, table and target database")
	}
	if strings.EqualFold(o.Source(), o.Target()) {
		return fmt.Errorf("clone table source and target are both %s", o.Source())
	}
	return o.Mode.validate()
}

// CreateRole creates an account role.
type CreateRole struct {
	Name    string
	Comment string
}

func (o CreateRole) Kind() Kind        { return KindCreateRole }
func (o CreateRole) Source() string    { return "" }
func (o CreateRole) Target() string    { return o.Name }
func (o CreateRole) Objects() []string { return []string{o.Name} }
func (o CreateRole) sealed()           {}
func (o CreateRole) Params() map[string]string {
	p := map[string]string{}
	if o.Comment != "" {
		p["comment"] = o.Comment
	}
	return p
}

func (o CreateRole) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("create role requires a name")
	}
	return nil
}

// GrantPrivilege grants a privilege on an object, or an object pattern, to a role.
type GrantPrivilege struct {
	Role       string
	Privilege  string
	ObjectType ObjectType
	// Object is a dotted name; "*" segments match every object at that level.
	Object string
}

func (o GrantPrivilege) Kind() Kind { return KindGrantPrivilege }
func (o GrantPrivilege) Source() string {
	return fmt.Sprintf("%s ON %s %s", strings.ToUpper(o.Privilege), o.ObjectType, o.Object)
}
func (o GrantPrivilege) Target() string    { return o.Role }
func (o GrantPrivilege) Objects() []string { return []string{o.Object, o.Role} }
func (o GrantPrivilege) sealed()           {}
func (o GrantPrivilege) Params() map[string]string {
	return map[string]string{
		"privilege":   strings.ToUpper(o.Privilege),
		"object_type": string(o.ObjectType),
		"object":      o.Object,
	}
}

// Database returns the database segment of the object pattern, or "" for
// objects outside any database (warehouses) or wildcard databases.
func (o GrantPrivilege) Database() string {
	if o.ObjectType == ObjectWarehouse {
		return ""
	}
	db := SplitName(o.Object)[0]
	if db == "*" {
		return ""
	}
	return db
}

func (o GrantPrivilege) Validate() error {
	if o.Role == "" || o.Privilege == "" || o.Object == "" {
		return fmt.Errorf("grant privilege requires role, privilege and object")
	}
	if _, err := ParseObjectType(string(o.ObjectType)); err != nil {
		return err
	}
	parts := SplitName(o.Object)
	if want := o.ObjectType.Depth(); want > 0 && len(parts) != want {
		return fmt.Errorf("%s object %q must have %d dotted parts", o.ObjectType, o.Object, want)
	}
	return nil
}

// GrantRole is a role-hierarchy edge: Grantee inherits every privilege of Role.
type GrantRole struct {
	Role    string
	Grantee string
}

func (o GrantRole) Kind() Kind        { return KindGrantRole }
func (o GrantRole) Source() string    { return o.Role }
func (o GrantRole) Target() string    { return o.Grantee }
func (o GrantRole) Objects() []string { return []string{o.Role, o.Grantee} }
func (o GrantRole) sealed()           {}
func (o GrantRole) Params() map[string]string {
	return map[string]string{}
}

func (o GrantRole) Validate() error {
	if o.Role == "" || o.Grantee == "" {
		return fmt.Errorf("grant role requires role and grantee")
	}
	if strings.EqualFold(o.Role, o.Grantee) {
		return fmt.Errorf("role %s cannot be granted to itself", o.Role)
	}
	return nil
}

// AssignUser grants a role to a user.
type AssignUser struct {
	User string
	Role string
}

func (o AssignUser) Kind() Kind        { return KindAssignUser }
func (o AssignUser) Source() string    { return o.Role }
func (o AssignUser) Target() string    { return o.User }
func (o AssignUser) Objects() []string { return []string{o.User, o.Role} }
func (o AssignUser) sealed()           {}
func (o AssignUser) Params() map[string]string {
	return map[string]string{}
}

func (o AssignUser) Validate() error {
	if o.User == "" || o.Role == "" {
		return fmt.Errorf("assign user requires user and role")
	}
	return nil
}

// Key identifies an operation within a plan: one step per (kind, source, target).
func Key(op Operation) string {
	return fmt.Sprintf("%s|%s|%s", op.Kind(), strings.ToUpper(op.Source()), strings.ToUpper(op.Target()))
}

// Label is a short human-readable description.
func Label(op Operation) string {
	switch o := op.(type) {
	case CloneDatabase:
		return fmt.Sprintf("clone database %s -> %s", o.SourceDatabase, o.TargetDatabase)
	case CloneSchema:
		return fmt.Sprintf("clone schema %s -> %s", o.Source(), o.Target())
	case CloneTable:
		return fmt.Sprintf("clone table %s -> %s", o.Source(), o.Target())
	case CreateRole:
		return fmt.Sprintf("create role %s", o.Name)
	case GrantPrivilege:
		return fmt.Sprintf("grant %s to role %s", o.Source(), o.Role)
	case GrantRole:
		return fmt.Sprintf("grant role %s to role %s", o.Role, o.Grantee)
	case AssignUser:
		return fmt.Sprintf("grant role %s to user %s", o.Role, o.User)
	default:
		return fmt.Sprintf("%s %s -> %s", op.Kind(), op.Source(), op.Target())
	}
}

// IdempotentSkip reports whether an existing target is an acceptable outcome.
func IdempotentSkip(op Operation) bool {
	switch o := op.(type) {
	case CloneDatabase:
		return o.IdempotentSkip
	case CloneSchema:
		return o.IdempotentSkip
	case CloneTable:
		return o.IdempotentSkip
	default:
		return false
	}
}

// QualifiedName joins non-empty name parts with dots.
func QualifiedName(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}

// SplitName splits a dotted identifier.
func SplitName(name string) []string {
	return strings.Split(name, ".")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
