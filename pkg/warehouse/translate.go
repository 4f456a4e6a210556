package warehouse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/davidthor/clonectl/pkg/operation"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// Translate renders an operation as a Snowflake-dialect statement, with a
// prelude when a clone has to create its target container first. The output
// is deterministic for a given operation.
func Translate(op operation.Operation) (Statement, error) {
	if err := op.Validate(); err != nil {
		return Statement{}, err
	}

	switch o := op.(type) {
	case operation.CloneDatabase:
		return clone("DATABASE", o.Target(), o.Source(), o.Mode)

	case operation.CloneSchema:
		stmt, err := clone("SCHEMA", o.Target(), o.Source(), o.Mode)
		if err != nil || !o.EnsureDatabase {
			return stmt, err
		}
		stmt.Prelude, err = ensureContainers(o.TargetDatabase, "")
		return stmt, err

	case operation.CloneTable:
		stmt, err := clone("TABLE", o.Target(), o.Source(), o.Mode)
		if err != nil {
			return stmt, err
		}
		database, schema := "", ""
		if o.EnsureDatabase {
			database = o.TargetDatabase
		}
		if o.EnsureSchema {
			schema = operation.QualifiedName(o.TargetDatabase, o.EffectiveTargetSchema())
		}
		stmt.Prelude, err = ensureContainers(database, schema)
		return stmt, err

	case operation.CreateRole:
		if err := CheckName(o.Name); err != nil {
			return Statement{}, err
		}
		sql := "CREATE ROLE IF NOT EXISTS " + o.Name
		if o.Comment != "" {
			sql += " COMMENT = " + quote(o.Comment)
		}
		return Statement{SQL: sql}, nil

	case operation.GrantPrivilege:
		return grantPrivilege(o)

	case operation.GrantRole:
		if err := CheckName(o.Role, o.Grantee); err != nil {
			return Statement{}, err
		}
		return Statement{SQL: fmt.Sprintf("GRANT ROLE %s TO ROLE %s", o.Role, o.Grantee)}, nil

	case operation.AssignUser:
		if err := CheckName(o.Role, o.User); err != nil {
			return Statement{}, err
		}
		return Statement{SQL: fmt.Sprintf("GRANT ROLE %s TO USER %s", o.Role, o.User)}, nil

	default:
		return Statement{}, fmt.Errorf("no statement for operation kind %q", op.Kind())
	}
}

func clone(objectType, target, source string, mode operation.Mode) (Statement, error) {
	if err := CheckName(target, source); err != nil {
		return Statement{}, err
	}
	sql := fmt.Sprintf("CREATE %s %s CLONE %s", objectType, target, source)
	if mode.Type == operation.ClonePointInTime {
		sql += fmt.Sprintf(" AT (TIMESTAMP => %s)", quote(mode.AtTimestamp))
	}
	return Statement{SQL: sql}, nil
}

// ensureContainers creates a database and/or a qualified schema when missing.
func ensureContainers(database, schema string) ([]string, error) {
	var prelude []string
	if database != "" {
		if err := CheckName(database); err != nil {
			return nil, err
		}
		prelude = append(prelude, "CREATE DATABASE IF NOT EXISTS "+database)
	}
	if schema != "" {
		if err := CheckName(schema); err != nil {
			return nil, err
		}
		prelude = append(prelude, "CREATE SCHEMA IF NOT EXISTS "+schema)
	}
	return prelude, nil
}

// grantPrivilege renders literal objects as ON <TYPE> <name> and trailing
// wildcard patterns as bulk grants (ON ALL TABLES IN SCHEMA db.schema).
func grantPrivilege(o operation.GrantPrivilege) (Statement, error) {
	if err := CheckName(o.Role); err != nil {
		return Statement{}, err
	}

	privilege := strings.ToUpper(strings.TrimSpace(o.Privilege))
	if privilege == "ALL" {
		privilege = "ALL PRIVILEGES"
	}
	for _, word := range strings.Fields(privilege) {
		if !identifierPattern.MatchString(word) {
			return Statement{}, fmt.Errorf("invalid privilege %q", o.Privilege)
		}
	}

	parts := operation.SplitName(o.Object)
	wildcard := -1
	for i, p := range parts {
		if p == "*" {
			if wildcard < 0 {
				wildcard = i
			}
			continue
		}
		if wildcard >= 0 {
			return Statement{}, fmt.Errorf("object pattern %q: wildcards must be trailing", o.Object)
		}
		if !identifierPattern.MatchString(p) {
			return Statement{}, fmt.Errorf("invalid identifier %q in %q", p, o.Object)
		}
	}

	var on string
	switch {
	case wildcard < 0:
		on = fmt.Sprintf("%s %s", o.ObjectType, o.Object)
	case wildcard == 0:
		return Statement{}, fmt.Errorf("object pattern %q: a database must be named", o.Object)
	case wildcard == 1:
		on = fmt.Sprintf("ALL %s IN DATABASE %s", o.ObjectType.Plural(), parts[0])
	case wildcard == 2 && o.ObjectType.Depth() == 3:
		on = fmt.Sprintf("ALL %s IN SCHEMA %s", o.ObjectType.Plural(), operation.QualifiedName(parts[0], parts[1]))
	default:
		return Statement{}, fmt.Errorf("object pattern %q cannot be granted on %s", o.Object, o.ObjectType)
	}

	return Statement{SQL: fmt.Sprintf("GRANT %s ON %s TO ROLE %s", privilege, on, o.Role)}, nil
}

// CheckName rejects anything that is not a plain, optionally dotted, identifier.
func CheckName(names ...string) error {
	for _, name := range names {
		for _, part := range operation.SplitName(name) {
			if !identifierPattern.MatchString(part) {
				return fmt.Errorf("invalid identifier %q", name)
			}
		}
	}
	return nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
