package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/davidthor/clonectl/pkg/operation"
	"github.com/davidthor/clonectl/pkg/warehouse"
	"go.uber.org/zap"
)

// Table is one table or view reported by INFORMATION_SCHEMA.
type Table struct {
	Schema string `json:"schema" yaml:"schema"`
	Name   string `json:"name" yaml:"name"`
	Kind   string `json:"kind,omitempty" yaml:"kind,omitempty"`

	// RowCount is -1 when the warehouse does not report one (views)
	RowCount int64 `json:"row_count" yaml:"row_count"`
}

// RelativeName is the schema-qualified name, upper-cased.
func (t Table) RelativeName() string {
	return strings.ToUpper(operation.QualifiedName(t.Schema, t.Name))
}

// Schema groups the tables of one schema.
type Schema struct {
	Name   string  `json:"name" yaml:"name"`
	Tables []Table `json:"tables" yaml:"tables"`
}

// Structure describes a database as discovered.
type Structure struct {
	Database     string    `json:"database" yaml:"database"`
	Schemas      []Schema  `json:"schemas" yaml:"schemas"`
	TotalTables  int       `json:"total_tables" yaml:"total_tables"`
	DiscoveredAt time.Time `json:"discovered_at" yaml:"discovered_at"`
}

// Grant is one row of SHOW GRANTS TO ROLE.
type Grant struct {
	Role       string
	Privilege  string
	ObjectType string
	Object     string
}

// Introspector reads warehouse metadata. It only issues read-only statements.
type Introspector struct {
	client warehouse.Client
	logger *zap.Logger
}

// NewIntrospector creates an introspector over client.
func NewIntrospector(client warehouse.Client, logger *zap.Logger) *Introspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Introspector{client: client, logger: logger}
}

// Tables lists the tables of a database, optionally restricted to one schema.
func (i *Introspector) Tables(ctx context.Context, database, schema string) ([]Table, error) {
	if err := warehouse.CheckName(database); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE, ROW_COUNT FROM %s.INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA <> 'INFORMATION_SCHEMA'",
		database)
	if schema != "" {
		if err := warehouse.CheckName(schema); err != nil {
			return nil, err
		}
		query += fmt.Sprintf(" AND TABLE_SCHEMA = '%s'", strings.ToUpper(schema))
	}
	query += " ORDER BY TABLE_SCHEMA, TABLE_NAME"

	res, err := warehouse.Query(ctx, i.client, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables in %s: %w", database, err)
	}

	schemaCol := res.Column("TABLE_SCHEMA")
	nameCol := res.Column("TABLE_NAME")
	kindCol := res.Column("TABLE_TYPE")
	rowsCol := res.Column("ROW_COUNT")
	if schemaCol < 0 || nameCol < 0 {
		return nil, fmt.Errorf("unexpected INFORMATION_SCHEMA.TABLES columns %v", res.Columns)
	}

	tables := make([]Table, 0, len(res.Rows))
	for row := range res.Rows {
		tables = append(tables, Table{
			Schema:   res.String(row, schemaCol),
			Name:     res.String(row, nameCol),
			Kind:     res.String(row, kindCol),
			RowCount: res.Int(row, rowsCol),
		})
	}
	return tables, nil
}

// Grants lists the privileges granted directly to role.
func (i *Introspector) Grants(ctx context.Context, role string) ([]Grant, error) {
	if err := warehouse.CheckName(role); err != nil {
		return nil, err
	}

	res, err := warehouse.Query(ctx, i.client, "SHOW GRANTS TO ROLE "+role)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants to role %s: %w", role, err)
	}

	privCol := res.Column("privilege")
	onCol := res.Column("granted_on")
	nameCol := res.Column("name")
	if privCol < 0 || onCol < 0 || nameCol < 0 {
		return nil, fmt.Errorf("unexpected SHOW GRANTS columns %v", res.Columns)
	}

	grants := make([]Grant, 0, len(res.Rows))
	for row := range res.Rows {
		grants = append(grants, Grant{
			Role:       strings.ToUpper(role),
			Privilege:  strings.ToUpper(res.String(row, privCol)),
			ObjectType: strings.ToUpper(res.String(row, onCol)),
			Object:     strings.ReplaceAll(res.String(row, nameCol), `"`, ""),
		})
	}
	return grants, nil
}

// Discover returns the schemas and tables of a database.
func (i *Introspector) Discover(ctx context.Context, database string) (*Structure, error) {
	i.logger.Info("discovering structure", zap.String("database", database))

	tables, err := i.Tables(ctx, database, "")
	if err != nil {
		return nil, err
	}

	bySchema := map[string][]Table{}
	for _, t := range tables {
		bySchema[t.Schema] = append(bySchema[t.Schema], t)
	}
	names := make([]string, 0, len(bySchema))
	for name := range bySchema {
		names = append(names, name)
	}
	sort.Strings(names)

	structure := &Structure{
		Database:     strings.ToUpper(database),
		TotalTables:  len(tables),
		DiscoveredAt: time.Now().UTC(),
	}
	for _, name := range names {
		structure.Schemas = append(structure.Schemas, Schema{Name: name, Tables: bySchema[name]})
	}

	i.logger.Info("discovery complete",
		zap.String("database", database),
		zap.Int("schemas", len(structure.Schemas)),
		zap.Int("tables", structure.TotalTables))
	return structure, nil
}
