// Package config loads clone and RBAC configuration files.
//
// A file is read as a nested YAML mapping, every ${NAME} placeholder is
// resolved, and only then is it decoded into the typed structures below and
// validated. Nothing in this package talks to the warehouse.
package config

// Config is a fully resolved configuration.
type Config struct {
	Warehouse  WarehouseConfig   `yaml:"warehouse"`
	Variables  map[string]string `yaml:"variables,omitempty"`
	Cloning    CloningConfig     `yaml:"cloning"`
	Execution  ExecutionConfig   `yaml:"execution"`
	Validation ValidationConfig  `yaml:"validation"`

	Databases []DatabaseClone `yaml:"databases,omitempty" validate:"dive"`
	Schemas   []SchemaClone   `yaml:"schemas,omitempty" validate:"dive"`
	Tables    []TableClone    `yaml:"tables,omitempty" validate:"dive"`

	RBAC RBACConfig `yaml:"rbac"`

	// Templates are kept unresolved; only the selected one is applied.
	Templates map[string]OperationTemplate `yaml:"operation_templates,omitempty" validate:"-"`

	// Template names the operation template this config was resolved for.
	Template string `yaml:"-"`
}

// WarehouseConfig locates the warehouse and its credentials.
type WarehouseConfig struct {
	Driver string `yaml:"driver,omitempty" validate:"omitempty,oneof=snowflake postgres"`
	DSN    string `yaml:"dsn,omitempty"`

	// PasswordEnv names an environment (or .env) variable holding the password
	PasswordEnv string `yaml:"password_env,omitempty"`

	// PasswordSecret is an AWS Secrets Manager ID, optionally "id#field"
	PasswordSecret string `yaml:"password_secret,omitempty"`
	Region         string `yaml:"region,omitempty"`

	MaxOpenConns int `yaml:"max_open_conns,omitempty" validate:"gte=0"`
}

// CloningConfig holds defaults applied to every clone request.
type CloningConfig struct {
	DefaultCloneType string `yaml:"default_clone_type,omitempty"`
	AtTime           string `yaml:"at_time,omitempty"`
	IdempotentSkip   bool   `yaml:"idempotent_skip,omitempty"`
}

// ExecutionConfig controls retries, failure handling and the operation window.
type ExecutionConfig struct {
	FailurePolicy string        `yaml:"failure_policy,omitempty" validate:"omitempty,oneof=abort-remaining continue-best-effort"`
	StepTimeout   string        `yaml:"step_timeout,omitempty"`
	Retry         RetryConfig   `yaml:"retry"`
	Window        *WindowConfig `yaml:"window,omitempty"`
}

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts,omitempty" validate:"gte=0,lte=20"`
	InitialBackoff string  `yaml:"initial_backoff,omitempty"`
	MaxBackoff     string  `yaml:"max_backoff,omitempty"`
	Multiplier     float64 `yaml:"multiplier,omitempty" validate:"omitempty,gte=1"`
}

// WindowConfig is a daily HH:MM range in which steps may start.
type WindowConfig struct {
	Start    string `yaml:"start" validate:"required"`
	End      string `yaml:"end" validate:"required"`
	Timezone string `yaml:"timezone,omitempty"`
}

// ValidationConfig sets the row-count tolerance of the validator.
type ValidationConfig struct {
	RowCountTolerance int64   `yaml:"row_count_tolerance,omitempty" validate:"gte=0"`
	RowCountRatio     float64 `yaml:"row_count_ratio,omitempty" validate:"gte=0,lte=1"`
}

// CloneOptions are the per-request overrides shared by every clone kind.
type CloneOptions struct {
	CloneType      string `yaml:"clone_type,omitempty"`
	AtTime         string `yaml:"at_time,omitempty"`
	IdempotentSkip *bool  `yaml:"idempotent_skip,omitempty"`
}

// DatabaseClone requests a database clone.
type DatabaseClone struct {
	Source       string `yaml:"source" validate:"required"`
	Target       string `yaml:"target" validate:"required"`
	CloneOptions `yaml:",inline"`
}

// SchemaClone requests a schema clone.
type SchemaClone struct {
	SourceDB     string `yaml:"source_db" validate:"required"`
	SourceSchema string `yaml:"source_schema" validate:"required"`
	TargetDB     string `yaml:"target_db" validate:"required"`
	TargetSchema string `yaml:"target_schema,omitempty"`
	CloneOptions `yaml:",inline"`
}

// TableClone requests a table clone.
type TableClone struct {
	SourceDB     string `yaml:"source_db" validate:"required"`
	SourceSchema string `yaml:"source_schema" validate:"required"`
	SourceTable  string `yaml:"source_table" validate:"required"`
	TargetDB     string `yaml:"target_db" validate:"required"`
	TargetSchema string `yaml:"target_schema,omitempty"`
	TargetTable  string `yaml:"target_table,omitempty"`
	CloneOptions `yaml:",inline"`
}

// RBACConfig declares roles, their privileges, the hierarchy and user grants.
type RBACConfig struct {
	// CreateRoles is the default for roles without an explicit create flag.
	// Defaults to true.
	CreateRoles *bool `yaml:"create_roles,omitempty"`

	ExistingRoles   []string         `yaml:"existing_roles,omitempty"`
	ServiceRoles    []RoleConfig     `yaml:"service_roles,omitempty" validate:"dive"`
	SystemFullRoles []RoleConfig     `yaml:"system_full_roles,omitempty" validate:"dive"`
	CustomRoles     []RoleConfig     `yaml:"custom_roles,omitempty" validate:"dive"`
	RoleHierarchy   []HierarchyEdge  `yaml:"role_hierarchy,omitempty" validate:"dive"`
	UserAssignments []UserAssignment `yaml:"user_assignments,omitempty" validate:"dive"`
}

// RoleConfig is a role template.
type RoleConfig struct {
	Name        string       `yaml:"name" validate:"required"`
	Description string       `yaml:"description,omitempty"`
	Create      *bool        `yaml:"create,omitempty"`
	Privileges  PrivilegeSet `yaml:"privileges,omitempty"`
}

// PrivilegeSet groups grants by object type.
type PrivilegeSet struct {
	Databases  []PrivilegeGrant `yaml:"databases,omitempty" validate:"dive"`
	Schemas    []PrivilegeGrant `yaml:"schemas,omitempty" validate:"dive"`
	Tables     []PrivilegeGrant `yaml:"tables,omitempty" validate:"dive"`
	Views      []PrivilegeGrant `yaml:"views,omitempty" validate:"dive"`
	Warehouses []PrivilegeGrant `yaml:"warehouses,omitempty" validate:"dive"`
}

// PrivilegeGrant grants one privilege on each listed object pattern.
type PrivilegeGrant struct {
	Privilege string   `yaml:"privilege" validate:"required"`
	Objects   []string `yaml:"objects" validate:"required,min=1,dive,required"`
}

// HierarchyEdge makes parent inherit every child role.
type HierarchyEdge struct {
	Parent   string   `yaml:"parent" validate:"required"`
	Children []string `yaml:"children" validate:"required,min=1,dive,required"`
}

// UserAssignment grants roles to a user.
type UserAssignment struct {
	Username string   `yaml:"username" validate:"required"`
	Roles    []string `yaml:"roles" validate:"required,min=1,dive,required"`
}

// OperationTemplate is a named, reusable set of clone requests.
type OperationTemplate struct {
	Description string            `yaml:"description,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty"`
	Databases   []DatabaseClone   `yaml:"databases,omitempty"`
	Schemas     []SchemaClone     `yaml:"schemas,omitempty"`
	Tables      []TableClone      `yaml:"tables,omitempty"`

	// RBACApply keeps the rbac section when the template is selected
	RBACApply bool `yaml:"rbac_apply,omitempty"`
}
