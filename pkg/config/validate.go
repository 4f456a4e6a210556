package config

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/davidthor/clonectl/pkg/engine/executor"
	"github.com/davidthor/clonectl/pkg/errors"
	"github.com/davidthor/clonectl/pkg/operation"
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	// Report YAML key names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks required fields, enumerations and every value that is
// parsed later (durations, the window, clone types and object types).
// All problems are reported together in the error's "fields" detail.
func (c *Config) Validate() error {
	fields := map[string]string{}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !stderrors.As(err, &verrs) {
			return errors.Wrap(errors.ErrCodeValidation, "configuration validation failed", err)
		}
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fieldMessage(fe)
		}
	}

	check := func(path string, err error) {
		if err != nil {
			if _, seen := fields[path]; !seen {
				fields[path] = err.Error()
			}
		}
	}

	check("cloning.default_clone_type", parseCloneType(c.Cloning.DefaultCloneType))
	for i, d := range c.Databases {
		check(fmt.Sprintf("databases[%d].clone_type", i), parseCloneType(d.CloneType))
	}
	for i, s := range c.Schemas {
		check(fmt.Sprintf("schemas[%d].clone_type", i), parseCloneType(s.CloneType))
	}
	for i, t := range c.Tables {
		check(fmt.Sprintf("tables[%d].clone_type", i), parseCloneType(t.CloneType))
	}

	check("execution.step_timeout", parseDuration(c.Execution.StepTimeout))
	check("execution.retry.initial_backoff", parseDuration(c.Execution.Retry.InitialBackoff))
	check("execution.retry.max_backoff", parseDuration(c.Execution.Retry.MaxBackoff))
	if w := c.Execution.Window; w != nil && w.Start != "" && w.End != "" {
		_, err := executor.ParseWindow(w.Start, w.End, w.Timezone)
		check("execution.window", err)
	}

	for _, group := range c.roleGroups() {
		for i, role := range group.roles {
			for _, pg := range role.Privileges.grants() {
				path := fmt.Sprintf("rbac.%s[%d].privileges.%s", group.key, i, pg.section)
				for _, obj := range pg.grant.Objects {
					check(path, (operation.GrantPrivilege{
						Role:       role.Name,
						Privilege:  pg.grant.Privilege,
						ObjectType: pg.objectType,
						Object:     obj,
					}).Validate())
				}
			}
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return errors.ValidationError(
		fmt.Sprintf("configuration has %d invalid field(s)", len(fields)),
		map[string]interface{}{"fields": fields},
	)
}

func parseCloneType(s string) error {
	_, err := operation.ParseCloneType(s)
	return err
}

func parseDuration(s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return fmt.Errorf("duration %q must not be negative", s)
	}
	return nil
}

// fieldPath drops the leading struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s item(s)", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
