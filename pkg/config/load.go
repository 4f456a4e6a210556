package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/davidthor/clonectl/pkg/errors"
	"github.com/davidthor/clonectl/pkg/secrets"
	"github.com/davidthor/clonectl/pkg/template"
)

// TargetDatabaseVar is defaulted to the single distinct clone target database
// when no other source defines it.
const TargetDatabaseVar = "TARGET_DATABASE"

// Source is a parsed but unresolved configuration document.
type Source struct {
	Path string
	doc  map[string]interface{}
}

// ResolveOptions select a template and supply variables for Resolve.
type ResolveOptions struct {
	// Template names an entry of operation_templates. Empty applies the
	// top-level databases, schemas, tables and rbac sections.
	Template string

	// Vars are command-line variables; they override every other source.
	Vars map[string]string

	// Secrets resolves ${secret:...} references in the warehouse section
	// before placeholders are expanded. Nil leaves them in place.
	Secrets *secrets.Manager
}

// Load reads and parses a configuration file.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ParseError(path, err)
	}
	return Parse(path, data)
}

// Parse parses configuration YAML. path is only used in error messages.
func Parse(path string, data []byte) (*Source, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.ParseError(path, err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return &Source{Path: path, doc: doc}, nil
}

// Templates lists the names of the operation templates, sorted.
func (s *Source) Templates() []string {
	tpls, _ := s.doc["operation_templates"].(map[string]interface{})
	names := make([]string, 0, len(tpls))
	for name := range tpls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Variables returns the merged variables Resolve would use, without resolving.
func (s *Source) Variables(opts ResolveOptions) (map[string]string, error) {
	doc, err := s.selectTemplate(opts.Template)
	if err != nil {
		return nil, err
	}
	return s.variables(doc, opts)
}

// Resolve selects the requested template, expands every placeholder and
// decodes the result into a validated Config.
func (s *Source) Resolve(ctx context.Context, opts ResolveOptions) (*Config, error) {
	doc, err := s.selectTemplate(opts.Template)
	if err != nil {
		return nil, err
	}

	vars, err := s.variables(doc, opts)
	if err != nil {
		return nil, err
	}

	if opts.Secrets != nil {
		if err := resolveSecrets(ctx, doc, opts.Secrets); err != nil {
			return nil, err
		}
	}

	// Templates are decoded unresolved; their placeholders belong to a
	// different selection.
	rawTemplates := doc["operation_templates"]
	delete(doc, "operation_templates")
	delete(doc, "variables")

	resolved, err := template.Resolve(doc, vars)
	if err != nil {
		return nil, err
	}

	out := resolved.(map[string]interface{})
	if rawTemplates != nil {
		out["operation_templates"] = rawTemplates
	}

	cfg, err := decode(s.Path, out)
	if err != nil {
		return nil, err
	}
	cfg.Variables = vars
	cfg.Template = opts.Template

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// selectTemplate returns a copy of the document with the named template's
// sections in place of the top-level ones.
func (s *Source) selectTemplate(name string) (map[string]interface{}, error) {
	doc := make(map[string]interface{}, len(s.doc))
	for k, v := range s.doc {
		doc[k] = v
	}
	if name == "" {
		return doc, nil
	}

	tpls, _ := s.doc["operation_templates"].(map[string]interface{})
	tpl, ok := tpls[name].(map[string]interface{})
	if !ok {
		return nil, errors.NotFoundError("operation template", name).
			WithDetail("available", s.Templates())
	}

	for _, section := range []string{"databases", "schemas", "tables"} {
		if v, ok := tpl[section]; ok {
			doc[section] = v
		} else {
			delete(doc, section)
		}
	}
	if apply, _ := tpl["rbac_apply"].(bool); !apply {
		delete(doc, "rbac")
	}
	return doc, nil
}

// variables merges config variables, template variables and command-line
// variables, later sources winning.
func (s *Source) variables(doc map[string]interface{}, opts ResolveOptions) (map[string]string, error) {
	vars := map[string]string{}

	if err := mergeVars(vars, s.doc["variables"], "variables"); err != nil {
		return nil, err
	}
	if opts.Template != "" {
		tpls, _ := s.doc["operation_templates"].(map[string]interface{})
		tpl, _ := tpls[opts.Template].(map[string]interface{})
		if err := mergeVars(vars, tpl["variables"], "operation_templates."+opts.Template+".variables"); err != nil {
			return nil, err
		}
	}
	for k, v := range opts.Vars {
		vars[k] = v
	}

	if _, ok := vars[TargetDatabaseVar]; !ok {
		if targets := targetDatabases(doc); len(targets) == 1 {
			vars[TargetDatabaseVar] = targets[0]
		}
	}
	return vars, nil
}

func mergeVars(into map[string]string, raw interface{}, path string) error {
	if raw == nil {
		return nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return errors.ValidationError(fmt.Sprintf("%s must be a mapping", path), map[string]interface{}{"path": path})
	}
	for k, v := range m {
		switch val := v.(type) {
		case string:
			into[k] = val
		case nil:
			into[k] = ""
		case map[string]interface{}, []interface{}:
			return errors.ValidationError(fmt.Sprintf("%s.%s must be a scalar", path, k), map[string]interface{}{"path": path + "." + k})
		default:
			into[k] = fmt.Sprint(val)
		}
	}
	return nil
}

// targetDatabases lists the distinct concrete clone target databases.
// Values still carrying placeholders are ignored.
func targetDatabases(doc map[string]interface{}) []string {
	seen := map[string]bool{}
	var out []string
	add := func(v interface{}) {
		s, ok := v.(string)
		if !ok || s == "" || strings.Contains(s, "${") {
			return
		}
		key := strings.ToUpper(s)
		if !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}

	for _, section := range []struct{ name, field string }{
		{"databases", "target"},
		{"schemas", "target_db"},
		{"tables", "target_db"},
	} {
		items, _ := doc[section.name].([]interface{})
		for _, item := range items {
			if m, ok := item.(map[string]interface{}); ok {
				add(m[section.field])
			}
		}
	}
	return out
}

func resolveSecrets(ctx context.Context, doc map[string]interface{}, m *secrets.Manager) error {
	wh, ok := doc["warehouse"].(map[string]interface{})
	if !ok {
		return nil
	}
	resolved, err := m.ResolveSecrets(ctx, wh)
	if err != nil {
		return errors.Wrap(errors.ErrCodeValidation, "failed to resolve secrets in warehouse", err).
			WithDetail("path", "warehouse")
	}
	doc["warehouse"] = resolved
	return nil
}

// decode round-trips the resolved document through YAML into Config,
// rejecting unknown keys.
func decode(path string, doc map[string]interface{}) (*Config, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.ParseError(path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.ParseError(path, err)
	}
	return &cfg, nil
}
