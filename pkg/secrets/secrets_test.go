package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

func writeEnvFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestManager_EnvFileBeforeEnvironment(t *testing.T) {
	t.Setenv("WAREHOUSE_PASSWORD", "from-environment")
	t.Setenv("WAREHOUSE_USER", "svc_env")

	file, err := LoadFileProvider(writeEnvFile(t, ".env", "WAREHOUSE_PASSWORD=from-dotenv\n"))
	if err != nil {
		t.Fatalf("LoadFileProvider failed: %v", err)
	}
	m := NewManager()
	m.RegisterProvider(file)
	m.RegisterProvider(NewEnvProvider())

	ctx := context.Background()
	if v, err := m.Get(ctx, "WAREHOUSE_PASSWORD"); err != nil || v != "from-dotenv" {
		t.Errorf("WAREHOUSE_PASSWORD: got %q, %v", v, err)
	}
	if v, err := m.Get(ctx, "WAREHOUSE_USER"); err != nil || v != "svc_env" {
		t.Errorf("WAREHOUSE_USER should fall through to the environment: got %q, %v", v, err)
	}
	if _, err := m.Get(ctx, "WAREHOUSE_ROLE"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestManager_RegisterProviderTwiceKeepsOrder(t *testing.T) {
	m := NewManager()
	m.RegisterProvider(NewFileProvider(map[string]string{"k": "first"}))
	m.RegisterProvider(NewEnvProvider())
	m.RegisterProvider(NewFileProvider(map[string]string{"k": "second"}))

	if len(m.priority) != 2 || m.priority[0] != "file" {
		t.Fatalf("priority: got %v", m.priority)
	}
	if v, _ := m.Get(context.Background(), "k"); v != "second" {
		t.Errorf("re-registered provider should replace the first: got %q", v)
	}
}

func TestManager_ResolveSecrets(t *testing.T) {
	t.Setenv("CLONECTL_SECRET_DB_PASSWORD", "env-pass")

	m := NewManager()
	m.RegisterProvider(NewFileProvider(map[string]string{"db-password": "file-pass", "user": "svc_clone"}))
	m.RegisterProvider(NewEnvProvider())
	ctx := context.Background()

	warehouse := map[string]interface{}{
		"driver":       "snowflake",
		"dsn":          "${secret:user}:${secret:env:db-password}@myorg-myaccount?warehouse=COMPUTE_WH",
		"password_env": "WAREHOUSE_PASSWORD",
		"tags":         []interface{}{"${secret:file:db-password}", 3},
	}
	out, err := m.ResolveSecrets(ctx, warehouse)
	if err != nil {
		t.Fatalf("ResolveSecrets failed: %v", err)
	}
	if out["dsn"] != "svc_clone:env-pass@myorg-myaccount?warehouse=COMPUTE_WH" {
		t.Errorf("dsn: got %q", out["dsn"])
	}
	if out["password_env"] != "WAREHOUSE_PASSWORD" {
		t.Errorf("plain values must pass through: got %q", out["password_env"])
	}
	tags := out["tags"].([]interface{})
	if tags[0] != "file-pass" || tags[1] != 3 {
		t.Errorf("tags: got %v", tags)
	}
	if warehouse["dsn"] == out["dsn"] {
		t.Error("input map should not be modified")
	}

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"missing key", "${secret:nope}", "secret not found"},
		{"unknown provider", "${secret:vault:db-password}", `unknown secret provider "vault"`},
		{"missing in named provider", "${secret:file:other}", "secret not found"},
		{"unclosed reference", "user:${secret:db-password", "unclosed secret reference"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ResolveSecrets(ctx, map[string]interface{}{"dsn": tt.value})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestEnvProvider_Get(t *testing.T) {
	t.Setenv("CLONECTL_SECRET_API_KEY", "prefixed")
	t.Setenv("SNOWFLAKE_PASSWORD", "verbatim")

	p := NewEnvProvider()
	ctx := context.Background()
	if p.Name() != "env" {
		t.Errorf("Name: got %q", p.Name())
	}
	if v, _ := p.Get(ctx, "api-key"); v != "prefixed" {
		t.Errorf("api-key: got %q", v)
	}
	if v, _ := p.Get(ctx, "SNOWFLAKE_PASSWORD"); v != "verbatim" {
		t.Errorf("SNOWFLAKE_PASSWORD: got %q", v)
	}
	if _, err := p.Get(ctx, "missing-key"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestLoadFileProvider(t *testing.T) {
	base := writeEnvFile(t, ".env", "SNOWFLAKE_PASSWORD=base\nSNOWFLAKE_USER=svc_clone\n")
	local := writeEnvFile(t, ".env.local", "# override\nSNOWFLAKE_PASSWORD=\"local secret\"\n")

	p, err := LoadFileProvider(base, local)
	if err != nil {
		t.Fatalf("LoadFileProvider failed: %v", err)
	}

	ctx := context.Background()
	if v, _ := p.Get(ctx, "SNOWFLAKE_PASSWORD"); v != "local secret" {
		t.Errorf("later file should win: got %q", v)
	}
	if v, _ := p.Get(ctx, "SNOWFLAKE_USER"); v != "svc_clone" {
		t.Errorf("SNOWFLAKE_USER: got %q", v)
	}

	if _, err := LoadFileProvider(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing file")
	}
}

type fakeSecretsManager struct {
	secrets map[string]string
	err     error
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.secrets[aws.ToString(in.SecretId)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestAWSProvider(t *testing.T) {
	p := &AWSProvider{client: &fakeSecretsManager{secrets: map[string]string{
		"snowflake/clone": `{"password":"hunter2","port":443}`,
		"plain":           "value",
	}}}
	ctx := context.Background()

	tests := []struct {
		key     string
		want    string
		missing bool
	}{
		{key: "plain", want: "value"},
		{key: "snowflake/clone#password", want: "hunter2"},
		{key: "snowflake/clone#port", want: "443"},
		{key: "snowflake/clone#user", missing: true},
		{key: "nope", missing: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v, err := p.Get(ctx, tt.key)
			if tt.missing {
				if !errors.Is(err, ErrSecretNotFound) {
					t.Errorf("expected ErrSecretNotFound, got %v", err)
				}
				return
			}
			if err != nil || v != tt.want {
				t.Errorf("got %q, %v", v, err)
			}
		})
	}

	if _, err := p.Get(ctx, "plain#password"); err == nil || !strings.Contains(err.Error(), "not a JSON object") {
		t.Errorf("expected JSON error, got %v", err)
	}

	denied := &AWSProvider{client: &fakeSecretsManager{err: errors.New("AccessDeniedException")}}
	m := NewManager()
	m.RegisterProvider(denied)
	if _, err := m.Get(ctx, "plain"); err == nil || errors.Is(err, ErrSecretNotFound) || !strings.Contains(err.Error(), "provider aws") {
		t.Errorf("provider errors must not be treated as missing: got %v", err)
	}
}

func TestPromptPassword_NonTerminal(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := w.WriteString("s3cret\n"); err != nil {
		t.Fatal(err)
	}
	w.Close()

	var out strings.Builder
	v, err := PromptPassword("Password: ", r, &out)
	if err != nil {
		t.Fatalf("PromptPassword failed: %v", err)
	}
	if v != "s3cret" {
		t.Errorf("got %q", v)
	}
	if out.String() != "Password: " {
		t.Errorf("prompt: got %q", out.String())
	}
}
