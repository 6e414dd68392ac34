package mirrorconfig

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
)

const documentYAML = `
peers:
  +type: POSTGRES
  source:
    postgres_config:
      host: db
      port: 5432
      password: ${SOURCE_PASSWORD}
publications:
  pub_orders:
    - public.orders
`

func TestParseExpandsEnvironment(t *testing.T) {
	doc, err := Parse([]byte(documentYAML), func(key string) string {
		if key == "SOURCE_PASSWORD" {
			return "hunter2"
		}
		return ""
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	source := doc["peers"].(map[string]any)["source"].(map[string]any)
	config := source["postgres_config"].(map[string]any)
	if config["password"] != "hunter2" {
		t.Fatalf("expected expanded password, got %v", config["password"])
	}
	if config["port"] != 5432 {
		t.Fatalf("expected int port, got %#v", config["port"])
	}
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("peers: [\n"), func(string) string { return "" })
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/etc/mirrors.yml", []byte(documentYAML), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}

	doc, err := Load(fs, "/etc/mirrors.yml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := doc["publications"]; !ok {
		t.Fatalf("expected publications section, got %v", doc)
	}

	empty := afero.NewMemMapFs()
	if err := afero.WriteFile(empty, "/empty.yml", nil, 0o644); err != nil {
		t.Fatalf("write empty document: %v", err)
	}
	doc, err = Load(empty, "/empty.yml")
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(doc) != 0 {
		t.Fatalf("expected empty document, got %v", doc)
	}

	if _, err := Load(fs, "/missing.yml"); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}
