package dbt

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

const sourcesYAML = `version: 2
sources:
  - name: app
    tables:
      - name: orders
        columns:
          - name: id
            data_type: UInt64
          - name: updated_at
            data_type: DateTime64(6)
      - name: customers
        columns:
          - name: id
`

const listOutput = `12:00:00  Running with dbt=1.8.0
{"name": "orders", "resource_type": "source", "package_name": "warehouse", "original_file_path": "models/sources/app.yml", "unique_id": "source.warehouse.app.orders", "source_name": "app"}
{"name": "events", "resource_type": "source", "package_name": "tracking", "original_file_path": "models/events.yml", "unique_id": "source.tracking.web.events", "source_name": "web"}
{"name": "stg_orders", "resource_type": "model", "package_name": "warehouse", "original_file_path": "models/stg_orders.sql", "unique_id": "model.warehouse.stg_orders"}
`

func newProjectFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/project/dbt_project.yml":                "name: warehouse\nversion: '1.0'\n",
		"/project/models/sources/app.yml":         sourcesYAML,
		"/project/dbt_packages/models/events.yml": "version: 2\nsources:\n  - name: web\n    tables:\n      - name: events\n        columns:\n          - name: event_id\n",
	}
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return fs
}

func TestProjectName(t *testing.T) {
	project := Project{Dir: "/project", Fs: newProjectFs(t)}
	name, err := project.Name()
	if err != nil || name != "warehouse" {
		t.Fatalf("unexpected name %q (%v)", name, err)
	}

	missing := Project{Dir: "/nowhere", Fs: afero.NewMemMapFs()}
	if _, err := missing.Name(); err == nil {
		t.Fatalf("expected missing dbt_project.yml to fail")
	}
}

func TestListResourcesAttachesSourceConfig(t *testing.T) {
	var gotArgs []string
	project := Project{
		Dir:         "/project",
		ProfilesDir: "/profiles",
		Fs:          newProjectFs(t),
		Runner: RunnerFunc(func(_ context.Context, dir string, args []string) ([]byte, error) {
			if dir != "/project" {
				t.Fatalf("unexpected dir %q", dir)
			}
			gotArgs = args
			return []byte(listOutput), nil
		}),
	}

	resources, err := project.ListResources(context.Background(), "", ResourceSource)
	if err != nil {
		t.Fatalf("list resources: %v", err)
	}
	if !strings.Contains(strings.Join(gotArgs, " "), "--output json --quiet --resource-type source") {
		t.Fatalf("unexpected args %v", gotArgs)
	}
	if len(resources) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(resources))
	}

	orders := resources[0]
	if orders.OriginalConfig == nil {
		t.Fatalf("expected orders source config")
	}
	if got := orders.OriginalConfig.ColumnNames(); !reflect.DeepEqual(got, []string{"id", "updated_at"}) {
		t.Fatalf("unexpected orders columns %v", got)
	}

	events := resources[1]
	if events.OriginalConfig == nil || events.OriginalConfig.ColumnNames()[0] != "event_id" {
		t.Fatalf("expected package source config, got %+v", events.OriginalConfig)
	}
	if resources[2].OriginalConfig != nil {
		t.Fatalf("models never carry a source config")
	}
}

func TestListResourcesRequiresRunner(t *testing.T) {
	if _, err := (Project{Dir: "/project"}).ListResources(context.Background(), ""); err == nil {
		t.Fatalf("expected missing runner to fail")
	}
}

func TestParseResourcesRejectsBrokenJSON(t *testing.T) {
	if _, err := ParseResources([]byte("{\"name\": \n")); err == nil {
		t.Fatalf("expected broken json to fail")
	}
	resources, err := ParseResources([]byte("no resources\n"))
	if err != nil || len(resources) != 0 {
		t.Fatalf("expected empty result, got %v (%v)", resources, err)
	}
}
