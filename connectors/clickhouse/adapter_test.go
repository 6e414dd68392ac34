package clickhouse

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/netbek/dw/pkg/adapter"
)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	settings := Settings{Host: "localhost", Port: 9000, User: "default", Database: "analytics"}
	return &Adapter{settings: settings, db: db}, mock
}

func existsRows(found bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"exists"}).AddRow(found)
}

func TestCreateDatabaseIsIdempotent(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM system.databases")).WithArgs("raw").WillReturnRows(existsRows(false))
	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE `raw`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM system.databases")).WithArgs("raw").WillReturnRows(existsRows(true))

	for i := 0; i < 2; i++ {
		if err := a.CreateDatabase(ctx, "raw", false); err != nil {
			t.Fatalf("create attempt %d: %v", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateDatabaseReplace(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM system.databases")).WithArgs("raw").WillReturnRows(existsRows(true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM system.databases")).WithArgs("raw").WillReturnRows(existsRows(true))
	mock.ExpectExec(regexp.QuoteMeta("DROP DATABASE `raw`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE `raw`")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := a.CreateDatabase(context.Background(), "raw", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDropMissingObjectsIsNoop(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM system.databases")).WithArgs("raw").WillReturnRows(existsRows(false))
	mock.ExpectQuery(regexp.QuoteMeta("FROM system.tables")).WithArgs("analytics", "orders").WillReturnRows(existsRows(false))
	mock.ExpectQuery(regexp.QuoteMeta("FROM system.users")).WithArgs("reader").WillReturnRows(existsRows(false))

	if err := a.DropDatabase(ctx, "raw"); err != nil {
		t.Fatalf("drop database: %v", err)
	}
	if err := a.DropTable(ctx, "orders", adapter.Scope{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if err := a.DropUser(ctx, "reader"); err != nil {
		t.Fatalf("drop user: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTruncateTableUsesScopeDatabase(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM system.tables")).WithArgs("raw", "orders").WillReturnRows(existsRows(true))
	mock.ExpectExec(regexp.QuoteMeta("TRUNCATE TABLE `raw`.`orders`")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := a.TruncateTable(context.Background(), "orders", adapter.Scope{Database: "raw"}); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDropTablesDropsEveryTable(t *testing.T) {
	a, mock := newMockAdapter(t)
	scope := adapter.Scope{Database: "raw"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM system.tables")).WithArgs("raw").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("orders").AddRow("customers"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT table, name, type")).WithArgs("raw").
		WillReturnRows(sqlmock.NewRows([]string{"table", "name", "type"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM system.tables")).WithArgs("raw", "customers").WillReturnRows(existsRows(true))
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE `raw`.`customers`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM system.tables")).WithArgs("raw", "orders").WillReturnRows(existsRows(true))
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE `raw`.`orders`")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := a.DropTables(context.Background(), scope); err != nil {
		t.Fatalf("drop tables: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDropTablesStopsOnFailure(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM system.tables")).WithArgs("analytics").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("events").AddRow("orders"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT table, name, type")).WithArgs("analytics").
		WillReturnRows(sqlmock.NewRows([]string{"table", "name", "type"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM system.tables")).WithArgs("analytics", "events").WillReturnRows(existsRows(true))
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE `analytics`.`events`")).WillReturnError(errors.New("table is locked"))

	err := a.DropTables(context.Background(), adapter.Scope{})
	adapterErr, ok := adapter.AsAdapterError(err)
	if !ok || adapterErr.Op != "drop table" {
		t.Fatalf("expected drop table adapter error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateTableStatement(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta("SHOW CREATE TABLE `analytics`.`orders`")).
		WillReturnRows(sqlmock.NewRows([]string{"statement"}).
			AddRow(`CREATE TABLE analytics.orders\n(\n    id UInt64\n)\nENGINE = MergeTree`))

	statement, err := a.CreateTableStatement(context.Background(), "orders", adapter.Scope{})
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	want := "CREATE TABLE analytics.orders\n(\n    id UInt64\n)\nENGINE = MergeTree"
	if statement != want {
		t.Fatalf("unexpected statement %q", statement)
	}
}

func TestListTablesSortedByName(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM system.tables")).WithArgs("analytics").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("orders").AddRow("customers"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT table, name, type")).WithArgs("analytics").
		WillReturnRows(sqlmock.NewRows([]string{"table", "name", "type"}).
			AddRow("customers", "id", "UInt64").
			AddRow("orders", "id", "UInt64").
			AddRow("orders", "note", "Nullable(String)"))

	tables, err := a.ListTables(context.Background(), adapter.Scope{})
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(tables) != 2 || tables[0].Name != "customers" || tables[1].Name != "orders" {
		t.Fatalf("unexpected tables %+v", tables)
	}
	if !reflect.DeepEqual(tables[1].ColumnNames(), []string{"id", "note"}) {
		t.Fatalf("unexpected columns %v", tables[1].ColumnNames())
	}
	if tables[1].Columns[0].Nullable || !tables[1].Columns[1].Nullable {
		t.Fatalf("unexpected nullability %+v", tables[1].Columns)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetTable(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM system.tables")).WithArgs("analytics", "orders").WillReturnRows(existsRows(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, type")).WithArgs("analytics", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type"}).AddRow("id", "UInt64").AddRow("updated_at", "DateTime64(6)"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM system.tables")).WithArgs("analytics", "missing").WillReturnRows(existsRows(false))

	table, found, err := a.GetTable(ctx, "orders", adapter.Scope{})
	if err != nil || !found {
		t.Fatalf("get table: found=%v err=%v", found, err)
	}
	if table.Container != "analytics" || !reflect.DeepEqual(table.ColumnNames(), []string{"id", "updated_at"}) {
		t.Fatalf("unexpected table %+v", table)
	}
	if _, found, err := a.GetTable(ctx, "missing", adapter.Scope{}); err != nil || found {
		t.Fatalf("expected absent, found=%v err=%v", found, err)
	}
}

func TestCreateUser(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM system.users")).WithArgs("reader").WillReturnRows(existsRows(false))
	mock.ExpectExec(regexp.QuoteMeta("CREATE USER `reader` IDENTIFIED BY 'it\\'s'")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := a.CreateUser(ctx, "reader", "it's", adapter.UserOptions{Login: true}, false); err != nil {
		t.Fatalf("create user: %v", err)
	}
	err := a.CreateUser(ctx, "reader", "secret", adapter.UserOptions{Replication: true}, false)
	if !errors.Is(err, adapter.ErrUnsupported) {
		t.Fatalf("expected replication users to be unsupported, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUnsupportedCapabilities(t *testing.T) {
	a, _ := newMockAdapter(t)
	ctx := context.Background()
	scope := adapter.Scope{}

	_, err1 := a.HasSchema(ctx, "s", scope)
	_, _, err2 := a.GetReplicaIdentity(ctx, "t", scope)
	_, err3 := a.ListPublications(ctx)
	errs := []error{
		err1,
		a.CreateSchema(ctx, "s", scope, false),
		a.DropSchema(ctx, "s", scope),
		err2,
		a.SetReplicaIdentity(ctx, "t", adapter.ReplicaIdentityFull, "", scope),
		a.GrantPrivileges(ctx, "u", "s"),
		a.RevokePrivileges(ctx, "u", "s"),
		a.CreatePublication(ctx, "p", nil, false),
		a.DropPublication(ctx, "p"),
		err3,
	}
	for i, err := range errs {
		if !errors.Is(err, adapter.ErrUnsupported) {
			t.Fatalf("capability %d: expected ErrUnsupported, got %v", i, err)
		}
	}
}

func TestQueryFailureIsAdapterError(t *testing.T) {
	a, mock := newMockAdapter(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM system.databases")).WillReturnError(errors.New("timeout"))

	_, err := a.HasDatabase(context.Background(), "raw")
	adapterErr, ok := adapter.AsAdapterError(err)
	if !ok || adapterErr.Dialect != "clickhouse" || adapterErr.Category != adapter.CategoryQuery {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSettingsFromPeer(t *testing.T) {
	settings, err := SettingsFromPeer(map[string]any{
		"host":        "ch.internal",
		"port":        9440,
		"user":        "default",
		"password":    "secret",
		"database":    "raw",
		"disable_tls": false,
	})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if !settings.Secure || settings.Protocol != ProtocolNative {
		t.Fatalf("unexpected settings %+v", settings)
	}
	opts := settings.Options()
	if opts.TLS == nil || opts.Addr[0] != "ch.internal:9440" || opts.Auth.Database != "raw" {
		t.Fatalf("unexpected options %+v", opts)
	}

	settings, err = SettingsFromPeer(map[string]any{
		"host": "ch", "port": "8123", "user": "default", "disable_tls": true,
	})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.Secure || settings.Options().TLS != nil || settings.DefaultDatabase() != "default" {
		t.Fatalf("expected plaintext default database settings, got %+v", settings)
	}
}

func TestSettingsValidate(t *testing.T) {
	if err := (Settings{Host: "ch", Port: 9000, User: "u", Protocol: "grpc"}).Validate(); err == nil {
		t.Fatalf("expected invalid protocol to fail")
	}
	if _, err := SettingsFromPeer(map[string]any{"host": "ch", "port": 9000}); err == nil {
		t.Fatalf("expected missing user to fail")
	}
}
