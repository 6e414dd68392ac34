package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"reflect"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/netbek/dw/pkg/adapter"
)

var testSettings = Settings{
	Host:     "localhost",
	Port:     5432,
	User:     "postgres",
	Password: "secret",
	Database: "app",
	Schema:   "public",
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Adapter{settings: testSettings, db: db}, mock
}

func expectExists(mock sqlmock.Sqlmock, fragment string, found bool, args ...any) {
	rows := sqlmock.NewRows([]string{"exists"}).AddRow(found)
	expect := mock.ExpectQuery(regexp.QuoteMeta(fragment))
	if len(args) > 0 {
		values := make([]driver.Value, 0, len(args))
		for _, arg := range args {
			values = append(values, arg)
		}
		expect = expect.WithArgs(values...)
	}
	expect.WillReturnRows(rows)
}

func TestCreatePublicationIsIdempotent(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	expectExists(mock, "FROM pg_catalog.pg_publication WHERE pubname", false, "pub1")
	mock.ExpectExec(regexp.QuoteMeta(`CREATE PUBLICATION "pub1" FOR TABLE "public"."orders"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectExists(mock, "FROM pg_catalog.pg_publication WHERE pubname", true, "pub1")

	if err := a.CreatePublication(ctx, "pub1", []string{"public.orders"}, false); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := a.CreatePublication(ctx, "pub1", []string{"public.orders"}, false); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreatePublicationReplaceDropsFirst(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	expectExists(mock, "FROM pg_catalog.pg_publication WHERE pubname", true, "pub1")
	expectExists(mock, "FROM pg_catalog.pg_publication WHERE pubname", true, "pub1")
	mock.ExpectExec(regexp.QuoteMeta(`DROP PUBLICATION "pub1"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE PUBLICATION "pub1" FOR TABLE "public"."orders", "sales"."invoices"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := a.CreatePublication(ctx, "pub1", []string{"orders", `"sales"."invoices"`}, true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreatePublicationRejectsInvalidTable(t *testing.T) {
	a, mock := newMockAdapter(t)
	if err := a.CreatePublication(context.Background(), "pub1", []string{"a.b.c"}, false); err == nil {
		t.Fatalf("expected invalid identifier error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected no statements: %v", err)
	}
}

func TestPublicationLifecycle(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	expectExists(mock, "FROM pg_catalog.pg_publication WHERE pubname", false, "pub1")
	mock.ExpectExec(regexp.QuoteMeta(`CREATE PUBLICATION "pub1" FOR TABLE "public"."orders"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pubname FROM pg_catalog.pg_publication")).
		WillReturnRows(sqlmock.NewRows([]string{"pubname"}).AddRow("pub1"))
	expectExists(mock, "FROM pg_catalog.pg_publication WHERE pubname", true, "pub1")
	mock.ExpectExec(regexp.QuoteMeta(`DROP PUBLICATION "pub1"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pubname FROM pg_catalog.pg_publication")).
		WillReturnRows(sqlmock.NewRows([]string{"pubname"}))

	if err := a.CreatePublication(ctx, "pub1", []string{"public.orders"}, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := a.ListPublications(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"pub1"}) {
		t.Fatalf("expected [pub1], got %v", got)
	}
	if err := a.DropPublication(ctx, "pub1"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	got, err = a.ListPublications(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no publications, got %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDropMissingObjectsIsNoop(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	expectExists(mock, "FROM pg_catalog.pg_publication WHERE pubname", false, "pub1")
	expectExists(mock, "FROM pg_catalog.pg_roles WHERE rolname", false, "replicator")
	expectExists(mock, "FROM information_schema.tables", false, "app", "public", "orders")
	expectExists(mock, "FROM information_schema.schemata", false, "app", "staging")
	expectExists(mock, "FROM pg_catalog.pg_database WHERE datname", false, "scratch")

	if err := a.DropPublication(ctx, "pub1"); err != nil {
		t.Fatalf("drop publication: %v", err)
	}
	if err := a.DropUser(ctx, "replicator"); err != nil {
		t.Fatalf("drop user: %v", err)
	}
	if err := a.DropTable(ctx, "orders", adapter.Scope{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if err := a.DropSchema(ctx, "staging", adapter.Scope{}); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
	if err := a.DropDatabase(ctx, "scratch"); err != nil {
		t.Fatalf("drop database: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateTableSkipsExisting(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()
	statement := `CREATE TABLE "public"."orders" (id bigint)`

	expectExists(mock, "FROM information_schema.tables", false, "app", "public", "orders")
	mock.ExpectExec(regexp.QuoteMeta(statement)).WillReturnResult(sqlmock.NewResult(0, 0))
	expectExists(mock, "FROM information_schema.tables", true, "app", "public", "orders")

	for i := 0; i < 2; i++ {
		if err := a.CreateTable(ctx, "orders", statement, adapter.Scope{}, false); err != nil {
			t.Fatalf("create table attempt %d: %v", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListTablesSortedByName(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT table_name FROM information_schema.tables")).
		WithArgs("app", "sales").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
			AddRow("orders").
			AddRow("customers").
			AddRow("invoices"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT c.relname, a.attname")).
		WithArgs("sales").
		WillReturnRows(sqlmock.NewRows([]string{"relname", "attname", "data_type", "is_nullable"}).
			AddRow("customers", "id", "bigint", false).
			AddRow("orders", "id", "bigint", false).
			AddRow("orders", "secret", "text", true))

	tables, err := a.ListTables(context.Background(), adapter.Scope{Schema: "sales"})
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	names := make([]string, 0, len(tables))
	for _, table := range tables {
		names = append(names, table.Name)
	}
	if !reflect.DeepEqual(names, []string{"customers", "invoices", "orders"}) {
		t.Fatalf("unexpected order %v", names)
	}
	if got := tables[2].ColumnNames(); !reflect.DeepEqual(got, []string{"id", "secret"}) {
		t.Fatalf("unexpected orders columns %v", got)
	}
	if tables[1].Columns != nil {
		t.Fatalf("expected no columns for invoices, got %v", tables[1].Columns)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetTable(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	expectExists(mock, "FROM information_schema.tables", true, "app", "public", "orders")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.attname")).
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"attname", "data_type", "is_nullable"}).
			AddRow("id", "bigint", false).
			AddRow("updated_at", "timestamp without time zone", true))
	expectExists(mock, "FROM information_schema.tables", false, "app", "public", "missing")

	table, found, err := a.GetTable(ctx, "orders", adapter.Scope{})
	if err != nil || !found {
		t.Fatalf("get table: found=%v err=%v", found, err)
	}
	if table.Container != "public" || !reflect.DeepEqual(table.ColumnNames(), []string{"id", "updated_at"}) {
		t.Fatalf("unexpected table %+v", table)
	}
	if table.Columns[0].Nullable || !table.Columns[1].Nullable {
		t.Fatalf("unexpected nullability %+v", table.Columns)
	}

	_, found, err = a.GetTable(ctx, "missing", adapter.Scope{})
	if err != nil || found {
		t.Fatalf("expected absent table, found=%v err=%v", found, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDropUserDropsOwnedObjectsFirst(t *testing.T) {
	a, mock := newMockAdapter(t)

	expectExists(mock, "FROM pg_catalog.pg_roles WHERE rolname", true, "replicator")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DROP OWNED BY "replicator" CASCADE`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DROP USER "replicator"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := a.DropUser(context.Background(), "replicator"); err != nil {
		t.Fatalf("drop user: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDropUserRollsBackOnFailure(t *testing.T) {
	a, mock := newMockAdapter(t)

	expectExists(mock, "FROM pg_catalog.pg_roles WHERE rolname", true, "replicator")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DROP OWNED BY "replicator" CASCADE`)).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err := a.DropUser(context.Background(), "replicator")
	adapterErr, ok := adapter.AsAdapterError(err)
	if !ok {
		t.Fatalf("expected adapter error, got %v", err)
	}
	if adapterErr.Category != adapter.CategoryCommand || adapterErr.Dialect != "postgres" {
		t.Fatalf("unexpected adapter error %+v", adapterErr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateUserWithReplication(t *testing.T) {
	a, mock := newMockAdapter(t)

	expectExists(mock, "FROM pg_catalog.pg_roles WHERE rolname", false, "replicator")
	mock.ExpectExec(regexp.QuoteMeta(`CREATE USER "replicator" WITH LOGIN REPLICATION PASSWORD 'it''s'`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectExists(mock, "FROM pg_catalog.pg_roles WHERE rolname", true, "replicator")

	opts := adapter.UserOptions{Login: true, Replication: true}
	for i := 0; i < 2; i++ {
		if err := a.CreateUser(context.Background(), "replicator", "it's", opts, false); err != nil {
			t.Fatalf("create user attempt %d: %v", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGrantPrivilegesIncludesFutureTables(t *testing.T) {
	a, mock := newMockAdapter(t)

	expectExists(mock, "FROM pg_catalog.pg_roles WHERE rolname", true, "replicator")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`GRANT USAGE ON SCHEMA "sales" TO "replicator"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`GRANT SELECT ON ALL TABLES IN SCHEMA "sales" TO "replicator"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER DEFAULT PRIVILEGES IN SCHEMA "sales" GRANT SELECT ON TABLES TO "replicator"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := a.GrantPrivileges(context.Background(), "replicator", "sales"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGrantPrivilegesRequiresUser(t *testing.T) {
	a, mock := newMockAdapter(t)
	expectExists(mock, "FROM pg_catalog.pg_roles WHERE rolname", false, "ghost")

	err := a.GrantPrivileges(context.Background(), "ghost", "public")
	if !errors.Is(err, adapter.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPrivilegesMissingUser(t *testing.T) {
	a, mock := newMockAdapter(t)
	expectExists(mock, "FROM pg_catalog.pg_roles WHERE rolname", false, "ghost")

	privileges, err := a.ListPrivileges(context.Background(), "ghost")
	if err != nil || privileges != nil {
		t.Fatalf("expected nil privileges, got %v (%v)", privileges, err)
	}
}

func TestReplicaIdentity(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT CASE c.relreplident")).
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"relreplident"}).AddRow("default"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT CASE c.relreplident")).
		WithArgs("public", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"relreplident"}))
	expectExists(mock, "FROM information_schema.tables", true, "app", "public", "orders")
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "public"."orders" REPLICA IDENTITY full`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectExists(mock, "FROM information_schema.tables", true, "app", "public", "orders")
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "public"."orders" REPLICA IDENTITY USING INDEX "orders_key"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	identity, found, err := a.GetReplicaIdentity(ctx, "orders", adapter.Scope{})
	if err != nil || !found || identity != adapter.ReplicaIdentityDefault {
		t.Fatalf("unexpected identity %q found=%v err=%v", identity, found, err)
	}
	if _, found, err := a.GetReplicaIdentity(ctx, "missing", adapter.Scope{}); err != nil || found {
		t.Fatalf("expected missing table to be absent, found=%v err=%v", found, err)
	}
	if err := a.SetReplicaIdentity(ctx, "orders", adapter.ReplicaIdentityFull, "", adapter.Scope{}); err != nil {
		t.Fatalf("set full: %v", err)
	}
	if err := a.SetReplicaIdentity(ctx, "orders", adapter.ReplicaIdentityIndex, "orders_key", adapter.Scope{}); err != nil {
		t.Fatalf("set index: %v", err)
	}
	if err := a.SetReplicaIdentity(ctx, "orders", adapter.ReplicaIdentityIndex, "", adapter.Scope{}); err == nil {
		t.Fatalf("expected index identity without index name to fail")
	}
	if err := a.SetReplicaIdentity(ctx, "orders", adapter.ReplicaIdentity("bogus"), "", adapter.Scope{}); err == nil {
		t.Fatalf("expected unknown identity to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueryFailureIsAdapterError(t *testing.T) {
	a, mock := newMockAdapter(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM pg_catalog.pg_roles")).WillReturnError(errors.New("connection reset"))

	_, err := a.HasUser(context.Background(), "replicator")
	adapterErr, ok := adapter.AsAdapterError(err)
	if !ok {
		t.Fatalf("expected adapter error, got %v", err)
	}
	if adapterErr.Category != adapter.CategoryQuery || adapterErr.Op != "has user" {
		t.Fatalf("unexpected adapter error %+v", adapterErr)
	}
}

func TestCreateTableStatementUnsupported(t *testing.T) {
	a, _ := newMockAdapter(t)
	_, err := a.CreateTableStatement(context.Background(), "orders", adapter.Scope{})
	if !errors.Is(err, adapter.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
