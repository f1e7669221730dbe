package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := s.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("Get(missing) = found %v, err %v", found, err)
	}
	if err := s.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove(missing) error: %v", err)
	}

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		if err := s.Set(ctx, kv[0], kv[1]); err != nil {
			t.Fatalf("Set(%s): %v", kv[0], err)
		}
	}
	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}

	// Rewriting a key moves it to the end.
	if err := s.Set(ctx, "a", "10"); err != nil {
		t.Fatalf("Set(a) again: %v", err)
	}
	keys, _ = s.Keys(ctx)
	if want := []string{"b", "c", "a"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys after rewrite = %v, want %v", keys, want)
	}
	if v, found, _ := s.Get(ctx, "a"); !found || v != "10" {
		t.Errorf("Get(a) = %q, %v, want 10", v, found)
	}

	if err := s.Remove(ctx, "b"); err != nil {
		t.Fatalf("Remove(b): %v", err)
	}
	keys, _ = s.Keys(ctx)
	if want := []string{"c", "a"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys after remove = %v, want %v", keys, want)
	}
	if _, found, _ := s.Get(ctx, "b"); found {
		t.Error("removed key still present")
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)

	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	s.Close()
	if _, _, err := s.Get(context.Background(), "a"); err != ErrClosed {
		t.Errorf("Get after Close error = %v, want ErrClosed", err)
	}
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.json")

	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	exerciseStore(t, s)

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	keys, _ := reopened.Keys(context.Background())
	if want := []string{"c", "a"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("reopened keys = %v, want %v", keys, want)
	}
	if v, _, _ := reopened.Get(context.Background(), "a"); v != "10" {
		t.Errorf("reopened value = %q, want 10", v)
	}
}

func TestFileStoreRecoversFromCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(context.Background(), Options{Backend: BackendFile, Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if keys, err := s.Keys(ctx); err != nil || len(keys) != 0 {
		t.Fatalf("Keys = %v, %v; want an empty store", keys, err)
	}
	aside, err := os.ReadFile(path + CorruptSuffix)
	if err != nil || string(aside) != "{not json" {
		t.Errorf("corrupt file not moved aside: %q, %v", aside, err)
	}

	if err := s.Set(ctx, "cache_1,2,500", "{}"); err != nil {
		t.Fatalf("Set after recovery: %v", err)
	}
	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if v, ok, _ := reopened.Get(ctx, "cache_1,2,500"); !ok || v != "{}" {
		t.Errorf("Get after reopen = %q, %v", v, ok)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(rdb, "test:")
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	exerciseStore(t, s)

	if !mr.Exists("test:kv:a") {
		t.Error("expected value stored under prefixed key")
	}
}

func TestOpenRedisFromEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "3")

	rdb := OpenRedisFromEnv()
	defer rdb.Close()
	if got := rdb.Options().Addr; got != "cache.internal:6380" {
		t.Errorf("Addr = %q", got)
	}
	if got := rdb.Options().DB; got != 3 {
		t.Errorf("DB = %d", got)
	}
}

func TestPostgresStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS pottypal_kv").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	mock.ExpectExec("INSERT INTO pottypal_kv").WithArgs("k", "v").WillReturnResult(sqlmock.NewResult(1, 1))
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	mock.ExpectQuery("SELECT value FROM pottypal_kv").WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("v"))
	if v, found, err := s.Get(ctx, "k"); err != nil || !found || v != "v" {
		t.Fatalf("Get = %q, %v, %v", v, found, err)
	}

	mock.ExpectQuery("SELECT value FROM pottypal_kv").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	if _, found, err := s.Get(ctx, "nope"); err != nil || found {
		t.Fatalf("Get(nope) = found %v, err %v", found, err)
	}

	mock.ExpectQuery("SELECT key FROM pottypal_kv ORDER BY seq").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("x").AddRow("k"))
	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if want := []string{"x", "k"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys = %v, want %v", keys, want)
	}

	mock.ExpectExec("DELETE FROM pottypal_kv").WithArgs("k").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBuildPostgresDSNFromEnv(t *testing.T) {
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_PORT", "5433")
	t.Setenv("PG_USER", "app")
	t.Setenv("PG_PASSWORD", "secret")
	t.Setenv("PG_DB", "restrooms")
	t.Setenv("PG_SSLMODE", "require")

	want := "postgres://app:secret@db:5433/restrooms?sslmode=require"
	if got := BuildPostgresDSNFromEnv(); got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Options{Backend: "etcd"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := Open(context.Background(), Options{Backend: BackendFile}); err == nil {
		t.Fatal("expected error for file backend without path")
	}
	s, err := Open(context.Background(), Options{})
	if err != nil {
		t.Fatalf("default backend: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("default backend = %T, want *MemoryStore", s)
	}
}
