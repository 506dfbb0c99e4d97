package connections

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/errs"
	"github.com/koustreak/pha/internal/logger"
	"github.com/koustreak/pha/internal/schema"
)

// fakeInspector is an inspector-only engine.
type fakeInspector struct {
	pingErr error
	closed  atomic.Bool
	schema  *database.Schema
}

func (f *fakeInspector) Ping(context.Context) error { return f.pingErr }
func (f *fakeInspector) Close()                     { f.closed.Store(true) }
func (f *fakeInspector) InspectSchema(context.Context) (*database.Schema, error) {
	return f.schema, nil
}

// fakeDB adds SQL execution over a fixed result set.
type fakeDB struct {
	fakeInspector
	lastQuery string
	columns   []string
	rows      [][]any
}

func (f *fakeDB) Query(_ context.Context, sql string, _ ...any) (database.Rows, error) {
	f.lastQuery = sql
	return &fakeRows{columns: f.columns, data: f.rows, pos: -1}, nil
}
func (f *fakeDB) QueryRow(context.Context, string, ...any) (database.Row, error) { return nil, nil }
func (f *fakeDB) ListTables(context.Context) ([]string, error)                  { return nil, nil }
func (f *fakeDB) TableExists(context.Context, string) (bool, error)             { return false, nil }

type fakeRows struct {
	columns []string
	data    [][]any
	pos     int
}

func (r *fakeRows) Next() bool                 { r.pos++; return r.pos < len(r.data) }
func (r *fakeRows) Columns() ([]string, error) { return r.columns, nil }
func (r *fakeRows) Close()                     {}
func (r *fakeRows) Err() error                 { return nil }
func (r *fakeRows) Scan(dest ...any) error {
	for i, v := range r.data[r.pos] {
		*(dest[i].(*any)) = v
	}
	return nil
}

func specs() []Spec {
	return []Spec{
		{Name: "ehr", Config: database.Config{Driver: database.DriverPostgres, DSN: "postgres://x", Database: "ehr"}},
		{Name: "docs", Config: database.Config{Driver: database.DriverMongoDB, DSN: "mongodb://x", Database: "docs"}},
	}
}

func newManager(t *testing.T, db *fakeDB, mongo *fakeInspector, opens *atomic.Int32) *Manager {
	t.Helper()
	m, err := NewManager(specs(), logger.Nop(),
		WithOpener(database.DriverPostgres, func(context.Context, *database.Config) (database.Inspector, error) {
			opens.Add(1)
			return db, nil
		}),
		WithOpener(database.DriverMongoDB, func(context.Context, *database.Config) (database.Inspector, error) {
			return mongo, nil
		}),
	)
	require.NoError(t, err)
	return m
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager([]Spec{{Config: database.Config{Driver: database.DriverMySQL, DSN: "x"}}}, nil)
	assert.True(t, errs.IsInvalidInput(err))

	dup := append(specs(), specs()[0])
	_, err = NewManager(dup, nil)
	assert.True(t, errs.IsInvalidInput(err))

	_, err = NewManager([]Spec{{Name: "bad", Config: database.Config{Driver: "db2", DSN: "x"}}}, nil)
	assert.True(t, errs.IsInvalidInput(err))

	m, err := NewManager(specs(), nil)
	require.NoError(t, err)
	s, err := m.Get("ehr")
	require.NoError(t, err)
	assert.Equal(t, int32(10), s.MaxConns, "defaults applied")
}

func TestManager_ListAndGet(t *testing.T) {
	var opens atomic.Int32
	m := newManager(t, &fakeDB{}, &fakeInspector{}, &opens)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "docs", list[0].Name)
	assert.False(t, list[0].CanQuery)
	assert.Equal(t, "ehr", list[1].Name)
	assert.True(t, list[1].CanQuery)
	assert.False(t, list[1].Open)

	_, err := m.Get("nope")
	assert.True(t, errs.IsNotFound(err))
}

func TestManager_OpenIsLazyAndShared(t *testing.T) {
	var opens atomic.Int32
	m := newManager(t, &fakeDB{}, &fakeInspector{}, &opens)
	assert.Equal(t, int32(0), opens.Load())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Open(context.Background(), "ehr")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opens.Load())
	assert.True(t, m.List()[1].Open)

	_, err := m.Open(context.Background(), "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestManager_OpenFailureIsNotCached(t *testing.T) {
	calls := 0
	m, err := NewManager(specs()[:1], nil,
		WithOpener(database.DriverPostgres, func(context.Context, *database.Config) (database.Inspector, error) {
			calls++
			return nil, errs.New(errs.ErrKindConnectionFailed, "refused")
		}))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = m.Open(context.Background(), "ehr")
		assert.True(t, errs.IsConnectionFailed(err))
	}
	assert.Equal(t, 2, calls)
}

func TestManager_TestEvictsOnFailedPing(t *testing.T) {
	var opens atomic.Int32
	db := &fakeDB{}
	m := newManager(t, db, &fakeInspector{}, &opens)

	_, err := m.Test(context.Background(), "ehr")
	require.NoError(t, err)

	db.pingErr = errs.New(errs.ErrKindConnectionFailed, "gone")
	_, err = m.Test(context.Background(), "ehr")
	assert.True(t, errs.IsConnectionFailed(err))
	assert.True(t, db.closed.Load())
	assert.False(t, m.List()[1].Open)
}

func TestManager_Inspect(t *testing.T) {
	var opens atomic.Int32
	db := &fakeDB{fakeInspector: fakeInspector{schema: &database.Schema{Tables: []*database.TableInfo{{
		Name:    "patients",
		Columns: []*database.ColumnInfo{{Name: "id", DataType: "int4", IsPrimary: true}},
	}}}}}
	m := newManager(t, db, &fakeInspector{schema: &database.Schema{}}, &opens)

	u, err := m.Inspect(context.Background(), "ehr")
	require.NoError(t, err)
	assert.Equal(t, schema.DatabaseInfo{Type: schema.PostgreSQL, Name: "ehr"}, u.DatabaseInfo)
	require.Len(t, u.Tables, 1)
	assert.True(t, u.Tables[0].Fields[0].IsPrimaryKey)

	u, err = m.Inspect(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, schema.MongoDB, u.DatabaseInfo.Type)
}

func TestManager_Execute(t *testing.T) {
	var opens atomic.Int32
	db := &fakeDB{
		columns: []string{"id", "name", "id"},
		rows:    [][]any{{int64(1), []byte("Ada"), int64(10)}},
	}
	m := newManager(t, db, &fakeInspector{}, &opens)

	res, err := m.Execute(context.Background(), "ehr", "SELECT id, name, id FROM patients;")
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, name, id FROM patients", db.lastQuery)
	assert.Equal(t, []string{"id", "name", "id_2"}, res.Columns)
	assert.Equal(t, []map[string]any{{"id": int64(1), "name": "Ada", "id_2": int64(10)}}, res.Rows)
}

func TestManager_ExecuteRejects(t *testing.T) {
	var opens atomic.Int32
	m := newManager(t, &fakeDB{}, &fakeInspector{}, &opens)
	ctx := context.Background()

	_, err := m.Execute(ctx, "ehr", "DELETE FROM patients")
	assert.True(t, errs.IsInvalidInput(err))
	assert.Equal(t, int32(0), opens.Load(), "guard runs before connecting")

	_, err = m.Execute(ctx, "docs", "SELECT 1")
	assert.True(t, errs.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "cannot execute SQL")

	_, err = m.Execute(ctx, "missing", "SELECT 1")
	assert.True(t, errs.IsNotFound(err))
}

func TestManager_Close(t *testing.T) {
	var opens atomic.Int32
	db := &fakeDB{}
	m := newManager(t, db, &fakeInspector{}, &opens)

	_, err := m.Open(context.Background(), "ehr")
	require.NoError(t, err)
	m.Close()

	assert.True(t, db.closed.Load())
	assert.False(t, m.List()[1].Open)
}

// memRegistry keeps saved specs in memory.
type memRegistry struct {
	mu      sync.Mutex
	specs   map[string]Spec
	saveErr error
}

func newMemRegistry(specs ...Spec) *memRegistry {
	r := &memRegistry{specs: map[string]Spec{}}
	for _, s := range specs {
		r.specs[s.Name] = s
	}
	return r
}

func (r *memRegistry) Save(_ context.Context, s Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.specs[s.Name] = s
	return nil
}

func (r *memRegistry) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.specs, name)
	return nil
}

func (r *memRegistry) Load(context.Context) ([]Spec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	return out, nil
}

func mysqlSpec(name, dsn string) Spec {
	return Spec{Name: name, Config: database.Config{Driver: database.DriverMySQL, DSN: dsn, Database: "billing"}}
}

// dsnOpener hands out a fresh fakeDB per open and records the DSN used.
type dsnOpener struct {
	mu   sync.Mutex
	dsns []string
	dbs  []*fakeDB
}

func (o *dsnOpener) open(_ context.Context, cfg *database.Config) (database.Inspector, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	db := &fakeDB{}
	o.dsns = append(o.dsns, cfg.DSN)
	o.dbs = append(o.dbs, db)
	return db, nil
}

func TestManager_RegisterUpdateRemove(t *testing.T) {
	var opens atomic.Int32
	reg := newMemRegistry()
	op := &dsnOpener{}
	m, err := NewManager(specs(), logger.Nop(),
		WithRegistry(reg),
		WithOpener(database.DriverPostgres, func(context.Context, *database.Config) (database.Inspector, error) {
			opens.Add(1)
			return &fakeDB{}, nil
		}),
		WithOpener(database.DriverMySQL, op.open),
	)
	require.NoError(t, err)
	ctx := context.Background()

	info, err := m.Register(ctx, mysqlSpec("billing", "mysql://a"))
	require.NoError(t, err)
	assert.Equal(t, SourceRuntime, info.Source)
	assert.Equal(t, database.DriverMySQL, info.Driver)
	assert.False(t, info.Open)
	assert.Contains(t, reg.specs, "billing")
	assert.Equal(t, int32(10), reg.specs["billing"].MaxConns, "defaults persisted")

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"billing", "docs", "ehr"}, []string{list[0].Name, list[1].Name, list[2].Name})
	assert.Equal(t, SourceConfig, list[2].Source)

	_, err = m.Open(ctx, "billing")
	require.NoError(t, err)

	info, err = m.Update(ctx, "billing", mysqlSpec("ignored", "mysql://b"))
	require.NoError(t, err)
	assert.Equal(t, "billing", info.Name, "path name wins")
	assert.False(t, info.Open)
	require.Len(t, op.dbs, 1)
	assert.True(t, op.dbs[0].closed.Load(), "old pool closed on update")
	assert.Equal(t, "mysql://b", reg.specs["billing"].DSN)

	_, err = m.Open(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, []string{"mysql://a", "mysql://b"}, op.dsns)

	require.NoError(t, m.Remove(ctx, "billing"))
	assert.True(t, op.dbs[1].closed.Load(), "pool closed on remove")
	assert.NotContains(t, reg.specs, "billing")
	_, err = m.Describe("billing")
	assert.True(t, errs.IsNotFound(err))
	assert.Len(t, m.List(), 2)
}

func TestManager_RegisterRejects(t *testing.T) {
	reg := newMemRegistry()
	m, err := NewManager(specs(), nil, WithRegistry(reg))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Register(ctx, mysqlSpec("ehr", "mysql://a"))
	assert.True(t, errs.IsConflict(err), "config name taken")

	_, err = m.Register(ctx, mysqlSpec("a/b", "mysql://a"))
	assert.True(t, errs.IsInvalidInput(err))

	_, err = m.Register(ctx, Spec{Name: "nodsn", Config: database.Config{Driver: database.DriverMySQL}})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = m.Update(ctx, "ehr", mysqlSpec("ehr", "mysql://a"))
	assert.True(t, errs.IsConflict(err), "config connections are read-only")
	assert.True(t, errs.IsConflict(m.Remove(ctx, "ehr")))

	_, err = m.Update(ctx, "missing", mysqlSpec("missing", "mysql://a"))
	assert.True(t, errs.IsNotFound(err))
	assert.True(t, errs.IsNotFound(m.Remove(ctx, "missing")))

	reg.saveErr = errs.New(errs.ErrKindQueryFailed, "bucket gone")
	_, err = m.Register(ctx, mysqlSpec("billing", "mysql://a"))
	assert.True(t, errs.IsQueryFailed(err))
	_, err = m.Describe("billing")
	assert.True(t, errs.IsNotFound(err), "nothing registered when persisting fails")
	assert.Empty(t, reg.specs)
}

func TestManager_Restore(t *testing.T) {
	reg := newMemRegistry(
		mysqlSpec("billing", "mysql://a"),
		mysqlSpec("ehr", "mysql://shadowed"),
		Spec{Name: "broken", Config: database.Config{Driver: "db2", DSN: "x"}},
	)
	m, err := NewManager(specs(), nil, WithRegistry(reg))
	require.NoError(t, err)
	require.NoError(t, m.Restore(context.Background()))

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, "billing", list[0].Name)
	assert.Equal(t, SourceRuntime, list[0].Source)

	s, err := m.Get("ehr")
	require.NoError(t, err)
	assert.Equal(t, database.DriverPostgres, s.Driver, "config entry wins")

	_, err = m.Describe("broken")
	assert.True(t, errs.IsNotFound(err))
}

// blockingDB holds Query until release is closed.
type blockingDB struct {
	fakeDB
	entered chan struct{}
	release chan struct{}
}

func (b *blockingDB) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	close(b.entered)
	<-b.release
	return b.fakeDB.Query(ctx, sql, args...)
}

func TestManager_EvictWaitsForInFlightQuery(t *testing.T) {
	db := &blockingDB{
		fakeDB:  fakeDB{columns: []string{"n"}, rows: [][]any{{int64(1)}}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	reg := newMemRegistry()
	m, err := NewManager(nil, nil,
		WithRegistry(reg),
		WithOpener(database.DriverMySQL, func(context.Context, *database.Config) (database.Inspector, error) {
			return db, nil
		}))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = m.Register(ctx, mysqlSpec("billing", "mysql://a"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Execute(ctx, "billing", "SELECT 1 AS n")
		done <- err
	}()
	<-db.entered

	require.NoError(t, m.Remove(ctx, "billing"))
	assert.False(t, db.closed.Load(), "pool stays open while a query runs")

	close(db.release)
	require.NoError(t, <-done)
	assert.True(t, db.closed.Load(), "closed after the last caller releases it")
}

func TestManager_OpenDoesNotBlockOtherCalls(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var opens atomic.Int32
	m, err := NewManager(specs(), nil,
		WithOpener(database.DriverPostgres, func(context.Context, *database.Config) (database.Inspector, error) {
			if opens.Add(1) == 1 {
				close(entered)
			}
			<-release
			return &fakeDB{}, nil
		}),
		WithOpener(database.DriverMongoDB, func(context.Context, *database.Config) (database.Inspector, error) {
			return &fakeInspector{}, nil
		}))
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Open(ctx, "ehr")
			assert.NoError(t, err)
		}()
	}
	<-entered

	listed := make(chan []Info, 1)
	go func() {
		_, err := m.Open(ctx, "docs")
		assert.NoError(t, err)
		listed <- m.List()
	}()
	select {
	case list := <-listed:
		assert.True(t, list[0].Open, "docs opened while ehr is connecting")
		assert.False(t, list[1].Open)
	case <-time.After(2 * time.Second):
		t.Fatal("List blocked behind a pending connect")
	}

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), opens.Load(), "concurrent opens share one connect")
}
