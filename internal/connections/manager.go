// Package connections manages the databases declared in the service config
// or registered at runtime. Pools are opened lazily on first use and shared
// afterwards.
package connections

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/database/mongodb"
	"github.com/koustreak/pha/internal/database/mysql"
	"github.com/koustreak/pha/internal/database/oracle"
	"github.com/koustreak/pha/internal/database/postgres"
	"github.com/koustreak/pha/internal/database/snowflake"
	"github.com/koustreak/pha/internal/database/sqlserver"
	"github.com/koustreak/pha/internal/errs"
	"github.com/koustreak/pha/internal/logger"
	"github.com/koustreak/pha/internal/schema"
	"github.com/koustreak/pha/internal/sqlguard"
)

// Spec is one registered connection as written in the config file.
type Spec struct {
	Name            string `yaml:"name"`
	database.Config `yaml:",inline"`
}

// Source says where a connection was declared.
type Source string

const (
	SourceConfig  Source = "config"  // the config file; read-only at runtime
	SourceRuntime Source = "runtime" // registered through the API
)

// Info is the credential-free view of a Spec.
type Info struct {
	Name     string          `json:"name"`
	Driver   database.Driver `json:"driver"`
	Database string          `json:"database,omitempty"`
	Schema   string          `json:"schema,omitempty"`
	Source   Source          `json:"source"`
	Open     bool            `json:"open"`
	CanQuery bool            `json:"can_query"`
}

// Registry persists runtime-registered connections.
type Registry interface {
	Save(ctx context.Context, spec Spec) error
	Delete(ctx context.Context, name string) error
	Load(ctx context.Context) ([]Spec, error)
}

// QueryResult is the outcome of Execute. Columns are in result order and
// match the row map keys.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Opener connects to one engine.
type Opener func(ctx context.Context, cfg *database.Config) (database.Inspector, error)

// DefaultOpeners wires every supported driver to its engine package.
func DefaultOpeners() map[database.Driver]Opener {
	return map[database.Driver]Opener{
		database.DriverPostgres: func(ctx context.Context, cfg *database.Config) (database.Inspector, error) {
			d, err := postgres.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		database.DriverMySQL: func(ctx context.Context, cfg *database.Config) (database.Inspector, error) {
			d, err := mysql.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		database.DriverSQLServer: func(ctx context.Context, cfg *database.Config) (database.Inspector, error) {
			d, err := sqlserver.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		database.DriverOracle: func(ctx context.Context, cfg *database.Config) (database.Inspector, error) {
			d, err := oracle.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		database.DriverSnowflake: func(ctx context.Context, cfg *database.Config) (database.Inspector, error) {
			d, err := snowflake.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		database.DriverMongoDB: func(ctx context.Context, cfg *database.Config) (database.Inspector, error) {
			d, err := mongodb.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
	}
}

// Manager owns the registered connections. It is safe for concurrent use.
//
// Pools are opened once per connection version: concurrent first requests
// share one connect through singleflight, and m.mu is never held across
// network calls. A pool that is replaced, removed or evicted is closed once
// its last in-flight caller releases it.
type Manager struct {
	openers  map[database.Driver]Opener
	registry Registry
	log      *logger.Logger

	// writeMu serialises Register, Update and Remove including persistence.
	writeMu sync.Mutex

	mu      sync.Mutex
	entries map[string]*entry
	pools   map[string]*pool
	version uint64

	group singleflight.Group
}

type entry struct {
	spec    Spec
	source  Source
	version uint64
}

type pool struct {
	in      database.Inspector
	version uint64
	refs    int
	retired bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithOpener replaces the opener for one driver.
func WithOpener(d database.Driver, o Opener) Option {
	return func(m *Manager) { m.openers[d] = o }
}

// WithRegistry persists connections registered at runtime.
func WithRegistry(r Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// NewManager validates the config-declared specs and returns a Manager. No
// connection is opened.
func NewManager(specs []Spec, log *logger.Logger, opts ...Option) (*Manager, error) {
	if log == nil {
		log = logger.Nop()
	}
	m := &Manager{
		openers: DefaultOpeners(),
		log:     log,
		entries: make(map[string]*entry, len(specs)),
		pools:   make(map[string]*pool),
	}
	for _, opt := range opts {
		opt(m)
	}

	for i := range specs {
		s := specs[i]
		if s.Name == "" {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "connection #%d has no name", i+1)
		}
		if _, dup := m.entries[s.Name]; dup {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "duplicate connection name %q", s.Name)
		}
		if err := prepare(&s); err != nil {
			return nil, err
		}
		m.insertLocked(s, SourceConfig)
	}
	return m, nil
}

// prepare checks the name and applies defaults before validating s.
func prepare(s *Spec) error {
	if strings.TrimSpace(s.Name) == "" || strings.ContainsAny(s.Name, `/\`) {
		return errs.Newf(errs.ErrKindInvalidInput, "invalid connection name %q", s.Name)
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "connection "+s.Name, err)
	}
	return nil
}

func (m *Manager) insertLocked(s Spec, src Source) {
	m.version++
	m.entries[s.Name] = &entry{spec: s, source: src, version: m.version}
}

// Restore loads the connections persisted by the registry. Entries that
// clash with a config-declared name or no longer validate are skipped
// with a warning.
func (m *Manager) Restore(ctx context.Context) error {
	if m.registry == nil {
		return nil
	}
	specs, err := m.registry.Load(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range specs {
		s := specs[i]
		if err := prepare(&s); err != nil {
			m.log.WarnWith("skipping stored connection", map[string]any{"connection": s.Name, "error": err.Error()})
			continue
		}
		if _, dup := m.entries[s.Name]; dup {
			m.log.WarnWith("stored connection shadowed by config", map[string]any{"connection": s.Name})
			continue
		}
		m.insertLocked(s, SourceRuntime)
	}
	return nil
}

// --- registration ---

// Register adds a runtime connection. A taken name is a conflict.
func (m *Manager) Register(ctx context.Context, s Spec) (Info, error) {
	if err := prepare(&s); err != nil {
		return Info{}, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if _, err := m.Get(s.Name); err == nil {
		return Info{}, errs.Newf(errs.ErrKindConflict, "connection %q already exists", s.Name)
	}
	if m.registry != nil {
		if err := m.registry.Save(ctx, s); err != nil {
			return Info{}, err
		}
	}

	m.mu.Lock()
	m.insertLocked(s, SourceRuntime)
	info := m.infoLocked(s.Name)
	m.mu.Unlock()

	m.log.InfoWith("connection registered", map[string]any{"connection": s.Name, "driver": string(s.Driver)})
	return info, nil
}

// Update replaces a runtime connection's settings. Its open pool is closed
// once in-flight calls finish; the next call connects with the new spec.
func (m *Manager) Update(ctx context.Context, name string, s Spec) (Info, error) {
	s.Name = name
	if err := prepare(&s); err != nil {
		return Info{}, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.checkRuntime(name); err != nil {
		return Info{}, err
	}
	if m.registry != nil {
		if err := m.registry.Save(ctx, s); err != nil {
			return Info{}, err
		}
	}

	m.mu.Lock()
	m.insertLocked(s, SourceRuntime)
	stale := m.retireLocked(name)
	info := m.infoLocked(name)
	m.mu.Unlock()
	closeRetired(stale)

	m.log.InfoWith("connection updated", map[string]any{"connection": name, "driver": string(s.Driver)})
	return info, nil
}

// Remove deletes a runtime connection and closes its pool once in-flight
// calls finish.
func (m *Manager) Remove(ctx context.Context, name string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.checkRuntime(name); err != nil {
		return err
	}
	if m.registry != nil {
		if err := m.registry.Delete(ctx, name); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.entries, name)
	stale := m.retireLocked(name)
	m.mu.Unlock()
	closeRetired(stale)

	m.log.InfoWith("connection removed", map[string]any{"connection": name})
	return nil
}

func (m *Manager) checkRuntime(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		return errs.Newf(errs.ErrKindNotFound, "unknown connection %q", name)
	}
	if e.source == SourceConfig {
		return errs.Newf(errs.ErrKindConflict, "connection %q is declared in the config file and cannot be changed at runtime", name)
	}
	return nil
}

// --- lookup ---

// List returns every registered connection in name order.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Info, 0, len(names))
	for _, name := range names {
		out = append(out, m.infoLocked(name))
	}
	return out
}

// Describe returns the credential-free view of name.
func (m *Manager) Describe(name string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[name]; !ok {
		return Info{}, errs.Newf(errs.ErrKindNotFound, "unknown connection %q", name)
	}
	return m.infoLocked(name), nil
}

func (m *Manager) infoLocked(name string) Info {
	e := m.entries[name]
	_, isOpen := m.pools[name]
	return Info{
		Name:     name,
		Driver:   e.spec.Driver,
		Database: e.spec.Database,
		Schema:   e.spec.Schema,
		Source:   e.source,
		Open:     isOpen,
		CanQuery: e.spec.Driver != database.DriverMongoDB,
	}
}

// Get returns a copy of the Spec registered under name.
func (m *Manager) Get(name string) (*Spec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "unknown connection %q", name)
	}
	s := e.spec
	return &s, nil
}

// --- pools ---

// Open returns the pool for name, connecting on first use. Concurrent first
// requests share one connect.
func (m *Manager) Open(ctx context.Context, name string) (database.Inspector, error) {
	p, _, err := m.acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	m.release(p)
	return p.in, nil
}

// acquire returns the current pool for name with a reference held, and the
// spec it was opened with. Callers must release it.
func (m *Manager) acquire(ctx context.Context, name string) (*pool, Spec, error) {
	for {
		m.mu.Lock()
		e, ok := m.entries[name]
		if !ok {
			m.mu.Unlock()
			return nil, Spec{}, errs.Newf(errs.ErrKindNotFound, "unknown connection %q", name)
		}
		spec, version := e.spec, e.version
		if p, ok := m.pools[name]; ok {
			p.refs++
			m.mu.Unlock()
			return p, spec, nil
		}
		m.mu.Unlock()

		key := name + "@" + strconv.FormatUint(version, 10)
		if _, err, _ := m.group.Do(key, func() (any, error) {
			return nil, m.connect(ctx, spec, version)
		}); err != nil {
			return nil, Spec{}, err
		}
		// The new pool is installed; loop to take a reference. If the connection
		// was updated meanwhile the loop opens the new version instead.
	}
}

func (m *Manager) connect(ctx context.Context, spec Spec, version uint64) error {
	// A caller that saw no pool may reach the group after an earlier
	// connect for this version already finished.
	m.mu.Lock()
	_, open := m.pools[spec.Name]
	m.mu.Unlock()
	if open {
		return nil
	}

	opener, ok := m.openers[spec.Driver]
	if !ok {
		return errs.Newf(errs.ErrKindInvalidInput, "no opener for driver %q", spec.Driver)
	}

	start := time.Now()
	in, err := opener(ctx, &spec.Config)
	if err != nil {
		m.log.ErrorWith("connection open failed", err, map[string]any{"connection": spec.Name, "driver": string(spec.Driver)})
		return err
	}

	m.mu.Lock()
	e, ok := m.entries[spec.Name]
	if !ok || e.version != version {
		m.mu.Unlock()
		in.Close()
		return nil
	}
	if _, open = m.pools[spec.Name]; open {
		m.mu.Unlock()
		in.Close()
		return nil
	}
	m.pools[spec.Name] = &pool{in: in, version: version}
	m.mu.Unlock()

	m.log.InfoWith("connection opened", map[string]any{
		"connection": spec.Name,
		"driver":     string(spec.Driver),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

func (m *Manager) release(p *pool) {
	m.mu.Lock()
	p.refs--
	idle := p.retired && p.refs == 0
	m.mu.Unlock()

	if idle {
		p.in.Close()
	}
}

// retireLocked detaches name's pool. It returns the inspector when nothing
// holds it, for the caller to close after unlocking; otherwise the last
// release closes it.
func (m *Manager) retireLocked(name string) database.Inspector {
	p, ok := m.pools[name]
	if !ok {
		return nil
	}
	delete(m.pools, name)
	p.retired = true
	if p.refs == 0 {
		return p.in
	}
	return nil
}

func closeRetired(in database.Inspector) {
	if in != nil {
		in.Close()
	}
}

// Test pings name and returns the round-trip time. A connection that fails
// its ping is retired and reopened on next use.
func (m *Manager) Test(ctx context.Context, name string) (time.Duration, error) {
	p, _, err := m.acquire(ctx, name)
	if err != nil {
		return 0, err
	}
	defer m.release(p)

	start := time.Now()
	if err := p.in.Ping(ctx); err != nil {
		m.evict(name, p)
		return 0, err
	}
	return time.Since(start), nil
}

// Inspect introspects name and returns its unified schema.
func (m *Manager) Inspect(ctx context.Context, name string) (*schema.Unified, error) {
	p, spec, err := m.acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer m.release(p)

	raw, err := p.in.InspectSchema(ctx)
	if err != nil {
		return nil, err
	}

	dbName := spec.Database
	if dbName == "" {
		dbName = name
	}
	return schema.FromDatabase(schema.DatabaseInfo{Type: schema.TypeForDriver(spec.Driver), Name: dbName}, raw), nil
}

// Execute runs a read-only statement on name within the connection's
// query timeout.
func (m *Manager) Execute(ctx context.Context, name, sql string) (*QueryResult, error) {
	query, err := sqlguard.Check(sql)
	if err != nil {
		return nil, err
	}

	p, spec, err := m.acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer m.release(p)

	db, ok := p.in.(database.DB)
	if !ok {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "connection %q (%s) cannot execute SQL", name, spec.Driver)
	}

	if timeout := spec.QueryTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read column names", err)
	}
	data, err := database.ScanRows(rows)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Columns: database.UniqueColumns(cols), Rows: data}, nil
}

// Close retires every open pool. Pools in use close when released.
func (m *Manager) Close() {
	m.mu.Lock()
	var idle []database.Inspector
	for name := range m.pools {
		if in := m.retireLocked(name); in != nil {
			idle = append(idle, in)
		}
	}
	m.mu.Unlock()

	for _, in := range idle {
		in.Close()
	}
}

func (m *Manager) evict(name string, p *pool) {
	m.mu.Lock()
	var stale database.Inspector
	if m.pools[name] == p {
		stale = m.retireLocked(name)
		m.log.WarnWith("connection evicted after failed ping", map[string]any{"connection": name})
	}
	m.mu.Unlock()
	closeRetired(stale)
}
