package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/errs"
	"github.com/koustreak/pha/internal/querygen"
	"github.com/koustreak/pha/internal/schema"
)

const sampleYAML = `
server:
  addr: ":9090"
  request_timeout: 20s
log:
  level: debug
  format: console
generator:
  column_cap: 5
  extra_keywords:
    postgresql: [mrn, ward]
filestore:
  enabled: true
  endpoint: localhost:9000
  access_key: ${PHA_TEST_ACCESS_KEY}
  secret_key: secret
connections:
  - name: ehr-main
    driver: postgresql
    dsn: ${PHA_TEST_DSN}
    schema: clinical
    max_conns: 4
    query_timeout: 5s
  - name: docs
    driver: mongodb
    dsn: mongodb://localhost:27017
    database: docs
    sample_size: 25
`

func TestParse(t *testing.T) {
	t.Setenv("PHA_TEST_DSN", "postgres://u:p@db:5432/ehr")
	t.Setenv("PHA_TEST_ACCESS_KEY", "minio")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 20*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout, "defaults survive partial sections")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "pha", cfg.Log.Service)
	assert.Equal(t, 5, cfg.Generator.ColumnCap)
	assert.Equal(t, 100, cfg.Generator.DefaultLimit)

	assert.True(t, cfg.Filestore.Enabled)
	assert.Equal(t, "minio", cfg.Filestore.AccessKey)
	assert.Equal(t, "pha-snapshots", cfg.Filestore.Bucket)

	require.Len(t, cfg.Connections, 2)
	ehr := cfg.Connections[0]
	assert.Equal(t, "ehr-main", ehr.Name)
	assert.Equal(t, database.DriverPostgres, ehr.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/ehr", ehr.DSN)
	assert.Equal(t, "clinical", ehr.Schema)
	assert.Equal(t, int32(4), ehr.MaxConns)
	assert.Equal(t, 5*time.Second, ehr.QueryTimeout)
	assert.Equal(t, 25, cfg.Connections[1].SampleSize)
}

func TestParse_ExpandsOnlyBracedReferences(t *testing.T) {
	t.Setenv("PHA_TEST_USER", "svc")
	t.Setenv("HOME", "/root")

	cfg, err := Parse([]byte(`
connections:
  - name: ehr
    driver: postgresql
    dsn: postgres://${PHA_TEST_USER}:pa$$w0rd$HOME@db/ehr?x=${PHA_TEST_UNSET}
`))
	require.NoError(t, err)
	require.Len(t, cfg.Connections, 1)
	assert.Equal(t, "postgres://svc:pa$$w0rd$HOME@db/ehr?x=", cfg.Connections[0].DSN)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"malformed":       "server: [",
		"bad level":       "log: {level: loud}",
		"bad format":      "log: {format: xml}",
		"column cap":      "generator: {column_cap: -1}",
		"limits":          "generator: {default_limit: 50, max_limit: 10}",
		"keyword dialect": "generator: {extra_keywords: {db2: [x]}}",
		"filestore":       "filestore: {enabled: true}",
		"empty addr":      "server: {addr: ''}",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, errs.IsInvalidInput(err), err.Error())
		})
	}
}

func TestLoad(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errs.IsNotFound(err))

	path := filepath.Join(t.TempDir(), "pha.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {addr: ':7000'}\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Empty(t, cfg.Connections)
}

func TestGeneratorOptions(t *testing.T) {
	cfg := Default()
	cfg.Generator.ColumnCap = 2
	cfg.Generator.ExtraKeywords = map[string][]string{"PostgreSQL": {"mrn"}}

	g := querygen.New(cfg.GeneratorOptions()...)
	assert.Equal(t, 2, g.ColumnCap())

	d, ok := g.Dialect(schema.PostgreSQL)
	require.True(t, ok)
	assert.True(t, d.IsReserved("mrn"))
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
	assert.Contains(t, Default().String(), "addr=:8080")
}
