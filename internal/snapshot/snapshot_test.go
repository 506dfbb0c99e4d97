package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pha/internal/errs"
	"github.com/koustreak/pha/internal/filestore"
	"github.com/koustreak/pha/internal/logger"
	"github.com/koustreak/pha/internal/schema"
)

// memStore is an in-memory filestore.Store.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Ping(context.Context) error                 { return nil }
func (m *memStore) Close() error                               { return nil }
func (m *memStore) EnsureBucket(context.Context, string) error { return nil }

func (m *memStore) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, ct string) (*filestore.ObjectInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	return &filestore.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: ct}, nil
}

func (m *memStore) get(bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, "no such key")
	}
	return data, nil
}

func (m *memStore) GetObject(_ context.Context, bucket, key string) (filestore.Object, error) {
	data, err := m.get(bucket, key)
	if err != nil {
		return nil, err
	}
	return &memObject{Reader: bytes.NewReader(data), info: &filestore.ObjectInfo{Key: key, Size: int64(len(data))}}, nil
}

func (m *memStore) StatObject(_ context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	data, err := m.get(bucket, key)
	if err != nil {
		return nil, err
	}
	return &filestore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memStore) DeleteObject(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memStore) ListObjects(_ context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []filestore.ObjectInfo
	for k, v := range m.objects {
		key, ok := strings.CutPrefix(k, bucket+"/")
		if ok && strings.HasPrefix(key, opts.Prefix) {
			out = append(out, filestore.ObjectInfo{Key: key, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memStore) PresignGetURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return "https://store.local/" + bucket + "/" + key + "?ttl=" + ttl.String(), nil
}

type memObject struct {
	*bytes.Reader
	info *filestore.ObjectInfo
}

func (o *memObject) Close() error                 { return nil }
func (o *memObject) Info() *filestore.ObjectInfo { return o.info }

func unified() *schema.Unified {
	return &schema.Unified{
		DatabaseInfo: schema.DatabaseInfo{Type: schema.PostgreSQL, Name: "ehr"},
		Tables: []schema.Table{{Name: "patients", Fields: []schema.Field{
			{Name: "id", Type: "int4", IsPrimaryKey: true},
		}}},
	}
}

func newTestStore() (*Store, *memStore) {
	mem := newMemStore()
	st := New(mem, "snapshots", logger.Nop())
	st.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return st, mem
}

func TestSaveLoad(t *testing.T) {
	st, mem := newTestStore()
	ctx := context.Background()

	saved, err := st.Save(ctx, "ehr-main", unified())
	require.NoError(t, err)

	body, _ := json.Marshal(unified())
	sum := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), saved.SHA256)
	assert.Contains(t, mem.objects, "snapshots/ehr-main/schema.json")

	loaded, err := st.Load(ctx, "ehr-main")
	require.NoError(t, err)
	assert.Equal(t, saved.SHA256, loaded.SHA256)
	assert.Equal(t, "ehr-main", loaded.Connection)
	assert.True(t, saved.TakenAt.Equal(loaded.TakenAt))
	assert.Equal(t, unified(), loaded.Schema)
}

func TestSave_SameSchemaSameHash(t *testing.T) {
	st, _ := newTestStore()
	a, err := st.Save(context.Background(), "a", unified())
	require.NoError(t, err)
	b, err := st.Save(context.Background(), "b", unified())
	require.NoError(t, err)
	assert.Equal(t, a.SHA256, b.SHA256)

	changed := unified()
	changed.Tables[0].Fields = append(changed.Tables[0].Fields, schema.Field{Name: "mrn"})
	c, err := st.Save(context.Background(), "a", changed)
	require.NoError(t, err)
	assert.NotEqual(t, a.SHA256, c.SHA256)
}

func TestLoad_Errors(t *testing.T) {
	st, mem := newTestStore()
	ctx := context.Background()

	_, err := st.Load(ctx, "missing")
	assert.True(t, errs.IsNotFound(err))

	mem.objects["snapshots/bad/schema.json"] = []byte("{nope")
	_, err = st.Load(ctx, "bad")
	assert.True(t, errs.IsSchema(err))

	_, err = st.Load(ctx, "../etc")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestList(t *testing.T) {
	st, mem := newTestStore()
	ctx := context.Background()

	for _, name := range []string{"b", "a"} {
		_, err := st.Save(ctx, name, unified())
		require.NoError(t, err)
	}
	mem.objects["snapshots/a/notes.txt"] = []byte("x")
	mem.objects["snapshots/x/y/schema.json"] = []byte("{}")

	infos, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Connection)
	assert.Equal(t, "b", infos[1].Connection)
	assert.Positive(t, infos[0].Size)
}

func TestDownloadURL(t *testing.T) {
	st, _ := newTestStore()
	ctx := context.Background()

	_, err := st.DownloadURL(ctx, "ehr-main", time.Minute)
	assert.True(t, errs.IsNotFound(err))

	_, err = st.Save(ctx, "ehr-main", unified())
	require.NoError(t, err)

	url, err := st.DownloadURL(ctx, "ehr-main", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://store.local/snapshots/ehr-main/schema.json?ttl=1m0s", url)
}
