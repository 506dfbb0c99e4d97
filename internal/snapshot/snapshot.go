// Package snapshot persists introspected unified schemas in object
// storage, one object per connection at "<connection>/schema.json".
//
// There is no in-process cache: every Load reads the object store, so a
// refreshed snapshot is visible to the next request.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/koustreak/pha/internal/errs"
	"github.com/koustreak/pha/internal/filestore"
	"github.com/koustreak/pha/internal/logger"
	"github.com/koustreak/pha/internal/schema"
)

const objectName = "schema.json"

// Snapshot is one stored schema.
type Snapshot struct {
	Connection string          `json:"connection"`
	TakenAt    time.Time       `json:"taken_at"`
	SHA256     string          `json:"sha256"` // of the schema JSON alone
	Schema     *schema.Unified `json:"schema"`
}

// Info describes a stored snapshot without reading it.
type Info struct {
	Connection   string    `json:"connection"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Store reads and writes snapshots in one bucket.
type Store struct {
	fs     filestore.Store
	bucket string
	log    *logger.Logger
	now    func() time.Time
}

// New returns a Store over bucket in fs.
func New(fs filestore.Store, bucket string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{fs: fs, bucket: bucket, log: log, now: time.Now}
}

// Key returns the object key for connection.
func Key(connection string) string {
	return connection + "/" + objectName
}

// Save writes s as the snapshot for connection, replacing any previous one.
func (st *Store) Save(ctx context.Context, connection string, s *schema.Unified) (*Snapshot, error) {
	if err := checkName(connection); err != nil {
		return nil, err
	}

	body, err := json.Marshal(s)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to encode schema", err)
	}
	sum := sha256.Sum256(body)

	snap := &Snapshot{
		Connection: connection,
		TakenAt:    st.now().UTC(),
		SHA256:     hex.EncodeToString(sum[:]),
		Schema:     s,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to encode snapshot", err)
	}

	if _, err := st.fs.PutObject(ctx, st.bucket, Key(connection), bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return nil, err
	}

	st.log.InfoWith("schema snapshot saved", map[string]any{
		"connection": connection,
		"tables":     len(s.Tables),
		"sha256":     snap.SHA256,
	})
	return snap, nil
}

// Load reads the snapshot for connection. A missing snapshot is not_found.
func (st *Store) Load(ctx context.Context, connection string) (*Snapshot, error) {
	if err := checkName(connection); err != nil {
		return nil, err
	}

	obj, err := st.fs.GetObject(ctx, st.bucket, Key(connection))
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	var snap Snapshot
	if err := json.NewDecoder(obj).Decode(&snap); err != nil {
		return nil, errs.Wrap(errs.ErrKindSchema, "corrupt snapshot for "+connection, err)
	}
	if err := snap.Schema.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// List returns every stored snapshot in key order.
func (st *Store) List(ctx context.Context) ([]Info, error) {
	objects, err := st.fs.ListObjects(ctx, st.bucket, filestore.ListOptions{Recursive: true})
	if err != nil {
		return nil, err
	}

	out := make([]Info, 0, len(objects))
	for _, o := range objects {
		conn, ok := strings.CutSuffix(o.Key, "/"+objectName)
		if !ok || o.IsDir || strings.Contains(conn, "/") {
			continue
		}
		out = append(out, Info{Connection: conn, Size: o.Size, LastModified: o.LastModified})
	}
	return out, nil
}

// DownloadURL returns a presigned URL for the snapshot object.
func (st *Store) DownloadURL(ctx context.Context, connection string, ttl time.Duration) (string, error) {
	if err := checkName(connection); err != nil {
		return "", err
	}
	if _, err := st.fs.StatObject(ctx, st.bucket, Key(connection)); err != nil {
		return "", err
	}
	return st.fs.PresignGetURL(ctx, st.bucket, Key(connection), ttl)
}

func checkName(connection string) error {
	if connection == "" || strings.ContainsAny(connection, `/\`) {
		return errs.Newf(errs.ErrKindInvalidInput, "invalid connection name %q", connection)
	}
	return nil
}
