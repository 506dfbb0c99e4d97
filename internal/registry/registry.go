// Package registry persists connections registered at runtime in object
// storage, one YAML object per connection at "<connection>/connection.yaml",
// next to that connection's schema snapshot.
package registry

import (
	"bytes"
	"context"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/pha/internal/connections"
	"github.com/koustreak/pha/internal/errs"
	"github.com/koustreak/pha/internal/filestore"
	"github.com/koustreak/pha/internal/logger"
)

const objectName = "connection.yaml"

// Store implements connections.Registry over one bucket.
type Store struct {
	fs     filestore.Store
	bucket string
	log    *logger.Logger
}

var _ connections.Registry = (*Store)(nil)

// New returns a Store over bucket in fs.
func New(fs filestore.Store, bucket string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{fs: fs, bucket: bucket, log: log}
}

// Key returns the object key for connection.
func Key(connection string) string {
	return connection + "/" + objectName
}

// Save writes spec, replacing any previous version.
func (st *Store) Save(ctx context.Context, spec connections.Spec) error {
	if err := checkName(spec.Name); err != nil {
		return err
	}

	data, err := yaml.Marshal(spec)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "failed to encode connection "+spec.Name, err)
	}
	if _, err := st.fs.PutObject(ctx, st.bucket, Key(spec.Name), bytes.NewReader(data), int64(len(data)), "application/yaml"); err != nil {
		return err
	}

	st.log.DebugWith("connection spec saved", map[string]any{"connection": spec.Name})
	return nil
}

// Delete removes the stored spec for name.
func (st *Store) Delete(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return st.fs.DeleteObject(ctx, st.bucket, Key(name))
}

// Load reads every stored spec in key order. Objects that do not decode
// are skipped with a warning.
func (st *Store) Load(ctx context.Context) ([]connections.Spec, error) {
	objects, err := st.fs.ListObjects(ctx, st.bucket, filestore.ListOptions{Recursive: true})
	if err != nil {
		return nil, err
	}

	var out []connections.Spec
	for _, o := range objects {
		name, ok := strings.CutSuffix(o.Key, "/"+objectName)
		if !ok || o.IsDir || strings.Contains(name, "/") {
			continue
		}

		spec, err := st.read(ctx, o.Key)
		if err != nil {
			st.log.WarnWith("skipping unreadable connection spec", map[string]any{"key": o.Key, "error": err.Error()})
			continue
		}
		// The key is authoritative for the name.
		spec.Name = name
		out = append(out, spec)
	}
	return out, nil
}

func (st *Store) read(ctx context.Context, key string) (connections.Spec, error) {
	obj, err := st.fs.GetObject(ctx, st.bucket, key)
	if err != nil {
		return connections.Spec{}, err
	}
	defer obj.Close()

	var spec connections.Spec
	if err := yaml.NewDecoder(obj).Decode(&spec); err != nil {
		return connections.Spec{}, errs.Wrap(errs.ErrKindInvalidInput, "corrupt connection spec "+key, err)
	}
	return spec, nil
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return errs.Newf(errs.ErrKindInvalidInput, "invalid connection name %q", name)
	}
	return nil
}
