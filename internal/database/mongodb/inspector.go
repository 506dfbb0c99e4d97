// Package mongodb implements database.Inspector for MongoDB. Collections have
// no catalog, so the schema is inferred by sampling documents and unioning
// their top-level fields. MongoDB cannot run generated SQL, so it does not
// implement database.DB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/errs"
)

const idField = "_id"

// Inspector samples a MongoDB database. It is safe for concurrent use.
type Inspector struct {
	client     *mongo.Client
	db         *mongo.Database
	sampleSize int64
}

// New connects to cfg.DSN (a mongodb:// URI) and pings the primary.
// cfg.Database names the database to inspect.
func New(ctx context.Context, cfg *database.Config) (*Inspector, error) {
	if cfg.Database == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "mongodb connection requires a database name")
	}

	opts := options.Client().ApplyURI(cfg.DSN)
	if cfg.MaxConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		opts.SetMinPoolSize(uint64(cfg.MinConns))
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid mongodb URI", err)
	}

	in := &Inspector{
		client:     client,
		db:         client.Database(cfg.Database),
		sampleSize: int64(cfg.SampleSize),
	}
	if in.sampleSize <= 0 {
		in.sampleSize = int64(database.DefaultConfig(database.DriverMongoDB, "").SampleSize)
	}

	if err := in.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return in, nil
}

// Ping verifies the primary is reachable.
func (in *Inspector) Ping(ctx context.Context) error {
	if err := in.client.Ping(ctx, readpref.Primary()); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close disconnects the client.
func (in *Inspector) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = in.client.Disconnect(ctx)
}

// InspectSchema lists collections in name order and infers one TableInfo
// per collection from up to sampleSize documents.
func (in *Inspector) InspectSchema(ctx context.Context) (*database.Schema, error) {
	names, err := in.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, mapError(err, "failed to list collections")
	}
	slices.Sort(names)

	schema := &database.Schema{Tables: make([]*database.TableInfo, 0, len(names))}
	for _, name := range names {
		docs, err := in.sample(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("inspecting collection %q: %w", name, err)
		}
		schema.Tables = append(schema.Tables, inferTable(name, docs))
	}
	return schema, nil
}

func (in *Inspector) sample(ctx context.Context, collection string) ([]bson.D, error) {
	cursor, err := in.db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetLimit(in.sampleSize))
	if err != nil {
		return nil, mapError(err, "failed to sample documents")
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mapError(err, "failed to decode sample documents")
	}
	return docs, nil
}

// --- inference ---

// inferTable unions the top-level fields of docs in first-seen order. A field
// missing from any sampled document, or null in one, is nullable. _id is
// always present and is the primary key.
func inferTable(name string, docs []bson.D) *database.TableInfo {
	type seen struct {
		col   *database.ColumnInfo
		count int
	}

	byName := map[string]*seen{idField: {col: &database.ColumnInfo{Name: idField, DataType: "objectId"}}}
	order := []string{idField}

	for _, doc := range docs {
		for _, elem := range doc {
			s, ok := byName[elem.Key]
			if !ok {
				s = &seen{col: &database.ColumnInfo{Name: elem.Key}}
				byName[elem.Key] = s
				order = append(order, elem.Key)
			}
			s.count++

			if elem.Value == nil {
				s.col.Nullable = true
				continue
			}
			typ := typeName(elem.Value)
			switch {
			case s.col.DataType == "" || (elem.Key == idField && s.count == 1):
				s.col.DataType = typ
			case s.col.DataType != typ:
				s.col.DataType = "mixed"
			}
		}
	}

	info := &database.TableInfo{Name: name, PrimaryKey: []string{idField}}
	for _, key := range order {
		s := byName[key]
		if key != idField && s.count < len(docs) {
			s.col.Nullable = true
		}
		if s.col.DataType == "" {
			s.col.DataType = "null"
		}
		info.Columns = append(info.Columns, s.col)
	}
	info.MarkKeys(info.PrimaryKey, []string{idField})
	return info
}

// typeName returns the BSON alias of a decoded value.
func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case bool:
		return "bool"
	case bson.ObjectID:
		return "objectId"
	case bson.DateTime:
		return "date"
	case bson.Timestamp:
		return "timestamp"
	case bson.Decimal128:
		return "decimal"
	case bson.Binary:
		return "binData"
	case bson.D, bson.M:
		return "object"
	case bson.A:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// --- error mapping ---

func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), mongo.IsTimeout(err):
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	case errors.Is(err, mongo.ErrNoDocuments):
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case 13, 18:
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case 26:
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		}
		return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
