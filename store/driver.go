package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Client is the part of a database client the connection manager needs.
type Client interface {
	Ping(ctx context.Context) error
	Database(name string) Database
	Disconnect(ctx context.Context) error
}

// Database is one named database on the server.
type Database interface {
	Name() string
	ListCollectionNames(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, name string) error
	DropCollection(ctx context.Context, name string) error
	Collection(name string) Collection
}

// Collection is the set of document operations used by the repository.
// FindOne returns mongo.ErrNoDocuments when nothing matches.
type Collection interface {
	Name() string
	FindOne(ctx context.Context, filter bson.M, out any) error
	InsertOne(ctx context.Context, doc any) (InsertResult, error)
	UpdateOne(ctx context.Context, filter, update bson.M) (matched int64, err error)
	EnsureUniqueIndex(ctx context.Context, keys bson.D, partial bson.M) error
}

type InsertResult struct {
	InsertedID   any
	Acknowledged bool
}

// Dialer opens a client whose server selection gives up after timeout.
type Dialer func(ctx context.Context, uri string, timeout time.Duration) (Client, error)

// DialMongo is the production Dialer.
func DialMongo(ctx context.Context, uri string, timeout time.Duration) (Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(timeout).
		SetConnectTimeout(timeout)
	c, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &mongoClient{c: c}, nil
}

type mongoClient struct{ c *mongo.Client }

func (m *mongoClient) Ping(ctx context.Context) error { return m.c.Ping(ctx, readpref.Primary()) }

func (m *mongoClient) Database(name string) Database { return &mongoDatabase{db: m.c.Database(name)} }

func (m *mongoClient) Disconnect(ctx context.Context) error { return m.c.Disconnect(ctx) }

type mongoDatabase struct{ db *mongo.Database }

func (m *mongoDatabase) Name() string { return m.db.Name() }

func (m *mongoDatabase) ListCollectionNames(ctx context.Context) ([]string, error) {
	return m.db.ListCollectionNames(ctx, bson.D{})
}

func (m *mongoDatabase) CreateCollection(ctx context.Context, name string) error {
	return m.db.CreateCollection(ctx, name)
}

func (m *mongoDatabase) DropCollection(ctx context.Context, name string) error {
	return m.db.Collection(name).Drop(ctx)
}

func (m *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{c: m.db.Collection(name)}
}

type mongoCollection struct{ c *mongo.Collection }

func (m *mongoCollection) Name() string { return m.c.Name() }

func (m *mongoCollection) FindOne(ctx context.Context, filter bson.M, out any) error {
	return m.c.FindOne(ctx, filter).Decode(out)
}

func (m *mongoCollection) InsertOne(ctx context.Context, doc any) (InsertResult, error) {
	res, err := m.c.InsertOne(ctx, doc)
	if errors.Is(err, mongo.ErrUnacknowledgedWrite) {
		return InsertResult{Acknowledged: false}, nil
	}
	if err != nil {
		return InsertResult{}, err
	}
	return InsertResult{InsertedID: res.InsertedID, Acknowledged: true}, nil
}

func (m *mongoCollection) UpdateOne(ctx context.Context, filter, update bson.M) (int64, error) {
	res, err := m.c.UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (m *mongoCollection) EnsureUniqueIndex(ctx context.Context, keys bson.D, partial bson.M) error {
	opts := options.Index().SetUnique(true)
	if partial != nil {
		opts.SetPartialFilterExpression(partial)
	}
	_, err := m.c.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: opts})
	return err
}

// isNamespaceExists matches the server error for creating a collection twice.
func isNamespaceExists(err error) bool {
	var ce mongo.CommandError
	return errors.As(err, &ce) && (ce.Code == 48 || ce.Name == "NamespaceExists")
}
