// Package storetest provides an in-memory stand-in for the database server
// behind store.Connection.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"projectmanager/store"
)

// ErrUnreachable is returned by Ping while the server is set to fail.
var ErrUnreachable = errors.New("server selection error: server unreachable")

// Server holds databases that survive across dials, like a real server.
type Server struct {
	mu       sync.Mutex
	dbs      map[string]*Database
	failures int
	timeouts []time.Duration
	pings    int

	// Unacknowledged makes every insert report an unacknowledged write.
	Unacknowledged bool
}

func NewServer() *Server {
	return &Server{dbs: map[string]*Database{}}
}

// FailPings makes the next n pings fail.
func (s *Server) FailPings(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Dial implements store.Dialer.
func (s *Server) Dial(ctx context.Context, uri string, timeout time.Duration) (store.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts = append(s.timeouts, timeout)
	return &client{srv: s}, nil
}

// Timeouts lists the timeout of every dial so far.
func (s *Server) Timeouts() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.timeouts...)
}

// Pings counts ping round trips.
func (s *Server) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// DB returns the database called name, creating it on first use.
func (s *Server) DB(name string) *Database {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db(name)
}

func (s *Server) db(name string) *Database {
	db, ok := s.dbs[name]
	if !ok {
		db = &Database{srv: s, name: name, colls: map[string]*Collection{}}
		s.dbs[name] = db
	}
	return db
}

type client struct{ srv *Server }

func (c *client) Ping(ctx context.Context) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.pings++
	if c.srv.failures > 0 {
		c.srv.failures--
		return ErrUnreachable
	}
	return ctx.Err()
}

func (c *client) Database(name string) store.Database { return c.srv.DB(name) }

func (c *client) Disconnect(context.Context) error { return nil }

// Database is an in-memory database.
type Database struct {
	srv   *Server
	name  string
	mu    sync.Mutex
	colls map[string]*Collection
	order []string

	// ListCalls counts ListCollectionNames round trips.
	ListCalls int
	// FailCreate, when set, is returned by the next CreateCollection.
	FailCreate error
	// FailIndex, when set, is returned by the next EnsureUniqueIndex on any
	// collection of the database.
	FailIndex error
}

func (d *Database) Name() string { return d.name }

func (d *Database) ListCollectionNames(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ListCalls++
	return append([]string(nil), d.order...), nil
}

func (d *Database) CreateCollection(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.FailCreate; err != nil {
		d.FailCreate = nil
		return err
	}
	if _, ok := d.colls[name]; ok {
		return mongo.CommandError{Code: 48, Name: "NamespaceExists", Message: "Collection already exists. NS: " + d.name + "." + name}
	}
	d.colls[name] = &Collection{db: d, name: name}
	d.order = append(d.order, name)
	return nil
}

func (d *Database) DropCollection(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.colls[name]; !ok {
		return nil
	}
	delete(d.colls, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return nil
}

// Collection returns the named collection. Like the real server, writing
// to a collection that was never created creates it.
func (d *Database) Collection(name string) store.Collection { return d.Coll(name) }

// Coll is Collection with the concrete type, for assertions in tests.
func (d *Database) Coll(name string) *Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.colls[name]; ok {
		return c
	}
	return &Collection{db: d, name: name}
}

// Has reports whether the collection exists.
func (d *Database) Has(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.colls[name]
	return ok
}

func (d *Database) attach(c *Collection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.colls[c.name]; !ok {
		d.colls[c.name] = c
		d.order = append(d.order, c.name)
	}
}

type uniqueIndex struct {
	keys    []string
	partial bson.M
}

// Collection is an in-memory collection. Filters support equality on
// top-level and dotted keys; updates support $set and $push.
type Collection struct {
	db      *Database
	name    string
	mu      sync.Mutex
	docs    []bson.M
	indexes []uniqueIndex
}

func (c *Collection) Name() string { return c.name }

// Docs returns copies of the stored documents.
func (c *Collection) Docs() []bson.M {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bson.M, 0, len(c.docs))
	for _, d := range c.docs {
		cp, _ := toDoc(d)
		out = append(out, cp)
	}
	return out
}

// Insert stores doc as is, bypassing indexes. Used to seed fixtures.
func (c *Collection) Insert(doc any) error {
	m, err := toDoc(doc)
	if err != nil {
		return err
	}
	if _, ok := m["_id"]; !ok {
		m["_id"] = primitive.NewObjectID()
	}
	c.db.attach(c)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, m)
	return nil
}

func (c *Collection) FindOne(ctx context.Context, filter bson.M, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.docs {
		if matches(d, filter) {
			raw, err := bson.Marshal(d)
			if err != nil {
				return err
			}
			return bson.Unmarshal(raw, out)
		}
	}
	return mongo.ErrNoDocuments
}

func (c *Collection) InsertOne(ctx context.Context, doc any) (store.InsertResult, error) {
	m, err := toDoc(doc)
	if err != nil {
		return store.InsertResult{}, err
	}
	if _, ok := m["_id"]; !ok {
		m["_id"] = primitive.NewObjectID()
	}

	c.db.srv.mu.Lock()
	unack := c.db.srv.Unacknowledged
	c.db.srv.mu.Unlock()

	c.db.attach(c)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, idx := range c.indexes {
		if c.violates(idx, m) {
			return store.InsertResult{}, duplicateKey(c.name, idx)
		}
	}
	c.docs = append(c.docs, m)
	if unack {
		return store.InsertResult{Acknowledged: false}, nil
	}
	return store.InsertResult{InsertedID: m["_id"], Acknowledged: true}, nil
}

func (c *Collection) UpdateOne(ctx context.Context, filter, update bson.M) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.docs {
		if !matches(d, filter) {
			continue
		}
		for op, arg := range update {
			fields, err := toDoc(arg)
			if err != nil {
				return 0, err
			}
			for path, val := range fields {
				switch op {
				case "$set":
					setPath(d, path, val)
				case "$push":
					setPath(d, path, append(asArray(getPath(d, path)), val))
				default:
					return 0, fmt.Errorf("storetest: unsupported update operator %s", op)
				}
			}
		}
		return 1, nil
	}
	return 0, nil
}

func (c *Collection) EnsureUniqueIndex(ctx context.Context, keys bson.D, partial bson.M) error {
	c.db.mu.Lock()
	failErr := c.db.FailIndex
	c.db.FailIndex = nil
	c.db.mu.Unlock()
	if failErr != nil {
		return failErr
	}

	idx := uniqueIndex{partial: partial}
	for _, k := range keys {
		idx.keys = append(idx.keys, k.Key)
	}
	c.db.attach(c)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes = append(c.indexes, idx)
	return nil
}

func (c *Collection) violates(idx uniqueIndex, doc bson.M) bool {
	if idx.partial != nil && !matches(doc, idx.partial) {
		return false
	}
	for _, existing := range c.docs {
		if idx.partial != nil && !matches(existing, idx.partial) {
			continue
		}
		same := true
		for _, k := range idx.keys {
			if !reflect.DeepEqual(getPath(existing, k), getPath(doc, k)) {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

func duplicateKey(coll string, idx uniqueIndex) error {
	return mongo.WriteException{WriteErrors: mongo.WriteErrors{{
		Index:   0,
		Code:    11000,
		Message: fmt.Sprintf("E11000 duplicate key error collection: %s index: %s", coll, strings.Join(idx.keys, "_")),
	}}}
}

// toDoc round-trips v through BSON so stored values look like decoded ones.
func toDoc(v any) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func matches(doc, filter bson.M) bool {
	for k, want := range filter {
		got := getPath(doc, k)
		if !reflect.DeepEqual(normalize(got), normalize(want)) {
			return false
		}
	}
	return true
}

// normalize maps values of equal BSON encoding onto one Go type.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	}
	return v
}

func getPath(doc bson.M, path string) any {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func setPath(doc bson.M, path string, val any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(cur[part])
		if !ok {
			next = bson.M{}
		}
		cur[part] = next
		cur = next
	}
	cur[parts[len(parts)-1]] = val
}

func asMap(v any) (bson.M, bool) {
	switch x := v.(type) {
	case bson.M:
		return x, true
	case map[string]any:
		return bson.M(x), true
	case bson.D:
		return bson.M(x.Map()), true
	}
	return nil, false
}

func asArray(v any) bson.A {
	switch x := v.(type) {
	case bson.A:
		return x
	case []any:
		return bson.A(x)
	}
	return bson.A{}
}
