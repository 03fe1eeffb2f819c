package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"projectmanager/models"
)

// Validator checks a project document before it is inserted.
type Validator interface {
	Validate(p *models.Project) error
}

// Repository performs project operations over a Connection. Each call
// connects first, which is a no-op after the first success.
type Repository struct {
	conn      *Connection
	validator Validator
	log       *zap.Logger
}

func NewRepository(conn *Connection, v Validator) *Repository {
	return &Repository{
		conn:      conn,
		validator: v,
		log:       conn.log.Named("repository"),
	}
}

func (r *Repository) db(ctx context.Context) (Database, error) {
	if err := r.conn.Connect(ctx); err != nil {
		return nil, err
	}
	return r.conn.Database()
}

// DatabaseName returns the name of the connected database.
func (r *Repository) DatabaseName(ctx context.Context) (string, error) {
	db, err := r.db(ctx)
	if err != nil {
		return "", err
	}
	return db.Name(), nil
}

// CreateCollection creates an empty collection called name. The collection
// gets a unique index that admits a single project document.
func (r *Repository) CreateCollection(ctx context.Context, name string) (Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty collection name", ErrInvalidArgument)
	}
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	names, err := db.ListCollectionNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	if slices.Contains(names, name) {
		return nil, fmt.Errorf("collection %q: %w", name, ErrAlreadyExists)
	}

	if err := db.CreateCollection(ctx, name); err != nil {
		if isNamespaceExists(err) {
			return nil, fmt.Errorf("collection %q: %w", name, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create collection %q: %w", name, err)
	}

	coll := db.Collection(name)
	if err := coll.EnsureUniqueIndex(ctx,
		bson.D{{Key: "type", Value: 1}},
		bson.M{"type": models.TypeProject},
	); err != nil {
		r.log.Error("index collection failed, dropping collection",
			zap.String("collection", name), zap.Error(err))
		if dropErr := db.DropCollection(ctx, name); dropErr != nil {
			r.log.Error("rollback failed", zap.String("collection", name), zap.Error(dropErr))
		}
		return nil, fmt.Errorf("index collection %q: %w", name, err)
	}
	return coll, nil
}

// GetCollection returns the existing collection called name.
func (r *Repository) GetCollection(ctx context.Context, name string) (Collection, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	names, err := db.ListCollectionNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	if !slices.Contains(names, name) {
		return nil, fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}
	return db.Collection(name), nil
}

// DropCollection removes the collection and everything in it.
func (r *Repository) DropCollection(ctx context.Context, name string) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	if err := db.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("drop collection %q: %w", name, err)
	}
	return nil
}

// CreateProjectDefinition stamps the schema version on p, validates it and
// inserts it into coll. p.ID is set to the new identifier.
func (r *Repository) CreateProjectDefinition(ctx context.Context, coll Collection, p *models.Project) (primitive.ObjectID, error) {
	if coll == nil || p == nil {
		return primitive.NilObjectID, fmt.Errorf("%w: nil collection or project", ErrInvalidArgument)
	}
	p.Normalize()
	p.Schema = models.ProjectSchema
	if r.validator != nil {
		if err := r.validator.Validate(p); err != nil {
			return primitive.NilObjectID, fmt.Errorf("project %q: %w", p.Name, err)
		}
	}

	var existing models.Project
	err := coll.FindOne(ctx, bson.M{"type": models.TypeProject, "name": p.Name}, &existing)
	switch {
	case err == nil:
		return primitive.NilObjectID, fmt.Errorf("project %q in collection %q: %w", p.Name, coll.Name(), ErrAlreadyExists)
	case !errors.Is(err, mongo.ErrNoDocuments):
		return primitive.NilObjectID, fmt.Errorf("lookup project %q: %w", p.Name, err)
	}

	res, err := coll.InsertOne(ctx, p)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return primitive.NilObjectID, fmt.Errorf("project definition in collection %q: %w", coll.Name(), ErrAlreadyExists)
		}
		return primitive.NilObjectID, fmt.Errorf("insert project %q: %w", p.Name, err)
	}
	if !res.Acknowledged {
		return primitive.NilObjectID, fmt.Errorf("insert project %q: %w", p.Name, ErrWrite)
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("insert project %q: unexpected id %v: %w", p.Name, res.InsertedID, ErrWrite)
	}
	p.ID = id
	return id, nil
}

// CreateProject creates the collection called name and its project document,
// seeded from tmpl or, when tmpl is nil, the empty project shape.
//
// Errors while creating the collection are returned. Errors while creating
// the definition are logged, the collection is dropped again and the call
// reports false with a nil error.
func (r *Repository) CreateProject(ctx context.Context, name string, tmpl *models.Template) (bool, error) {
	if name == "" {
		r.conn.metrics.projectCreation("rejected")
		return false, fmt.Errorf("%w: project name cannot be empty", ErrInvalidArgument)
	}

	var p *models.Project
	if tmpl != nil {
		p = tmpl.Project(name)
	} else {
		p = models.NewProject(name)
	}

	coll, err := r.CreateCollection(ctx, name)
	if err != nil {
		r.conn.metrics.projectCreation("rejected")
		return false, err
	}

	if _, err := r.CreateProjectDefinition(ctx, coll, p); err != nil {
		r.log.Error("create project definition failed, dropping collection",
			zap.String("project", name), zap.Error(err))
		if dropErr := r.DropCollection(ctx, name); dropErr != nil {
			r.log.Error("rollback failed", zap.String("project", name), zap.Error(dropErr))
		}
		r.conn.metrics.projectCreation("rolled_back")
		return false, nil
	}

	r.conn.metrics.projectCreation("created")
	r.log.Info("project created", zap.String("project", name), zap.String("id", p.ID.Hex()))
	return true, nil
}

// Projects lists the collections once and returns a cursor over their
// project documents.
func (r *Repository) Projects(ctx context.Context) (*ProjectCursor, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	names, err := db.ListCollectionNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	slices.Sort(names)
	return &ProjectCursor{db: db, names: names}, nil
}

// GetProject returns the project called name or ErrNotFound.
func (r *Repository) GetProject(ctx context.Context, name string) (*models.Project, error) {
	cur, err := r.Projects(ctx)
	if err != nil {
		return nil, err
	}
	for cur.Next(ctx) {
		if p := cur.Project(); p.Name == name {
			return p, nil
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("project %q: %w", name, ErrNotFound)
}

// GetProjectTemplate returns the project named or held by src without the
// keys that make it unique.
func (r *Repository) GetProjectTemplate(ctx context.Context, src TemplateSource) (*models.Template, error) {
	switch {
	case src.project != nil:
		return src.project.Template(), nil
	case src.byName:
		p, err := r.GetProject(ctx, src.name)
		if err != nil {
			return nil, err
		}
		return p.Template(), nil
	}
	return nil, fmt.Errorf("%w: template source must name a project or hold a document", ErrInvalidArgument)
}

// AddTask appends task to the configured tasks of the project.
func (r *Repository) AddTask(ctx context.Context, project string, task models.Task) error {
	if task.Name == "" {
		return fmt.Errorf("%w: task name cannot be empty", ErrInvalidArgument)
	}
	p, err := r.GetProject(ctx, project)
	if err != nil {
		return err
	}
	if p.HasTask(task.Name) {
		return fmt.Errorf("task %q in project %q: %w", task.Name, project, ErrAlreadyExists)
	}

	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	matched, err := db.Collection(project).UpdateOne(ctx,
		bson.M{"_id": p.ID, "type": models.TypeProject},
		bson.M{"$push": bson.M{"config.tasks": task}},
	)
	if err != nil {
		return fmt.Errorf("add task %q to %q: %w", task.Name, project, err)
	}
	if matched == 0 {
		return fmt.Errorf("project %q: %w", project, ErrNotFound)
	}
	r.log.Info("task added", zap.String("project", project), zap.String("task", task.Name))
	return nil
}
