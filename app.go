package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"projectmanager/models"
	"projectmanager/schema"
	"projectmanager/store"
)

type App struct {
	cfg      Config
	log      *zap.Logger
	conn     *store.Connection
	projects *store.Repository
	users    *userStore
	registry *prometheus.Registry
}

// newApp wires the connection, repository and user store. Nothing touches
// the network until the first call that needs the database.
func newApp(cfg Config, log *zap.Logger, opts ...store.Option) (*App, error) {
	validator, err := schema.New()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	opts = append([]store.Option{
		store.WithLogger(log),
		store.WithMetrics(store.NewMetrics(reg)),
	}, opts...)
	conn := store.NewConnection(cfg.Mongo.storeConfig(), opts...)

	return &App{
		cfg:      cfg,
		log:      log,
		conn:     conn,
		projects: store.NewRepository(conn, validator),
		users:    &userStore{conn: conn, dbName: cfg.Mongo.AuthDatabase},
		registry: reg,
	}, nil
}

// init connects eagerly and prepares the user indexes; used by serve.
func (a *App) init(ctx context.Context) error {
	if err := a.conn.Connect(ctx); err != nil {
		return err
	}
	return a.users.ensureIndexes(ctx)
}

func (a *App) close(ctx context.Context) { _ = a.conn.Close(ctx) }

// seedTemplate picks the template a new project starts from: a clone of an
// existing project, nothing (the empty shape), or the base template.
func (a *App) seedTemplate(ctx context.Context, cloneFrom string, empty bool) (*models.Template, error) {
	switch {
	case cloneFrom != "":
		return a.projects.GetProjectTemplate(ctx, store.ByName(cloneFrom))
	case empty:
		return nil, nil
	}
	return schema.BaseTemplate()
}
