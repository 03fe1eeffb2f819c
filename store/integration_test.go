//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"

	"projectmanager/models"
	"projectmanager/schema"
	"projectmanager/store"
)

func setupMongo(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start mongo: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate mongo: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return uri
}

func setupMongoRepo(t *testing.T) (*store.Repository, *store.Connection) {
	t.Helper()
	conn := store.NewConnection(store.Config{URL: setupMongo(t), Database: "projectmanager_test"})
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return store.NewRepository(conn, schema.MustNew()), conn
}

func TestMongo_ProjectLifecycle(t *testing.T) {
	repo, _ := setupMongoRepo(t)
	ctx := context.Background()

	tmpl, err := schema.BaseTemplate()
	require.NoError(t, err)

	ok, err := repo.CreateProject(ctx, "alpha", tmpl)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.CreateProject(ctx, "alpha", nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	ok, err = repo.CreateProject(ctx, "bad name", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = repo.GetCollection(ctx, "bad name")
	assert.ErrorIs(t, err, store.ErrNotFound)

	clone, err := repo.GetProjectTemplate(ctx, store.ByName("alpha"))
	require.NoError(t, err)
	ok, err = repo.CreateProject(ctx, "beta", clone)
	require.NoError(t, err)
	require.True(t, ok)

	cur, err := repo.Projects(ctx)
	require.NoError(t, err)
	all, err := cur.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "beta", all[1].Name)

	require.NoError(t, repo.AddTask(ctx, "beta", models.Task{Name: "matchmove", Icon: "crosshairs"}))
	beta, err := repo.GetProject(ctx, "beta")
	require.NoError(t, err)
	assert.True(t, beta.HasTask("matchmove"))
}

func TestMongo_UniqueProjectDocument(t *testing.T) {
	repo, conn := setupMongoRepo(t)
	ctx := context.Background()

	coll, err := repo.CreateCollection(ctx, "alpha")
	require.NoError(t, err)
	_, err = repo.CreateProjectDefinition(ctx, coll, models.NewProject("alpha"))
	require.NoError(t, err)

	_, err = repo.CreateProjectDefinition(ctx, coll, models.NewProject("other"))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	db, err := conn.Database()
	require.NoError(t, err)
	var doc bson.M
	require.NoError(t, db.Collection("alpha").FindOne(ctx, bson.M{"type": "project"}, &doc))
	assert.Equal(t, "alpha", doc["name"])
}

func TestMongo_UnreachableServer(t *testing.T) {
	conn := store.NewConnection(store.Config{
		URL:      "mongodb://127.0.0.1:1/?directConnection=true",
		Attempts: 2,
		Timeout:  200 * time.Millisecond,
		Pause:    10 * time.Millisecond,
	})

	err := conn.Connect(context.Background())
	assert.ErrorIs(t, err, store.ErrConnection)
	assert.Equal(t, store.StateFailed, conn.State())
}
