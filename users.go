package main

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"projectmanager/models"
	"projectmanager/store"
)

// userStore keeps API operators in their own database so that the users
// collection never shows up as a project candidate.
type userStore struct {
	conn   *store.Connection
	dbName string
}

func (u *userStore) coll(ctx context.Context) (store.Collection, error) {
	if err := u.conn.Connect(ctx); err != nil {
		return nil, err
	}
	client, err := u.conn.Client()
	if err != nil {
		return nil, err
	}
	return client.Database(u.dbName).Collection("users"), nil
}

// ensureIndexes makes email unique.
func (u *userStore) ensureIndexes(ctx context.Context) error {
	c, err := u.coll(ctx)
	if err != nil {
		return err
	}
	if err := c.EnsureUniqueIndex(ctx, bson.D{{Key: "email", Value: 1}}, nil); err != nil {
		return fmt.Errorf("users email index: %w", err)
	}
	return nil
}

func (u *userStore) create(ctx context.Context, user *models.User) error {
	c, err := u.coll(ctx)
	if err != nil {
		return err
	}
	res, err := c.InsertOne(ctx, user)
	if err != nil {
		return err
	}
	if !res.Acknowledged {
		return store.ErrWrite
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		user.ID = id
	}
	return nil
}

func (u *userStore) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	c, err := u.coll(ctx)
	if err != nil {
		return nil, err
	}
	var user models.User
	if err := c.FindOne(ctx, filter, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
