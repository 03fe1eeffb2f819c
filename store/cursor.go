package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"projectmanager/models"
)

// ProjectCursor walks the project documents of a database, one collection
// per Next. It is finite and can only be walked once.
type ProjectCursor struct {
	db    Database
	names []string
	pos   int
	cur   *models.Project
	err   error
}

// Next advances to the next collection holding a project document.
// Reserved system collections and collections without one are skipped.
func (c *ProjectCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	for c.pos < len(c.names) {
		name := c.names[c.pos]
		c.pos++
		if strings.HasPrefix(name, "system.") {
			continue
		}

		var p models.Project
		err := c.db.Collection(name).FindOne(ctx, bson.M{"type": models.TypeProject}, &p)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			c.err = fmt.Errorf("read project of %q: %w", name, err)
			c.cur = nil
			return false
		}
		c.cur = &p
		return true
	}
	c.cur = nil
	return false
}

// Project is the document Next stopped at.
func (c *ProjectCursor) Project() *models.Project { return c.cur }

func (c *ProjectCursor) Err() error { return c.err }

// All drains the cursor.
func (c *ProjectCursor) All(ctx context.Context) ([]*models.Project, error) {
	var out []*models.Project
	for c.Next(ctx) {
		out = append(out, c.Project())
	}
	return out, c.Err()
}
