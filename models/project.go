package models

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// TypeProject marks the single definition document of a project collection.
	TypeProject = "project"

	// ProjectSchema is stamped on every project document before validation.
	ProjectSchema = "avalon-core:project-2.0"
)

// Project is the definition document stored inside the collection that
// carries the project's name. The rest of that collection holds assets.
type Project struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name   string             `bson:"name"          json:"name"`
	Type   string             `bson:"type"          json:"type"`   // always "project"
	Schema string             `bson:"schema"        json:"schema"` // e.g. "avalon-core:project-2.0"
	Data   map[string]any     `bson:"data"          json:"data"`   // free-form
	Config ProjectConfig      `bson:"config"        json:"config"`

	// Keys written by other tools are kept so templates carry them along.
	Extra map[string]any `bson:",inline" json:"-"`
}

type ProjectConfig struct {
	Template map[string]any `bson:"template" json:"template"` // path templates (work, publish, ...)
	Tasks    []Task         `bson:"tasks"    json:"tasks"`
	Apps     []App          `bson:"apps"     json:"apps"`
}

type Task struct {
	Name  string `bson:"name"            json:"name"`
	Icon  string `bson:"icon,omitempty"  json:"icon,omitempty"` // font-awesome name without the "fa." prefix
	Label string `bson:"label,omitempty" json:"label,omitempty"`
}

type App struct {
	Name  string `bson:"name"            json:"name"`
	Label string `bson:"label,omitempty" json:"label,omitempty"`
}

// Template is a project document without the keys that make it unique
// (name and _id). It seeds new projects.
type Template struct {
	Type   string         `bson:"type"             json:"type"`
	Schema string         `bson:"schema,omitempty" json:"schema,omitempty"`
	Data   map[string]any `bson:"data"             json:"data"`
	Config ProjectConfig  `bson:"config"           json:"config"`

	Extra map[string]any `bson:",inline" json:"-"`
}

// NewProject returns the empty project shape used when no template is given.
func NewProject(name string) *Project {
	p := &Project{Name: name, Type: TypeProject}
	p.Normalize()
	return p
}

// Normalize replaces nil maps and slices with empty ones so the stored
// document always has the full shape.
func (p *Project) Normalize() {
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	p.Config.normalize()
	delete(p.Extra, "name")
	delete(p.Extra, "_id")
}

func (c *ProjectConfig) normalize() {
	if c.Template == nil {
		c.Template = map[string]any{}
	}
	if c.Tasks == nil {
		c.Tasks = []Task{}
	}
	if c.Apps == nil {
		c.Apps = []App{}
	}
}

// HasTask reports whether a task with the given name is configured.
func (p *Project) HasTask(name string) bool {
	for _, t := range p.Config.Tasks {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Template strips the identity of p. The result shares nothing with p.
func (p *Project) Template() *Template {
	t := &Template{
		Type:   p.Type,
		Schema: p.Schema,
		Data:   copyMap(p.Data),
		Config: p.Config.clone(),
		Extra:  copyMap(p.Extra),
	}
	delete(t.Extra, "name")
	delete(t.Extra, "_id")
	return t
}

// Project builds a new, unsaved project called name from the template.
func (t *Template) Project(name string) *Project {
	p := &Project{
		Name:   name,
		Type:   t.Type,
		Schema: t.Schema,
		Data:   copyMap(t.Data),
		Config: t.Config.clone(),
		Extra:  copyMap(t.Extra),
	}
	if p.Type == "" {
		p.Type = TypeProject
	}
	p.Normalize()
	return p
}

func (c ProjectConfig) clone() ProjectConfig {
	out := ProjectConfig{Template: copyMap(c.Template)}
	if c.Tasks != nil {
		out.Tasks = append([]Task{}, c.Tasks...)
	}
	if c.Apps != nil {
		out.Apps = append([]App{}, c.Apps...)
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue deep-copies the container types produced by the bson and json
// decoders. Scalars are returned as is.
func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyMap(x)
	case bson.M:
		return bson.M(copyMap(x))
	case bson.D:
		out := make(bson.D, len(x))
		for i, e := range x {
			out[i] = bson.E{Key: e.Key, Value: copyValue(e.Value)}
		}
		return out
	case bson.A:
		out := make(bson.A, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
