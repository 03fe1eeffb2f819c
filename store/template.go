package store

import "projectmanager/models"

// TemplateSource names where GetProjectTemplate takes its document from.
// The zero value is invalid.
type TemplateSource struct {
	byName  bool
	name    string
	project *models.Project
}

// ByName resolves the template from the stored project called name.
func ByName(name string) TemplateSource { return TemplateSource{byName: true, name: name} }

// FromProject uses an already fetched project document.
func FromProject(p *models.Project) TemplateSource { return TemplateSource{project: p} }

func (s TemplateSource) String() string {
	switch {
	case s.project != nil:
		return "document " + s.project.Name
	case s.byName:
		return "name " + s.name
	}
	return "invalid"
}
