package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"projectmanager/models"
	"projectmanager/schema"
	"projectmanager/store"
)

// writeStoreError maps repository errors onto status codes.
func (a *App) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrAlreadyExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrInvalidArgument), errors.Is(err, schema.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrConnection):
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "timeout", http.StatusGatewayTimeout)
	default:
		a.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "db error", http.StatusInternalServerError)
	}
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{"state": a.conn.State().String()})
}

// handleDatabase returns the name of the project database.
func (a *App) handleDatabase(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	name, err := a.projects.DatabaseName(ctx)
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	_ = json.NewEncoder(w).Encode(databaseResp{Name: name})
}

// handleListProjects returns every project document in the database.
func (a *App) handleListProjects(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	cur, err := a.projects.Projects(ctx)
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	out, err := cur.All(ctx)
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	if out == nil {
		out = []*models.Project{}
	}
	_ = json.NewEncoder(w).Encode(out)
}

// handleCreateProject creates the collection and its project document.
func (a *App) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.CloneFrom != "" && req.Empty {
		http.Error(w, "cloneFrom and empty are exclusive", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	tmpl, err := a.seedTemplate(ctx, req.CloneFrom, req.Empty)
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	ok, err := a.projects.CreateProject(ctx, req.Name, tmpl)
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "project definition rejected, collection rolled back", http.StatusUnprocessableEntity)
		return
	}

	a.log.Info("create project",
		zap.String("project", req.Name),
		zap.String("operator", currentOperator(r).Username),
		zap.String("clone_from", req.CloneFrom),
		zap.Bool("empty", req.Empty))

	p, err := a.projects.GetProject(ctx, req.Name)
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(p)
}

// handleGetProject returns a single project by name.
func (a *App) handleGetProject(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p, err := a.projects.GetProject(ctx, chi.URLParam(r, "name"))
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	_ = json.NewEncoder(w).Encode(p)
}

// handleGetProjectTemplate returns the project without name and id.
func (a *App) handleGetProjectTemplate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	tmpl, err := a.projects.GetProjectTemplate(ctx, store.ByName(chi.URLParam(r, "name")))
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	_ = json.NewEncoder(w).Encode(tmpl)
}

func (a *App) handleBaseTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := schema.BaseTemplate()
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	_ = json.NewEncoder(w).Encode(tmpl)
}

// handleAddTask appends a task to the project's configuration.
func (a *App) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req addTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	name := chi.URLParam(r, "name")
	task := models.Task{Name: strings.TrimSpace(req.Name), Icon: req.Icon, Label: req.Label}
	if err := a.projects.AddTask(ctx, name, task); err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	a.log.Info("add task",
		zap.String("project", name),
		zap.String("task", task.Name),
		zap.String("operator", currentOperator(r).Username))
	p, err := a.projects.GetProject(ctx, name)
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	_ = json.NewEncoder(w).Encode(p)
}
