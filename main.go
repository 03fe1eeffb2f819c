// Package main implements projectmanager, a CLI and HTTP API for creating
// and browsing projects stored as collections of the project database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"projectmanager/models"
	"projectmanager/store"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. opts are passed to every connection,
// which lets tests swap the dialer.
func newRootCmd(opts ...store.Option) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "projectmanager",
		Short: "Create and browse projects in the project database",
		Long: `projectmanager creates and browses projects. Every project is a collection
of the project database holding a single project document.

The database is configured with AVALON_MONGO (required) and AVALON_DB
(default "avalon"), or with a YAML file passed through --config.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")

	// run loads configuration, builds the App and hands it to fn.
	run := func(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
		_ = godotenv.Load()
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		log, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		a, err := newApp(cfg, log, opts...)
		if err != nil {
			return err
		}
		defer a.close(context.Background())
		return fn(cmd.Context(), a)
	}

	root.AddCommand(
		newListCmd(run),
		newShowCmd(run),
		newCreateCmd(run),
		newTemplateCmd(run),
		newAddTaskCmd(run),
		newDatabaseCmd(run),
		newServeCmd(run),
	)
	return root
}

type runFunc func(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error

func newListCmd(run runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *App) error {
				cur, err := a.projects.Projects(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tID\tTASKS\tAPPS")
				for cur.Next(ctx) {
					p := cur.Project()
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", p.Name, p.ID.Hex(), len(p.Config.Tasks), len(p.Config.Apps))
				}
				if err := cur.Err(); err != nil {
					return err
				}
				return tw.Flush()
			})
		},
	}
}

func newShowCmd(run runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print a project document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *App) error {
				p, err := a.projects.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
}

func newCreateCmd(run runFunc) *cobra.Command {
	var (
		cloneFrom string
		empty     bool
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a project",
		Long: `Create a project collection and its project document.

The project starts from the base template unless --clone names an existing
project to copy, or --empty asks for an empty configuration.

Examples:
  projectmanager create tvc_2018
  projectmanager create tvc_2019 --clone tvc_2018`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *App) error {
				tmpl, err := a.seedTemplate(ctx, cloneFrom, empty)
				if err != nil {
					return err
				}
				ok, err := a.projects.CreateProject(ctx, args[0], tmpl)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("project %q was not created, see log for details", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created project %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cloneFrom, "clone", "", "copy the configuration of this project")
	cmd.Flags().BoolVar(&empty, "empty", false, "start from an empty configuration")
	cmd.MarkFlagsMutuallyExclusive("clone", "empty")
	return cmd
}

func newTemplateCmd(run runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "template [NAME]",
		Short: "Print the template of a project, or the base template without NAME",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *App) error {
				var (
					tmpl *models.Template
					err  error
				)
				if len(args) == 0 {
					tmpl, err = a.seedTemplate(ctx, "", false)
				} else {
					tmpl, err = a.projects.GetProjectTemplate(ctx, store.ByName(args[0]))
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), tmpl)
			})
		},
	}
}

func newAddTaskCmd(run runFunc) *cobra.Command {
	var icon, label string
	cmd := &cobra.Command{
		Use:   "add-task PROJECT TASK",
		Short: "Add a task to a project's configuration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *App) error {
				task := models.Task{Name: args[1], Icon: icon, Label: label}
				if err := a.projects.AddTask(ctx, args[0], task); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added task %s to %s\n", args[1], args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&icon, "icon", "", "font-awesome icon name, e.g. cube")
	cmd.Flags().StringVar(&label, "label", "", "display label")
	return cmd
}

func newDatabaseCmd(run runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "database",
		Short: "Print the name of the project database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *App) error {
				name, err := a.projects.DatabaseName(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\n", name)
				return nil
			})
		},
	}
}

func newServeCmd(run runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the project API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *App) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				if err := a.init(initCtx); err != nil {
					return fmt.Errorf("mongo connect error: %w", err)
				}

				srv := &http.Server{
					Addr:              ":" + a.cfg.HTTP.Port,
					Handler:           a.routes(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()

				a.log.Info("listening", zap.String("addr", srv.Addr), zap.String("database", a.conn.DatabaseName()))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
