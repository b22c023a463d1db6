package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"protokoll/internal/config"
	"protokoll/internal/db"
	"protokoll/internal/domain"
	"protokoll/internal/engine"
	"protokoll/internal/migrate"
	"protokoll/internal/realtime"
	"protokoll/internal/repo"
	"protokoll/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pk",
	Short: "Protokoll CLI",
	Long: `Protokoll keeps meeting protocols as versioned, collaboratively edited
documents. Drafts live in a group, every update appends an immutable
snapshot to the version ledger, and finalizing freezes the document and
turns its todos into tracked tasks.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PROTOKOLL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier")
	rootCmd.PersistentFlags().String("group-id", "", "group scope for protocol and task commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("group-id", rootCmd.PersistentFlags().Lookup("group-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(protocolCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a workspace with a default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				fmt.Printf("Initialized workspace: %s, db %s\n", path, db.Path(workspace))
				return nil
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				fmt.Println("migrations applied")
				return nil
			})
		},
	}
}

func groupCmd() *cobra.Command {
	grp := &cobra.Command{Use: "group", Short: "Manage groups"}
	grp.AddCommand(groupAddCmd())
	return grp
}

func groupAddCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || name == "" {
				return fmt.Errorf("--id and --name required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureGroup(ctx, tx, id, name, nowRFC3339()); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "group id")
	cmd.Flags().StringVar(&name, "name", "", "group name")
	return cmd
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	usr.AddCommand(userAddCmd())
	return usr
}

func userAddCmd() *cobra.Command {
	var id, group, name, email, password string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || group == "" || email == "" || password == "" {
				return fmt.Errorf("--id, --group, --email and --password required")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureUser(ctx, tx, domain.User{
					ID:           id,
					GroupID:      group,
					Name:         name,
					Email:        email,
					PasswordHash: string(hash),
					CreatedAt:    nowRFC3339(),
				}); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&group, "group", "", "group id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	return cmd
}

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{Use: "template", Short: "Manage protocol templates"}
	tpl.AddCommand(templateAddCmd())
	return tpl
}

func templateAddCmd() *cobra.Command {
	var id, name, structureFile string
	var isDefault bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a protocol template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || name == "" || structureFile == "" {
				return fmt.Errorf("--id, --name and --structure required")
			}
			structure, err := readJSONMap(structureFile)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureTemplate(ctx, tx, domain.Template{
					ID:        id,
					Name:      name,
					Structure: structure,
					IsDefault: isDefault,
					CreatedAt: nowRFC3339(),
				}); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "template id")
	cmd.Flags().StringVar(&name, "name", "", "template name")
	cmd.Flags().StringVar(&structureFile, "structure", "", "path to section structure JSON")
	cmd.Flags().BoolVar(&isDefault, "default", false, "use as the default template")
	return cmd
}

func protocolCmd() *cobra.Command {
	prt := &cobra.Command{Use: "protocol", Short: "Manage protocols"}
	prt.AddCommand(protocolListCmd())
	prt.AddCommand(protocolShowCmd())
	prt.AddCommand(protocolVersionsCmd())
	prt.AddCommand(protocolFinalizeCmd())
	return prt
}

func requireGroup() (string, error) {
	group := strings.TrimSpace(viper.GetString("group-id"))
	if group == "" {
		return "", fmt.Errorf("group not specified; use --group-id or set PROTOKOLL_GROUP_ID")
	}
	return group, nil
}

func protocolListCmd() *cobra.Command {
	var f repo.ProtocolFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List protocols",
		RunE: func(cmd *cobra.Command, args []string) error {
			group, err := requireGroup()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProtocols(ctx, group, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Title", "Status", "Version"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.MeetingDate, p.Title, p.Status, p.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.StartDate, "from", "", "earliest meeting date")
	cmd.Flags().StringVar(&f.EndDate, "to", "", "latest meeting date")
	return cmd
}

func protocolShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a protocol with attendees and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, err := requireGroup()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				detail, err := e.GetProtocolDetail(ctx, args[0], group)
				if err != nil {
					return err
				}
				return printJSON(detail)
			})
		},
	}
	return cmd
}

func protocolVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions <id>",
		Short: "Show a protocol's version ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, err := requireGroup()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				versions, err := e.ListVersions(ctx, args[0], group)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(versions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Version", "Changed By", "At"})
				for _, v := range versions {
					tw.AppendRow(table.Row{v.Version, v.ChangedBy, v.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func protocolFinalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalize <id>",
		Short: "Finalize a protocol and derive its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, err := requireGroup()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Finalize(ctx, args[0], viper.GetString("actor-id"), group)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	tsk := &cobra.Command{Use: "task", Short: "Manage tasks"}
	tsk.AddCommand(taskListCmd())
	return tsk
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			group, err := requireGroup()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, group, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Deadline"})
				for _, t := range tasks {
					assignee := ""
					if t.AssignedTo != nil {
						assignee = *t.AssignedTo
					}
					deadline := ""
					if t.Deadline != nil {
						deadline = *t.Deadline
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, assignee, deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.AssignedTo, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().BoolVar(&f.Overdue, "overdue", false, "only overdue tasks")
	cmd.Flags().BoolVar(&f.DueOn, "today", false, "only tasks due today")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Activity log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail group activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			group, err := requireGroup()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.ListActivity(ctx, group, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "User", "Action", "Entity", "ID"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.CreatedAt, entry.UserID, entry.Action, entry.EntityType, entry.EntityID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API and realtime server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := os.Getenv("PROTOKOLL_JWT_SECRET")
			if secret == "" {
				secret = cfg.Auth.Secret
			}
			if secret == "" || secret == "change-me" {
				return fmt.Errorf("set PROTOKOLL_JWT_SECRET or auth.secret in %s", config.Path(workspace))
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			hub := realtime.NewHub(nil)
			e := engine.New(conn, hub)
			e.DerivedCategory = cfg.Tasks.DerivedCategory
			e.DefaultPriority = cfg.Tasks.DefaultPriority
			handler, err := server.New(server.Config{
				Engine:   e,
				Hub:      hub,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, TokenTTL: time.Duration(cfg.Auth.TokenTTL)},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Protokoll API on http://%s%s (websocket at %s/ws)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, engine.New(conn, nil))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func openDB() (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSONMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid structure JSON: %w", err)
	}
	return m, nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
