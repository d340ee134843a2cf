package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"caseflow/internal/app"
	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
	"caseflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "caseflow",
	Short: "Caseflow CLI",
	Long: `Caseflow coordinates the lifecycle of client cases.
- Catalog: topics, statuses and the per-topic transition rules live in caseflow.yml and are synced into the workspace database.
- Transitions: every status change freezes the conversation, appends history, runs billing and notifies in one transaction.
- Billing: INVOICE statuses issue a sealed invoice, PAID statuses settle it.
- Assignment: the scheduler gives stale unassigned cases to the least loaded lawyer; lawyers can claim, admins can reassign.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier")
	rootCmd.PersistentFlags().String("role", "ADMIN", "actor role (ADMIN, LAWYER, CLIENT)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	for _, name := range []string{"workspace", "json", "actor-id", "role", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(staffCmd())
	rootCmd.AddCommand(notificationsCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter caseflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.MkdirAll(viper.GetString("workspace"), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.DefaultTemplate), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect caseflow.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d topics, %d statuses, %d rules, %d staff\n",
				len(c.Catalog.Topics), len(c.Catalog.Statuses), len(c.Catalog.Rules), len(c.Staff))
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			return enc.Encode(c)
		},
	})
	return cfg
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database and sync the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				statuses, err := s.Engine.Repo.ListStatuses(ctx)
				if err != nil {
					return err
				}
				rules, err := s.Engine.Repo.ListAllRules(ctx)
				if err != nil {
					return err
				}
				version, err := migrate.Version(s.DB)
				if err != nil {
					return err
				}
				fmt.Printf("schema version %d: %d statuses, %d rules\n", version, len(statuses), len(rules))
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the assignment scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				authCfg := server.AuthConfig{
					JWTSecret:              jwtSecret(s.Config),
					AllowLegacyActorHeader: s.Config.Auth.AllowLegacyActorHeader,
					Logger:                 s.Logger,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
					s.Logger.Warn("no jwt secret configured; only API keys will authenticate")
				}
				if addr == "" {
					addr = s.Config.Server.Addr
				}
				if basePath == "" {
					basePath = s.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{Engine: s.Engine, Scheduler: s.Scheduler, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					s.Logger.Info("serving caseflow API", "addr", addr, "base_path", basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				if !noScheduler && s.Config.SchedulerEnabled() {
					g.Go(func() error { return s.Scheduler.Run(gctx) })
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run the assignment scheduler")
	return cmd
}

func schedulerCmd() *cobra.Command {
	sch := &cobra.Command{Use: "scheduler", Short: "Automatic assignment"}
	sch.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one assignment pass and SLA sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				res, err := s.Scheduler.RunOnce(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("checked %d, assigned %d, overdue %d\n", res.Checked, res.Assigned, res.Overdue)
				return nil
			})
		},
	})
	return sch
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Work with cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseHistoryCmd())
	c.AddCommand(caseTransitionCmd())
	c.AddCommand(caseClaimCmd())
	c.AddCommand(caseReassignCmd())
	c.AddCommand(caseSLACmd())
	c.AddCommand(caseInvoicesCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var in engine.CaseInput
	var data string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			if data != "" {
				if err := json.Unmarshal([]byte(data), &in.Data); err != nil {
					return fmt.Errorf("--data must be a JSON object: %w", err)
				}
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				actor, err := cliActor()
				if err != nil {
					return err
				}
				c, err := s.Engine.CreateCase(ctx, in, actor)
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&in.ClientName, "client", "", "client name")
	cmd.Flags().StringVar(&in.ClientPhone, "phone", "", "client phone")
	cmd.Flags().StringVar(&in.TopicCode, "topic", "", "topic code")
	cmd.Flags().StringVar(&in.Status, "status", "", "initial status (default NEW)")
	cmd.Flags().StringVar(&in.TrackNumber, "track", "", "track number (generated when empty)")
	cmd.Flags().StringVar(&data, "data", "", "case data as a JSON object")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func caseListCmd() *cobra.Command {
	var f repo.CaseFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				cases, err := s.Engine.Repo.ListCases(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Track", "Topic", "Status", "Assignee", "Updated"})
				for _, c := range cases {
					tw.AppendRow(table.Row{c.ID, c.TrackNumber, c.TopicCode, c.Status, c.AssignedTo(), c.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.TopicCode, "topic", "", "topic filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assignee", "", "assignee filter")
	cmd.Flags().BoolVar(&f.Unassigned, "unassigned", false, "only unassigned cases")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				actor, err := cliActor()
				if err != nil {
					return err
				}
				c, err := s.Engine.GetCase(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
}

func caseHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				items, err := s.Engine.Repo.ListHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "From", "To", "Actor", "Comment", "At"})
				for _, h := range items {
					from := ""
					if h.FromStatus != nil {
						from = *h.FromStatus
					}
					tw.AppendRow(table.Row{h.ID, from, h.ToStatus, string(h.ActorRole) + ":" + h.ActorID, h.Comment, h.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func caseTransitionCmd() *cobra.Command {
	var to, comment, date string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Change case status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				actor, err := cliActor()
				if err != nil {
					return err
				}
				res, err := s.Engine.ChangeStatus(ctx, engine.TransitionRequest{
					CaseID: args[0], ToStatus: to, Comment: comment, ImportantDate: optionalString(date), Actor: actor,
				})
				if err != nil {
					return describe(err)
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status")
	cmd.Flags().StringVar(&comment, "comment", "", "history comment")
	cmd.Flags().StringVar(&date, "important-date", "", "important date (RFC3339 or YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func caseClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim an unassigned case as the current lawyer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				actor, err := cliActor()
				if err != nil {
					return err
				}
				res, err := s.Engine.Claim(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func caseReassignCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "reassign <id>",
		Short: "Move a case to another lawyer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				actor, err := cliActor()
				if err != nil {
					return err
				}
				res, err := s.Engine.Reassign(ctx, args[0], target, actor)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "target staff id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func caseSLACmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sla <id>",
		Short: "Show the SLA deadline of the current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				actor, err := cliActor()
				if err != nil {
					return err
				}
				info, ok, err := s.Engine.SLA(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("no SLA applies to the current status")
					return nil
				}
				return printJSON(info)
			})
		},
	}
}

func caseInvoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoices <id>",
		Short: "List invoices of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				items, err := s.Engine.Repo.ListInvoices(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Number", "Status", "Amount", "Currency", "Issued", "Paid"})
				for _, inv := range items {
					paid := ""
					if inv.PaidAt != nil {
						paid = *inv.PaidAt
					}
					tw.AppendRow(table.Row{inv.Number, inv.Status, fmt.Sprintf("%.2f", inv.Amount), inv.Currency, inv.IssuedAt, paid})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func staffCmd() *cobra.Command {
	st := &cobra.Command{Use: "staff", Short: "Manage staff"}
	st.AddCommand(staffListCmd())
	st.AddCommand(staffLoadCmd())
	st.AddCommand(staffAddCmd())
	st.AddCommand(staffKeyCmd())
	st.AddCommand(staffTokenCmd())
	return st
}

func staffListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staff",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				items, err := s.Engine.Repo.ListStaff(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Active", "Primary topic"})
				for _, m := range items {
					primary := ""
					if m.PrimaryTopic != nil {
						primary = *m.PrimaryTopic
					}
					tw.AppendRow(table.Row{m.ID, m.Name, m.Role, m.Active, primary})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func staffLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Show active case load per lawyer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				loads, err := s.Scheduler.Loads(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(loads)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Staff", "Primary", "Secondary", "Active cases"})
				for _, l := range loads {
					primary := ""
					if l.PrimaryTopic != nil {
						primary = *l.PrimaryTopic
					}
					tw.AppendRow(table.Row{l.StaffID, primary, strings.Join(l.Topics, ","), l.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func staffAddCmd() *cobra.Command {
	var id, name, role, primary string
	var topics []string
	var rate float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := config.StaffConfig{ID: id, Name: name, Role: role, PrimaryTopic: primary, Topics: topics}
			if cmd.Flags().Changed("rate") {
				sc.DefaultRate = &rate
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				staff, err := sc.Staff(time.Now().UTC().Format(time.RFC3339))
				if err != nil {
					return err
				}
				r := s.Engine.Repo
				return inTx(ctx, r, func(tx *sqlx.Tx) error {
					if err := r.InsertStaffTx(ctx, tx, staff); err != nil {
						return err
					}
					for _, topic := range topics {
						if err := r.AddStaffTopicTx(ctx, tx, id, topic); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "staff id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "staff-role", "lawyer", "admin or lawyer")
	cmd.Flags().StringVar(&primary, "primary-topic", "", "primary topic code")
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "secondary topic code (repeatable)")
	cmd.Flags().Float64Var(&rate, "rate", 0, "default rate backfilled onto invoices")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func staffKeyCmd() *cobra.Command {
	var staffID, name string
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Issue an API key for a staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				r := s.Engine.Repo
				if _, err := r.GetStaff(ctx, staffID); err != nil {
					return fmt.Errorf("staff %s: %w", staffID, err)
				}
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				key := "cf_" + hex.EncodeToString(raw)
				rec := domain.APIKey{
					ID: uuid.NewString(), StaffID: staffID, Name: name,
					KeyHash: repo.HashAPIKey(key), CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := inTx(ctx, r, func(tx *sqlx.Tx) error { return r.InsertAPIKeyTx(ctx, tx, rec) }); err != nil {
					return err
				}
				fmt.Println(key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&staffID, "staff", "", "staff id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("staff")
	return cmd
}

func staffTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --actor-id and --role",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			actor, err := cliActor()
			if err != nil {
				return err
			}
			token, err := server.SignToken(jwtSecret(cfg), actor, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func notificationsCmd() *cobra.Command {
	var unread bool
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications addressed to the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				actor, err := cliActor()
				if err != nil {
					return err
				}
				f := repo.NotificationFilters{UnreadOnly: unread, Limit: limit}
				if actor.Role == domain.RoleClient {
					f.TrackNumber = actor.ID
				} else {
					f.StaffID = actor.ID
				}
				items, err := s.Engine.Repo.ListNotifications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Case", "Event", "Title", "Body", "Created", "Read"})
				for _, n := range items {
					read := ""
					if n.ReadAt != nil {
						read = *n.ReadAt
					}
					tw.AppendRow(table.Row{n.CaseID, n.EventType, n.Title, n.Body, n.CreatedAt, read})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread notifications")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

// --- helpers ---

func withServices(ctx context.Context, fn func(context.Context, *app.Services) error) error {
	s, err := app.Bootstrap(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		LogLevel:  viper.GetString("log-level"),
	})
	if err != nil {
		return err
	}
	defer s.Close(context.Background())
	return fn(ctx, s)
}

func inTx(ctx context.Context, r repo.Repo, fn func(*sqlx.Tx) error) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func cliActor() (domain.Actor, error) {
	role, err := domain.ParseRole(viper.GetString("role"))
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{ID: viper.GetString("actor-id"), Role: role}, nil
}

// jwtSecret prefers CASEFLOW_JWT_SECRET over auth.jwt_secret.
func jwtSecret(cfg *config.Config) string {
	if v := strings.TrimSpace(viper.GetString("jwt-secret")); v != "" {
		return v
	}
	return cfg.Auth.JWTSecret
}

// describe prefixes validation failures with their code.
func describe(err error) error {
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	return fmt.Errorf("%s: %w", ve.Code, err)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
