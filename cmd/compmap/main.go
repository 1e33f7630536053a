package main

import (
	"context"
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

	"compmap/internal/app"
	"compmap/internal/config"
	"compmap/internal/db"
	"compmap/internal/domain"
	"compmap/internal/engine"
	"compmap/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "compmap",
	Short: "Compmap CLI",
	Long: `Compmap runs competency-mapping campaigns over an organizational unit tree.
Core concepts:
- Process: one administrative campaign (mapping, revision or diagnostic) moving
  CREATED -> IN_PROGRESS -> FINALIZED.
- Subprocess: one unit's journey through the campaign workflow, with its own
  competency map and custody trail.
- Unit snapshot: the unit's directory facts frozen at start, so later org-chart
  changes never alter an in-flight campaign.
- Effective map: the unit's current official competency map, replaced when a
  mapping or revision process finalizes.
- Movements: the append-only custody diary of a subprocess ('compmap subprocess movements').
- Event log: everything that happened, view with 'compmap log tail'.`,
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
	viper.SetEnvPrefix("COMPMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(subprocessCmd())
	rootCmd.AddCommand(unitCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func processCmd() *cobra.Command {
	prc := &cobra.Command{Use: "process", Short: "Manage campaign processes"}
	prc.AddCommand(processCreateCmd())
	prc.AddCommand(processListCmd())
	prc.AddCommand(processShowCmd())
	prc.AddCommand(processUpdateCmd())
	prc.AddCommand(processDeleteCmd())
	prc.AddCommand(processStartCmd("start-mapping", "Start a mapping process", domain.ProcessMapping))
	prc.AddCommand(processStartCmd("start-revision", "Start a revision process", domain.ProcessRevision))
	prc.AddCommand(processStartCmd("start-diagnostic", "Start a diagnostic process", domain.ProcessDiagnostic))
	prc.AddCommand(processFinalizeCmd())
	prc.AddCommand(processSubprocessesCmd())
	prc.AddCommand(processSnapshotsCmd())
	return prc
}

func processCreateCmd() *cobra.Command {
	var desc, ptype, deadline string
	var units []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProcess(ctx, engine.ProcessCreateOptions{
					Description:    desc,
					Type:           domain.ProcessType(strings.ToUpper(ptype)),
					Stage1Deadline: optionalString(deadline),
					UnitIDs:        units,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&desc, "description", "", "process description")
	cmd.Flags().StringVar(&ptype, "type", "MAPPING", "process type (MAPPING, REVISION, DIAGNOSTIC)")
	cmd.Flags().StringVar(&deadline, "stage1-deadline", "", "first-stage deadline (RFC 3339)")
	cmd.Flags().StringSliceVar(&units, "unit", nil, "participating unit id (repeatable)")
	return cmd
}

func processListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProcesses(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Description", "Type", "Situation", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Description, p.Type, p.Situation, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func processShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <process-id>",
		Short: "Show process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProcess(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func processUpdateCmd() *cobra.Command {
	var desc, ptype, deadline string
	cmd := &cobra.Command{
		Use:   "update <process-id>",
		Short: "Update a CREATED process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProcess(ctx, engine.ProcessUpdateOptions{
					ID:             args[0],
					Description:    desc,
					Type:           domain.ProcessType(strings.ToUpper(ptype)),
					Stage1Deadline: optionalString(deadline),
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&desc, "description", "", "process description")
	cmd.Flags().StringVar(&ptype, "type", "MAPPING", "process type")
	cmd.Flags().StringVar(&deadline, "stage1-deadline", "", "first-stage deadline (RFC 3339)")
	return cmd
}

func processDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <process-id>",
		Short: "Delete a CREATED process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProcess(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func processStartCmd(use, short string, ptype domain.ProcessType) *cobra.Command {
	var units []string
	cmd := &cobra.Command{
		Use:   use + " <process-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.StartOptions{
					ProcessID: args[0],
					UnitIDs:   units,
					ActorID:   viper.GetString("actor-id"),
				}
				var p domain.Process
				var err error
				switch ptype {
				case domain.ProcessRevision:
					p, err = e.StartRevision(ctx, opts)
				case domain.ProcessDiagnostic:
					p, err = e.StartDiagnostic(ctx, opts)
				default:
					p, err = e.StartMapping(ctx, opts)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringSliceVar(&units, "unit", nil, "unit id to enroll (repeatable)")
	return cmd
}

func processFinalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalize <process-id>",
		Short: "Finalize process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Finalize(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func processSubprocessesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subprocesses <process-id>",
		Short: "List the process's subprocesses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSubprocesses(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Unit", "Situation", "Stage", "Stage 1 done"})
				for _, sp := range items {
					stage := "-"
					if s := engine.CurrentStage(sp); s != nil {
						stage = fmt.Sprintf("%d", *s)
					}
					done := "-"
					if sp.Stage1CompletedAt != nil {
						done = *sp.Stage1CompletedAt
					}
					tw.AppendRow(table.Row{sp.ID, sp.UnitID, sp.Situation.Label(), stage, done})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func processSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots <process-id>",
		Short: "List the process's frozen unit snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUnitSnapshots(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func subprocessCmd() *cobra.Command {
	sub := &cobra.Command{Use: "subprocess", Short: "Manage subprocesses"}
	sub.AddCommand(subprocessShowCmd())
	sub.AddCommand(subprocessTransitionCmd())
	sub.AddCommand(subprocessRepairCmd())
	sub.AddCommand(subprocessMovementsCmd())
	sub.AddCommand(subprocessMoveCmd())
	sub.AddCommand(subprocessSituationsCmd())
	return sub
}

func subprocessShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <subprocess-id>",
		Short: "Show subprocess",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sp, err := e.Repo.GetSubprocess(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(sp)
			})
		},
	}
	return cmd
}

func subprocessTransitionCmd() *cobra.Command {
	var to, note, origin, dest string
	cmd := &cobra.Command{
		Use:   "transition <subprocess-id>",
		Short: "Move a subprocess to the next workflow situation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sp, err := e.SetSituation(ctx, engine.TransitionOptions{
					SubprocessID: args[0],
					Next:         domain.Situation(strings.ToUpper(to)),
					ActorID:      viper.GetString("actor-id"),
					MovementNote: note,
					OriginUnitID: optionalString(origin),
					DestUnitID:   dest,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(sp)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target situation")
	cmd.Flags().StringVar(&note, "note", "", "custody movement note recorded with the transition")
	cmd.Flags().StringVar(&origin, "origin", "", "movement origin unit id")
	cmd.Flags().StringVar(&dest, "dest", "", "movement destination unit id")
	return cmd
}

func subprocessRepairCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "repair <subprocess-id>",
		Short: "Force-set a subprocess situation (data repair, bypasses the workflow)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sp, err := e.RepairSituation(ctx, args[0], domain.Situation(strings.ToUpper(to)), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(sp)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target situation")
	return cmd
}

func subprocessMovementsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "movements <subprocess-id>",
		Short: "Show the subprocess custody trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMovements(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "From", "To", "Description"})
				for _, m := range items {
					from := "-"
					if m.OriginUnitID != nil {
						from = *m.OriginUnitID
					}
					tw.AppendRow(table.Row{m.TS, from, m.DestUnitID, m.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func subprocessMoveCmd() *cobra.Command {
	var origin, dest, desc string
	cmd := &cobra.Command{
		Use:   "move <subprocess-id>",
		Short: "Record a custody movement without changing the situation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.RecordMovement(ctx, args[0], optionalString(origin), dest, desc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "origin unit id")
	cmd.Flags().StringVar(&dest, "dest", "", "destination unit id")
	cmd.Flags().StringVar(&desc, "description", "", "movement description")
	return cmd
}

func subprocessSituationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "situations",
		Short: "List the known situations and their families",
		RunE: func(cmd *cobra.Command, args []string) error {
			items := domain.Situations()
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Situation", "Family", "Label", "Terminal"})
			for _, s := range items {
				family := string(s.Family())
				if family == "" {
					family = "-"
				}
				tw.AppendRow(table.Row{s, family, s.Label(), s.Terminal()})
			}
			tw.Render()
			return nil
		},
	}
}

func unitCmd() *cobra.Command {
	unit := &cobra.Command{Use: "unit", Short: "Manage organizational units"}
	unit.AddCommand(unitImportCmd())
	unit.AddCommand(unitListCmd())
	unit.AddCommand(unitShowCmd())
	unit.AddCommand(unitMapCmd())
	return unit
}

func unitImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import units from an org-chart YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.ImportOrgChart(ctx, file); err != nil {
					return err
				}
				items, err := a.Engine.Repo.ListUnits(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("workspace now holds %d units\n", len(items))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "org chart YAML path")
	return cmd
}

func unitListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUnits(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Acronym", "Name", "Type"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Acronym, u.Name, u.Type})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func unitShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <unit-id>",
		Short: "Show unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUnit(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func unitMapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map <unit-id>",
		Short: "Show the unit's effective competency map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				mapID, err := e.Repo.EffectiveMapID(ctx, args[0])
				if err != nil {
					return err
				}
				m, err := e.Repo.GetMap(ctx, mapID)
				if err != nil {
					return err
				}
				acts, err := e.Repo.ListActivities(ctx, mapID)
				if err != nil {
					return err
				}
				out := map[string]any{"map": m}
				activities := make([]map[string]any, 0, len(acts))
				for _, a := range acts {
					kn, err := e.Repo.ListKnowledge(ctx, a.ID)
					if err != nil {
						return err
					}
					activities = append(activities, map[string]any{"activity": a, "knowledge": kn})
				}
				out["activities"] = activities
				return printJSONOrTable(out)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate compmap.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file, _ := cmd.Flags().GetString("file"); file != "" {
				if _, err := config.FromFile(file); err != nil {
					return err
				}
			} else if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	validate.Flags().String("file", "", "validate a specific config file instead of the workspace one")
	cfg.AddCommand(validate)
	return cfg
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var processID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, n, processID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&processID, "process", "", "process id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			if basePath == "" {
				basePath = a.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("COMPMAP_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = a.Config.Server.JWTSecret
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("COMPMAP_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Compmap API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
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
