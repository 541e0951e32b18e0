package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"giftline/internal/app"
	"giftline/internal/config"
	"giftline/internal/engine"
	"giftline/internal/engine/auth"
	"giftline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "giftline",
	Short: "Giftline production and delivery backend",
	Long: `Giftline runs the workshop and the delivery night.
- Recipients: who gets a gift, where they live and whether they are on the nice list.
- Inventory: finished gifts and the raw materials recipes turn into them.
- Fleet: the units that carry groups out, with stamina and magic that drain per delivery.
- Groups: a batch of recipient and gift pairs bound to one unit, fulfilled all or nothing.
Run 'giftline seed' once for sample data, then 'giftline serve'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GIFTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().String("db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(giftCmd())
	rootCmd.AddCommand(materialCmd())
	rootCmd.AddCommand(fleetCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(staffCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowStaffHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("GIFTLINE_JWT_SECRET is required for bearer auth")
			}
			log := app.NewLogger(cfg, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, conn, err := app.Open(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer conn.Close()

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					JWTSecret:        secret,
					TokenTTL:         cfg.TokenTTL(),
					Issuer:           cfg.Auth.Issuer,
					AllowStaffHeader: allowStaffHeader,
				},
				Log: log,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info().Str("addr", cfg.Server.Addr).Str("base_path", cfg.Server.BasePath).Msg("serving giftline api")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				log.Info().Msg("shutting down")
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (overrides config)")
	cmd.Flags().BoolVar(&allowStaffHeader, "allow-staff-header", false, "accept X-Staff-Id without a token (local use only)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, conn, err := app.Open(cmd.Context(), cfg, app.NewLogger(cfg, os.Stderr))
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Println("database up to date")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load reference data and sample records into an empty database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := app.Seed(ctx, e)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				if rep.Skipped {
					fmt.Println("database already has data; nothing seeded")
					return nil
				}
				fmt.Printf("seeded %d regions, %d codes, %d gifts, %d materials, %d recipe lines, %d fleet units, %d staff, %d recipients\n",
					rep.Regions, rep.Codes, rep.Gifts, rep.Materials, rep.Recipes, rep.Fleet, rep.Staff, rep.Recipients)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage giftline.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("config"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func giftCmd() *cobra.Command {
	gift := &cobra.Command{Use: "gift", Short: "Inspect finished goods"}
	gift.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List gifts and stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListGifts(ctx, auth.System())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, g := range items {
					rows = append(rows, table.Row{g.ID, g.Name, g.Stock})
				}
				return printJSONOrTable(items, table.Row{"ID", "Name", "Stock"}, rows)
			})
		},
	})
	return gift
}

func materialCmd() *cobra.Command {
	mat := &cobra.Command{Use: "material", Short: "Inspect raw materials"}
	mat.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List materials and stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListMaterials(ctx, auth.System())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, m := range items {
					rows = append(rows, table.Row{m.ID, m.Name, m.Stock})
				}
				return printJSONOrTable(items, table.Row{"ID", "Name", "Stock"}, rows)
			})
		},
	})
	return mat
}

func fleetCmd() *cobra.Command {
	fleet := &cobra.Command{Use: "fleet", Short: "Inspect fleet units"}
	fleet.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List fleet units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListFleet(ctx, auth.System())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, u := range items {
					rows = append(rows, table.Row{u.ID, u.Name, u.Stamina, u.Magic, u.Status})
				}
				return printJSONOrTable(items, table.Row{"ID", "Name", "Stamina", "Magic", "Status"}, rows)
			})
		},
	})
	return fleet
}

func groupCmd() *cobra.Command {
	group := &cobra.Command{Use: "group", Short: "Inspect delivery groups"}
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List delivery groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListGroups(ctx, auth.System(), status)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, g := range items {
					rows = append(rows, table.Row{g.ID, g.Name, g.FleetUnitID, g.Status, g.ItemCount, g.FailureReason})
				}
				return printJSONOrTable(items, table.Row{"ID", "Name", "Unit", "Status", "Items", "Failure"}, rows)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "PENDING (default), DONE, FAILED or ALL")
	group.AddCommand(list)
	return group
}

func staffCmd() *cobra.Command {
	staff := &cobra.Command{Use: "staff", Short: "Manage staff accounts"}
	var opts engine.CreateStaffOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a staff account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateStaff(ctx, auth.System(), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s, table.Row{"ID", "Username", "Name", "Role"}, []table.Row{{s.ID, s.Username, s.Name, s.Role}})
			})
		},
	}
	create.Flags().StringVar(&opts.Username, "username", "", "login name")
	create.Flags().StringVar(&opts.Password, "password", "", "password")
	create.Flags().StringVar(&opts.Name, "name", "", "display name")
	create.Flags().StringVar(&opts.Role, "role", "", "role id from config access.roles")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("password")
	_ = create.MarkFlagRequired("role")
	staff.AddCommand(create)
	staff.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List staff accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListStaff(ctx, auth.System())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, s := range items {
					rows = append(rows, table.Row{s.ID, s.Username, s.Name, s.Role})
				}
				return printJSONOrTable(items, table.Row{"ID", "Username", "Name", "Role"}, rows)
			})
		},
	})
	return staff
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if p := viper.GetString("db"); p != "" {
		cfg.Database.Path = p
	}
	return cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg, os.Stderr).Level(zerolog.WarnLevel)
	e, conn, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func printJSONOrTable(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.SetStyle(table.StyleLight)
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
