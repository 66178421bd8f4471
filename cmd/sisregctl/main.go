package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/sisreg-api/internal/app"
	"github.com/jwalitptl/sisreg-api/internal/config"
	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository/postgres"
	userService "github.com/jwalitptl/sisreg-api/internal/service/user"
	"github.com/jwalitptl/sisreg-api/pkg/logger"
)

// operator is the principal administrative commands run as.
var operator = &model.Principal{
	Username:    "sisregctl",
	Name:        "sisregctl",
	Permissions: model.NewPermissionSet(model.PermAdminTotal),
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "sisregctl",
		Short:         "SISREG administration tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(initDBCmd())
	rootCmd.AddCommand(createUserCmd())
	rootCmd.AddCommand(assignRoleCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

type env struct {
	cfg      *config.Config
	db       *sqlx.DB
	services *app.Services
}

func setup() (*env, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Log.Level, true)

	db, err := postgres.NewDB(postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, err
	}

	services, err := app.NewServices(app.PostgresStores(db), cfg, nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &env{cfg: cfg, db: db, services: services}, nil
}

func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Apply the schema and seed permissions, roles and the admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.db.Close()

			ctx := cmd.Context()
			if err := postgres.ApplySchema(ctx, e.db); err != nil {
				return err
			}
			if err := e.services.Bootstrap(ctx, e.cfg.Bootstrap); err != nil {
				return err
			}
			if e.cfg.Bootstrap.AdminPassword == "" {
				log.Warn().Msg("SISREG_ADMIN_PASSWORD not set, admin user not created")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database initialized")
			return nil
		},
	}
}

func createUserCmd() *cobra.Command {
	var in userService.CreateUserInput
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.db.Close()

			u, err := e.services.Users.CreateUser(cmd.Context(), operator, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "full name")
	cmd.Flags().StringVar(&in.Username, "username", "", "login name")
	cmd.Flags().StringVar(&in.Email, "email", "", "e-mail address")
	cmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	cmd.Flags().StringVar(&in.Profile, "profile", "", "legacy profile label")
	for _, f := range []string{"name", "username", "email", "password"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func assignRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign-role <username> <role>",
		Short: "Assign a role to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.db.Close()

			return assignRole(cmd.Context(), e.services, args[0], args[1])
		},
	}
}

func assignRole(ctx context.Context, s *app.Services, username, roleName string) error {
	u, err := s.Stores.Users.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user %q: %w", username, err)
	}
	role, err := s.Stores.Roles.GetByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("role %q: %w", roleName, err)
	}
	if err := s.RBAC.AssignRole(ctx, operator, u.ID, role.ID); err != nil {
		return err
	}
	log.Info().Str("username", username).Str("role", roleName).Msg("role assigned")
	return nil
}
