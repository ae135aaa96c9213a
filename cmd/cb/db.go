package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/caboose/internal/config"
	"github.com/zulandar/caboose/internal/db"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var (
		configPath   string
		withExternal bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the Caboose database and tables",
		Long: `Creates the MySQL database if needed and migrates the schedule and log tables.
With --with-external, the conversation, lead and pause tables are created too,
which is useful for local SQLite setups.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath, withExternal)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&withExternal, "with-external", false, "also create conversation, lead and pause tables")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string, withExternal bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config with %d tenants from %s\n", len(cfg.Tenants), configPath)

	if cfg.Database.Driver == "mysql" {
		if err := ensureDatabase(out, cfg.Database, false); err != nil {
			return err
		}
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)
	if err := migrate(out, gormDB, withExternal); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nCaboose database initialized successfully.")
	return nil
}

func newDBMigrateCmd() *cobra.Command {
	var (
		configPath   string
		withExternal bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema changes to an existing database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			gormDB, err := db.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer closeDB(gormDB)
			return migrate(cmd.OutOrStdout(), gormDB, withExternal)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&withExternal, "with-external", false, "also migrate conversation, lead and pause tables")
	return cmd
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath   string
		yes          bool
		withExternal bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-create the Caboose database",
		Long: `Drops the configured database (or deletes the SQLite file) and re-creates
the tables. Every schedule and log entry is lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes, withExternal)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	cmd.Flags().BoolVar(&withExternal, "with-external", false, "also create conversation, lead and pause tables")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, skipConfirm, withExternal bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	target := cfg.Database.Name
	if cfg.Database.Driver == "sqlite" {
		target = cfg.Database.Path
	}
	if !skipConfirm {
		ok, err := confirm(cmd, fmt.Sprintf("This will permanently delete all data in database %q.", target))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	switch cfg.Database.Driver {
	case "mysql":
		if err := ensureDatabase(out, cfg.Database, true); err != nil {
			return err
		}
	case "sqlite":
		if cfg.Database.Path != ":memory:" {
			if err := os.Remove(cfg.Database.Path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", cfg.Database.Path, err)
			}
			fmt.Fprintf(out, "Removed %s\n", cfg.Database.Path)
		}
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)
	if err := migrate(out, gormDB, withExternal); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nCaboose database reset successfully.")
	return nil
}

// ensureDatabase creates the MySQL database, dropping it first when drop is set.
func ensureDatabase(out io.Writer, cfg config.DatabaseConfig, drop bool) error {
	adminDB, err := db.ConnectAdmin(cfg.Host, cfg.Port, cfg.User, cfg.Password())
	if err != nil {
		return err
	}
	defer closeDB(adminDB)
	fmt.Fprintf(out, "Connected to MySQL at %s:%d\n", cfg.Host, cfg.Port)

	if drop {
		if err := db.DropDatabase(adminDB, cfg.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Dropped database %s\n", cfg.Name)
	}
	if err := db.CreateDatabase(adminDB, cfg.Name); err != nil {
		return err
	}
	fmt.Fprintf(out, "Database %s ready\n", cfg.Name)
	return nil
}

func migrate(out io.Writer, gormDB *gorm.DB, withExternal bool) error {
	if err := db.AutoMigrate(gormDB, withExternal); err != nil {
		return err
	}
	n := len(db.OwnedModels())
	if withExternal {
		n = len(db.AllModels())
	}
	fmt.Fprintf(out, "Migrated %d tables\n", n)
	return nil
}

func closeDB(gormDB *gorm.DB) {
	if sqlDB, err := gormDB.DB(); err == nil {
		sqlDB.Close()
	}
}
