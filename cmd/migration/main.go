package main

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/backend/sqlstore"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/config"
)

var validDatabaseName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var (
	file   string
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "migration",
	Short: "Creates the database and tables of the self-hosted backend",
	Long: `migration creates the database named by DBNAME, if it does not exist yet, and then
executes the statements of the given SQL file against it.`,
	Example: `  DBHOST=localhost:3306 DBUSER=dirk DBPWD=bullo92 go run main.go --file=../../scripts/database.sql`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.DatabaseFromEnv()
		if err != nil {
			return err
		}
		if err := createDatabase(cfg); err != nil {
			return err
		}
		count, err := executeFile(cfg, file)
		if err != nil {
			return err
		}
		logger.Info("migration finished", zap.String("database", cfg.Name), zap.Int("statements", count))
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&file, "file", "f", "database.sql", "the sql file to execute")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// createDatabase connects without selecting a database and creates the configured one.
func createDatabase(cfg config.Database) error {
	if !validDatabaseName.MatchString(cfg.Name) {
		return fmt.Errorf("invalid database name %q", cfg.Name)
	}
	server := cfg
	server.Name = ""
	sqlDB, err := sqlstore.OpenDatabase(server)
	if err != nil {
		return err
	}
	db := sqlx.NewDb(sqlDB, "mysql")
	defer db.Close()
	_, err = db.Exec("CREATE DATABASE IF NOT EXISTS `" + cfg.Name + "` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci")
	if err != nil {
		return fmt.Errorf("creating database %s: %w", cfg.Name, err)
	}
	logger.Info("database ready", zap.String("database", cfg.Name))
	return nil
}

// executeFile runs the statements of the file one after the other. A statement ends on the first
// line that contains a semicolon; lines starting with -- are skipped.
func executeFile(cfg config.Database, path string) (int, error) {
	sqlDB, err := sqlstore.OpenDatabase(cfg)
	if err != nil {
		return 0, err
	}
	db := sqlx.NewDb(sqlDB, "mysql")
	defer db.Close()

	readFile, err := os.Open(path) // nosemgrep
	if err != nil {
		return 0, err
	}
	defer readFile.Close()

	count := 0
	fileScanner := bufio.NewScanner(readFile)
	fileScanner.Split(bufio.ScanLines)
	builder := strings.Builder{}
	for fileScanner.Scan() {
		line := fileScanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		builder.WriteString(line)
		builder.WriteString(" ")
		if strings.Contains(line, ";") {
			statement := builder.String()
			if _, err := db.Exec(statement); err != nil {
				return count, fmt.Errorf("executing %q: %w", strings.TrimSpace(statement), err)
			}
			count++
			logger.Debug("statement executed", zap.String("sql", strings.TrimSpace(statement)))
			builder = strings.Builder{}
		}
	}
	return count, fileScanner.Err()
}
