package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"supportdesk/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your support desk installation",
		Long: `Verifies that the configuration, database, channels, and data
directory are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Support Desk Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'supportdesk init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Data directory exists
			if cfg.General.DataDir != "" {
				if info, err := os.Stat(cfg.General.DataDir); err != nil {
					printFail("Data dir", fmt.Sprintf("not found: %s", cfg.General.DataDir))
					failed++
				} else if !info.IsDir() {
					printFail("Data dir", fmt.Sprintf("not a directory: %s", cfg.General.DataDir))
					failed++
				} else {
					printPass("Data dir", cfg.General.DataDir)
					passed++
				}
			} else {
				printWarn("Data dir", "not configured (using current directory)")
				warned++
			}

			// 4. Database writable
			if err := checkDatabase(cfg.Store.DBPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.Store.DBPath)
				passed++
			}

			// 5. Channels
			channelCount := 0
			if cfg.Channels.Telegram.Enabled {
				channelCount++
				if cfg.Channels.Telegram.Token == "" {
					printFail("Channel: telegram", "enabled but no token configured")
					failed++
				} else {
					printPass("Channel: telegram", "configured")
					passed++
				}
			}
			if cfg.Channels.Console.Enabled {
				channelCount++
				printPass("Channel: console", "enabled")
				passed++
			}
			if channelCount == 0 {
				printFail("Channels", "no channels enabled")
				failed++
			}

			// 6. Languages
			if len(cfg.Support.Languages) > 0 {
				printPass("Languages", fmt.Sprintf("%v", cfg.Support.Languages))
				passed++
			} else {
				printFail("Languages", "none configured")
				failed++
			}

			// 7. Reply overrides directory
			if cfg.Support.RepliesDir != "" {
				if _, err := os.Stat(cfg.Support.RepliesDir); err != nil {
					printWarn("Replies dir", fmt.Sprintf("not found: %s (built-ins will be used)", cfg.Support.RepliesDir))
					warned++
				} else {
					printPass("Replies dir", cfg.Support.RepliesDir)
					passed++
				}
			}

			// 8. Events broker configured
			if cfg.Events.Enabled {
				if cfg.Events.URL == "" {
					printFail("Events", "enabled but no broker url")
					failed++
				} else {
					printPass("Events", cfg.Events.Exchange)
					passed++
				}
			}

			// 9. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkPort(cfg.Metrics.Port); err != nil {
					printWarn("Metrics port", fmt.Sprintf("port %d may be in use: %v", cfg.Metrics.Port, err))
					warned++
				} else {
					printPass("Metrics port", fmt.Sprintf(":%d available", cfg.Metrics.Port))
					passed++
				}
			}

			// 10. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the desk.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nThe desk should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! The support desk is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
