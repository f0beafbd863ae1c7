package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/app"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/backend"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/config"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/contacts"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/logging"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/model"
)

var (
	email    string
	password string
	sizes    []int
	signUp   bool
)

var rootCmd = &cobra.Command{
	Use:   "client",
	Short: "Measures the latency of the contact operations against the configured backend",
	Long: `client signs in to the backend selected by CONTACTS_BACKEND and measures the average
latency in microseconds of inserting, listing, updating and deleting contacts. All contacts it
creates are deleted again.`,
	Example:      `  CONTACTS_BACKEND=memory go run main.go --signup --email=bench@example.com --password=secret-password`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		b, closeBackend, err := app.OpenBackend(cfg, logger)
		if err != nil {
			return err
		}
		defer closeBackend()

		ctx := cmd.Context()
		creds, err := signIn(ctx, b)
		if err != nil {
			return err
		}
		tables := b.Client(creds.AccessToken)
		contacts.EnsureProfile(ctx, tables, creds.Identity, logger)
		return run(ctx, contacts.NewRepository(tables), creds.Identity.ID)
	},
}

func init() {
	rootCmd.Flags().StringVar(&email, "email", os.Getenv("BENCH_EMAIL"), "the e-mail address to sign in with")
	rootCmd.Flags().StringVar(&password, "password", os.Getenv("BENCH_PASSWORD"), "the password to sign in with")
	rootCmd.Flags().IntSliceVar(&sizes, "sizes", []int{10, 50, 100, 500}, "the number of contacts per round")
	rootCmd.Flags().BoolVar(&signUp, "signup", false, "create the account first")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func signIn(ctx context.Context, b backend.Backend) (*model.Credentials, error) {
	if signUp {
		_, creds, err := b.SignUp(ctx, email, password)
		if err != nil && !errors.Is(err, backend.ErrUserExists) {
			return nil, err
		}
		if creds != nil {
			return creds, nil
		}
	}
	return b.SignIn(ctx, email, password)
}

// run prints one line per round with the average latency of each operation.
func run(ctx context.Context, repo *contacts.Repository, ownerID string) error {
	fmt.Println()
	fmt.Println("  Elements    INSERT      LIST    UPDATE    DELETE ")
	fmt.Println("---------------------------------------------------")
	for _, loops := range sizes {
		if loops <= 0 {
			continue
		}
		if err := round(ctx, repo, ownerID, loops); err != nil {
			fmt.Println()
			return err
		}
		fmt.Println()
	}
	return nil
}

// round measures one line of the table. Whatever it inserted is deleted again, also when an
// operation fails halfway.
func round(ctx context.Context, repo *contacts.Repository, ownerID string, loops int) (err error) {
	fields := model.NewContactFields("Marcus Antonius", "+39 999 777 555", "marcus@example.com", "")
	fmt.Printf("%10d", loops)

	ids := make([]string, 0, loops)
	deleted := false
	defer func() {
		if deleted {
			return
		}
		for _, id := range ids {
			if cleanupErr := repo.Delete(context.WithoutCancel(ctx), id); cleanupErr != nil && err == nil {
				err = fmt.Errorf("cleanup: %w", cleanupErr)
			}
		}
	}()

	var duration time.Duration
	for i := 0; i < loops; i++ {
		before := time.Now()
		contact, err := repo.Insert(ctx, ownerID, fields)
		duration += time.Since(before)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		ids = append(ids, contact.Id)
	}
	printAverage(duration, loops)

	duration = 0
	for i := 0; i < loops; i++ {
		before := time.Now()
		_, err := repo.List(ctx, ownerID)
		duration += time.Since(before)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
	}
	printAverage(duration, loops)

	if err := callInLoop(ids, func(id string) error { return repo.Update(ctx, id, fields) }); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if err := callInLoop(ids, func(id string) error { return repo.Delete(ctx, id) }); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	deleted = true
	return nil
}

// callInLoop calls f once per id, in random order, and prints the average latency.
func callInLoop(ids []string, f func(id string) error) error {
	shuffled := append([]string(nil), ids...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	var duration time.Duration
	for _, id := range shuffled {
		before := time.Now()
		err := f(id)
		duration += time.Since(before)
		if err != nil {
			return err
		}
	}
	printAverage(duration, len(ids))
	return nil
}

func printAverage(duration time.Duration, loops int) {
	fmt.Printf("%10d", duration.Microseconds()/int64(loops))
}
