package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/classgate/classgate/internal/config"
	"github.com/classgate/classgate/internal/invite"
	"github.com/classgate/classgate/internal/password"
	"github.com/classgate/classgate/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed an admin account and a demo invite code",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	userStore := user.NewStore(pool)
	inviteStore := invite.NewStore(pool)

	// Check if seed has already run.
	if _, err := userStore.GetByIdentifier(ctx, user.Username("admin")); err == nil {
		slog.Info("admin account already exists, skipping seed")
		return nil
	}

	adminPassword, err := randomPassword()
	if err != nil {
		return fmt.Errorf("generating admin password: %w", err)
	}
	hash, err := password.Hash(adminPassword)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}

	admin, err := userStore.Create(ctx, user.CreateInput{
		Identifier:   user.Username("admin"),
		PasswordHash: hash,
		Nickname:     "Administrator",
		Role:         user.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("creating admin account: %w", err)
	}
	slog.Info("created admin account", "id", admin.ID)

	code, err := inviteStore.Issue(ctx, invite.IssueInput{
		TargetRole: user.RoleStudent,
		MaxUses:    10,
		CreatedBy:  admin.ID,
	})
	if err != nil {
		return fmt.Errorf("creating demo invite code: %w", err)
	}
	slog.Info("created demo invite code", "id", code.ID, "code", code.Code)

	fmt.Printf("\n=== Seed Complete ===\n")
	fmt.Printf("Admin:       admin / %s\n", adminPassword)
	fmt.Printf("Invite code: %s (grants %s, %d uses)\n", code.Code, code.TargetRole, code.MaxUses)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST http://localhost:%d/api/v1/auth/register -d '{\"username\":\"alice\",\"password\":\"changeme123\",\"inviteCode\":\"%s\"}'\n", cfg.Server.Port, code.Code)

	return nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
