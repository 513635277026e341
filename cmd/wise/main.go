package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/ryokaneoka0406/wise/internal/auth/google"
	"github.com/ryokaneoka0406/wise/internal/auth/token"
	"github.com/ryokaneoka0406/wise/internal/chat"
	"github.com/ryokaneoka0406/wise/internal/config"
	"github.com/ryokaneoka0406/wise/internal/datastore"
	"github.com/ryokaneoka0406/wise/internal/db"
	"github.com/ryokaneoka0406/wise/internal/db/models"
	"github.com/ryokaneoka0406/wise/internal/llm"
	"github.com/ryokaneoka0406/wise/internal/metadata"
	"github.com/ryokaneoka0406/wise/internal/version"
	"github.com/ryokaneoka0406/wise/internal/warehouse"
)

var (
	flagConfig  string
	flagProject string
	flagDBPath  string
	flagDataDir string
)

var rootCmd = &cobra.Command{
	Use:   "wise",
	Short: "Conversational BigQuery analysis from your terminal",
	Long:  "wise turns natural-language questions into BigQuery SQL, runs them, and saves the results to analysis folders on disk.",
	RunE:  runChat,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run the Google OAuth consent flow and store the refresh credential",
	RunE:  runLogin,
}

var initCmd = &cobra.Command{
	Use:   "init [dataset ...]",
	Short: "Build a metadata snapshot for the project (all datasets by default)",
	RunE:  runInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wise %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to wise.yaml")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "p", "", "BigQuery project id")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Path to the local SQLite store")
	rootCmd.PersistentFlags().StringVarP(&flagDataDir, "data-dir", "d", "", "Directory for metadata and analysis output")
	rootCmd.AddCommand(loginCmd, initCmd, versionCmd)
}

func main() {
	log.SetFlags(0)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config and opens the local store shared by every command.
func setup() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	if flagProject != "" {
		cfg.Project = flagProject
	}
	if flagDBPath != "" {
		cfg.DBPath = flagDBPath
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}
	return cfg, database, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, database, err := setup()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	tokens := token.NewManager(database, google.OAuthConfig(cfg, ""))
	wh := warehouse.NewClient(os.Getenv("WISE_BIGQUERY_URL"), cfg.Location)
	gen := llm.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, os.Getenv("WISE_GEMINI_URL"))
	consent := func(ctx context.Context) (*models.Account, error) {
		return google.RunConsentFlow(ctx, database, cfg, os.Stdout)
	}

	fmt.Println("Welcome to wise! Ask a question, or type 'init', 'login', or 'exit'.")
	session := chat.New(database, cfg, tokens, wh, gen, consent, os.Stdin, os.Stdout)
	return session.Run(cmd.Context())
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, database, err := setup()
	if err != nil {
		return err
	}
	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return fmt.Errorf("google_client_id and google_client_secret are required for login")
	}

	account, err := google.RunConsentFlow(cmd.Context(), database, cfg, os.Stdout)
	if err != nil {
		return err
	}
	fmt.Printf("Authenticated as %s.\n", account.Email)
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, database, err := setup()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var account models.Account
	if err := database.Where("refresh_token <> ''").Order("last_used_at DESC").First(&account).Error; err != nil {
		return fmt.Errorf("no stored account; run 'wise login' first")
	}

	tokens := token.NewManager(database, google.OAuthConfig(cfg, ""))
	accessToken, _, err := tokens.AccessToken(cmd.Context(), account.ID)
	if err != nil {
		return err
	}

	wh := warehouse.NewClient(os.Getenv("WISE_BIGQUERY_URL"), cfg.Location)
	builder := metadata.NewBuilder(wh, cfg.SampleRows)
	snap, err := builder.Build(cmd.Context(), accessToken, cfg.Project, cfg.Location, args)
	if err != nil {
		return err
	}

	path, err := datastore.WriteMetadata(cfg.DataDir, cfg.Project, metadata.Render(snap))
	if err != nil {
		return err
	}
	fmt.Printf("Metadata for %d dataset(s) written to %s\n", len(snap.Datasets), path)
	return nil
}
