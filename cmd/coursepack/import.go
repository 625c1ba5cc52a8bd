package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/coursepack/internal/config"
	"github.com/MarcoPoloResearchLab/coursepack/internal/importer"
	"github.com/MarcoPoloResearchLab/coursepack/internal/logging"
	"github.com/MarcoPoloResearchLab/coursepack/internal/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newImportCommand() *cobra.Command {
	var uploaderID string
	cmd := &cobra.Command{
		Use:   "import <archive>",
		Short: "Import a course archive on behalf of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd.OutOrStdout(), args[0], uploaderID)
		},
	}
	cmd.Flags().StringVar(&uploaderID, "user", "", "Canonical id of the uploading user")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runImport(ctx context.Context, out io.Writer, archivePath string, uploaderID string) error {
	uploaderID = strings.TrimSpace(uploaderID)
	if uploaderID == "" {
		return fmt.Errorf("--user is required")
	}
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, logging.FormatConsole)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	rt, err := buildRuntime(ctx, appConfig, logger, metrics.Noop{})
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	result, importErr := rt.importer.Import(ctx, importer.Upload{Filename: filepath.Base(archivePath), Content: file}, uploaderID)
	writeResult(out, result)
	if importErr != nil {
		return fmt.Errorf("import %s: %s", result.Outcome, importErr)
	}
	return nil
}

func writeResult(out io.Writer, result importer.Result) {
	for _, advisory := range result.Advisories {
		fmt.Fprintf(out, "[%s] %s\n", advisory.Severity, advisory.Message)
	}
	if result.Course != nil {
		fmt.Fprintf(out, "%s: course %q (id %d) is at version %d\n",
			result.Outcome, result.Course.ShortName, result.Course.ID, result.Course.Version)
		return
	}
	fmt.Fprintf(out, "%s\n", result.Outcome)
}
