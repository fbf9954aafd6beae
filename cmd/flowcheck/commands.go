package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/config"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/sink"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/storage"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/task"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/testdata"
)

const (
	durationRounding    = time.Millisecond
	historyTimeLayout   = "2006-01-02 15:04:05"
	directoryMode       = 0o755
	tabwriterMinWidth   = 0
	tabwriterTabWidth   = 4
	tabwriterPadding    = 2
	tabwriterPadChar    = ' '
	createdFormat       = "created %s\n"
	fellBackFormat      = "environment %q is unknown, using %s\n"
	resultPassed        = "passed"
	resultFailed        = "failed"
	scenarioHeader      = "ID\tTAGS\tNAME"
	scenarioRowFormat   = "%s\t%s\t%s\n"
	historyHeader       = "STARTED\tRUN\tENV\tSELECTION\tPASSED\tFAILED\tSKIPPED\tRESULT"
	historyRowFormat    = "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n"
	noRunsMessage       = "no runs recorded"
	tagSeparator        = ","
	historyIDDisplayLen = 8
)

func (application *Application) validateConfigCommand() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseValidateConfig,
		Short: commandShortValidateConfig,
		Args:  rejectArguments,
		RunE: func(command *cobra.Command, arguments []string) error {
			resolved, resolveErr := application.resolve("")
			if resolveErr != nil {
				return resolveErr
			}
			output := command.OutOrStdout()
			if resolved.FellBack() {
				fmt.Fprintf(output, fellBackFormat, resolved.RequestedEnvironment, resolved.Environment)
			}
			encoded, encodeErr := json.MarshalIndent(resolved.Summary(), "", "  ")
			if encodeErr != nil {
				return fmt.Errorf("%s: %w", errorMessageEncodeConfiguration, encodeErr)
			}
			fmt.Fprintln(output, string(encoded))
			return nil
		},
	}
	return command, nil
}

func (application *Application) listScenariosCommand() (*cobra.Command, error) {
	var tag string
	command := &cobra.Command{
		Use:   commandUseListScenarios,
		Short: commandShortListScenarios,
		Args:  rejectArguments,
		RunE: func(command *cobra.Command, arguments []string) error {
			catalog, catalogErr := testdata.DefaultCatalog()
			if catalogErr != nil {
				return fmt.Errorf("%s: %w", errorMessageLoadCatalog, catalogErr)
			}
			definitions := catalog.All()
			if trimmedTag := strings.TrimSpace(tag); trimmedTag != "" {
				definitions = catalog.WithTags(trimmedTag)
			}

			writer := tabwriter.NewWriter(command.OutOrStdout(), tabwriterMinWidth, tabwriterTabWidth, tabwriterPadding, tabwriterPadChar, 0)
			fmt.Fprintln(writer, scenarioHeader)
			for _, definition := range definitions {
				fmt.Fprintf(writer, scenarioRowFormat, definition.ID, strings.Join(definition.Tags, tagSeparator), definition.Name)
			}
			return writer.Flush()
		},
	}
	command.Flags().StringVar(&tag, flagNameTag, "", flagUsageTag)
	return command, nil
}

func (application *Application) setupCommand() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseSetup,
		Short: commandShortSetup,
		Args:  rejectArguments,
		RunE: func(command *cobra.Command, arguments []string) error {
			settings, loadErr := application.loadSettings()
			if loadErr != nil {
				return loadErr
			}
			output := command.OutOrStdout()
			for _, directory := range setupDirectories(settings) {
				if mkdirErr := os.MkdirAll(directory, directoryMode); mkdirErr != nil {
					return fmt.Errorf("%s %s: %w", errorMessageCreateDirectory, directory, mkdirErr)
				}
				fmt.Fprintf(output, createdFormat, directory)
			}
			return nil
		},
	}
	return command, nil
}

// setupDirectories lists the artifact directories of settings without duplicates.
func setupDirectories(settings config.EnvironmentSettings) []string {
	candidates := []string{
		settings.ReportDirectory,
		settings.ScreenshotDirectory,
		parentDirectory(settings.LogFile),
		parentDirectory(settings.HistoryDatabase),
	}
	var directories []string
	for _, candidate := range candidates {
		cleaned := strings.TrimSpace(candidate)
		if cleaned == "" || cleaned == "." {
			continue
		}
		cleaned = filepath.Clean(cleaned)
		if !slices.Contains(directories, cleaned) {
			directories = append(directories, cleaned)
		}
	}
	return directories
}

func parentDirectory(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	return filepath.Dir(path)
}

func (application *Application) historyCommand() (*cobra.Command, error) {
	var limit int
	command := &cobra.Command{
		Use:   commandUseHistory,
		Short: commandShortHistory,
		Args:  rejectArguments,
		RunE: func(command *cobra.Command, arguments []string) error {
			settings, loadErr := application.loadSettings()
			if loadErr != nil {
				return loadErr
			}
			history, closeDatabase, openErr := openRunHistory(settings.HistoryDatabase)
			if openErr != nil {
				return openErr
			}
			defer closeDatabase()

			records, listErr := history.Recent(command.Context(), limit)
			if listErr != nil {
				return listErr
			}
			output := command.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(output, noRunsMessage)
				return nil
			}

			writer := tabwriter.NewWriter(output, tabwriterMinWidth, tabwriterTabWidth, tabwriterPadding, tabwriterPadChar, 0)
			fmt.Fprintln(writer, historyHeader)
			for _, record := range records {
				result := resultPassed
				if !record.Succeeded() {
					result = resultFailed
				}
				fmt.Fprintf(writer, historyRowFormat,
					record.StartedAt.Local().Format(historyTimeLayout),
					shortID(record.ID),
					record.Environment,
					record.Selection,
					record.Passed,
					record.Failed,
					record.Skipped,
					result,
				)
			}
			return writer.Flush()
		},
	}
	command.Flags().IntVar(&limit, flagNameLimit, defaultHistoryLimit, flagUsageLimit)
	return command, nil
}

func shortID(id string) string {
	if len(id) <= historyIDDisplayLen {
		return id
	}
	return id[:historyIDDisplayLen]
}

func (application *Application) serveSinkCommand() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseServeSink,
		Short: commandShortServeSink,
		Args:  rejectArguments,
		RunE:  application.serveSink,
	}

	commandFlags := command.Flags()
	commandFlags.String(flagNameSinkAddress, sink.DefaultAddress, flagUsageSinkAddress)
	commandFlags.String(flagNameSinkDatabase, defaultSinkDatabase, flagUsageSinkDatabase)
	commandFlags.Duration(flagNameSinkRetention, task.DefaultRetention, flagUsageSinkRetention)

	if bindErr := application.bindFlag(commandFlags, environmentKeySinkAddress, flagNameSinkAddress); bindErr != nil {
		return nil, bindErr
	}
	if bindErr := application.bindFlag(commandFlags, environmentKeySinkDatabase, flagNameSinkDatabase); bindErr != nil {
		return nil, bindErr
	}
	if bindErr := application.bindFlag(commandFlags, environmentKeySinkRetention, flagNameSinkRetention); bindErr != nil {
		return nil, bindErr
	}

	return command, nil
}

func (application *Application) serveSink(command *cobra.Command, arguments []string) error {
	settings, loadErr := application.loadSettings()
	if loadErr != nil {
		return loadErr
	}
	logger, loggerErr := newLogger(settings.LogLevel, settings.LogFile)
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, closeDatabase, openErr := openMigratedDatabase(application.configurationLoader.GetString(environmentKeySinkDatabase))
	if openErr != nil {
		return fmt.Errorf("%s: %w", errorMessageOpenSinkDatabase, openErr)
	}
	defer closeDatabase()

	server := sink.NewServer(sink.Config{
		Address:   strings.TrimSpace(application.configurationLoader.GetString(environmentKeySinkAddress)),
		Retention: application.configurationLoader.GetDuration(environmentKeySinkRetention),
	}, storage.NewDeliveryStore(database), logger)

	ctx, stop := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx)
}

// openMigratedDatabase opens the sqlite file at path and applies the migrations.
func openMigratedDatabase(path string) (*gorm.DB, func(), error) {
	databaseConfig, configErr := storage.SQLiteFileConfig(path)
	if configErr != nil {
		return nil, nil, configErr
	}
	database, openErr := storage.OpenDatabase(databaseConfig)
	if openErr != nil {
		return nil, nil, openErr
	}
	closeDatabase := func() {
		if sqlDatabase, sqlErr := database.DB(); sqlErr == nil {
			_ = sqlDatabase.Close()
		}
	}
	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		closeDatabase()
		return nil, nil, migrateErr
	}
	return database, closeDatabase, nil
}
