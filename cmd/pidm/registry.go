package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/scieloorg/pidmanager/internal/pid"
	"github.com/scieloorg/pidmanager/internal/registry"
)

var (
	reconcileShort    string
	reconcileLong     string
	reconcilePrevious string
)

func init() {
	reconcileCmd.Flags().StringVar(&reconcileShort, "v2", "", "Short id declared by the document")
	reconcileCmd.Flags().StringVar(&reconcileLong, "v3", "", "Long id declared by the document")
	reconcileCmd.Flags().StringVar(&reconcilePrevious, "previous", "", "Previous (ahead-of-print) short id")

	registryCmd.AddCommand(lookupCmd)
	registryCmd.AddCommand(registerCmd)
	registryCmd.AddCommand(recordsCmd)
	registryCmd.AddCommand(reconcileCmd)
	registryCmd.AddCommand(countCmd)
	registryCmd.AddCommand(registryExportCmd)
	registryCmd.AddCommand(registryImportCmd)
	rootCmd.AddCommand(registryCmd)
}

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect and maintain the identifier registry",
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <v2>",
	Short: "Print the long id registered for a short id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := mustOpenRegistry(mustLoadConfig(), newLogger())
		defer reg.Close()

		longID, err := reg.LookupLongID(context.Background(), args[0])
		if err != nil {
			exitWithError(ExitError, "%v", err)
		}
		if longID == "" {
			exitWithError(ExitDataError, "no long id registered for %s", args[0])
		}
		if humanOutput {
			outputHuman("%s\n", longID)
			return nil
		}
		return outputJSON(registry.Record{ShortID: args[0], LongID: longID})
	},
}

// RegisterResponse is the response for registry register.
type RegisterResponse struct {
	ShortID string `json:"v2"`
	LongID  string `json:"v3"`
	Created bool   `json:"created"`
}

var registerCmd = &cobra.Command{
	Use:   "register <v2> <v3>",
	Short: "Record a short id / long id pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pid.ValidateShortID(args[0]); err != nil {
			exitWithError(ExitDataError, "%v", err)
		}
		if err := pid.ValidateLongID(args[1]); err != nil {
			exitWithError(ExitDataError, "%v", err)
		}

		reg := mustOpenRegistry(mustLoadConfig(), newLogger())
		defer reg.Close()

		created, err := reg.Register(context.Background(), args[0], args[1])
		if err != nil {
			exitWithError(ExitError, "%v", err)
		}
		if humanOutput {
			if created {
				outputHuman("Registered %s -> %s\n", args[0], args[1])
			} else {
				outputHuman("Already registered: %s -> %s\n", args[0], args[1])
			}
			return nil
		}
		return outputJSON(RegisterResponse{ShortID: args[0], LongID: args[1], Created: created})
	},
}

var recordsCmd = &cobra.Command{
	Use:   "records <v2>",
	Short: "List every record under a short id, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := mustOpenRegistry(mustLoadConfig(), newLogger())
		defer reg.Close()

		records, err := reg.RecordsFor(context.Background(), args[0])
		if err != nil {
			exitWithError(ExitError, "%v", err)
		}
		if records == nil {
			records = []registry.Record{}
		}
		if humanOutput {
			for _, r := range records {
				outputHuman("%s\t%s\n", r.ShortID, r.LongID)
			}
			return nil
		}
		return outputJSON(records)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile declared identifiers against the registry",
	Long: `Reconcile the identifiers a document declares against the registry,
normalizing the registry records, and print the authoritative set.

Examples:
  pidm registry reconcile --v2 S3456-09872009000554321
  pidm registry reconcile --v2 S3456-09872009000554321 --previous S3456-09872009005000001`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := mustOpenRegistry(mustLoadConfig(), newLogger())
		defer reg.Close()

		res, err := reg.Reconcile(context.Background(), registry.Declared{
			ShortID:    reconcileShort,
			LongID:     reconcileLong,
			PreviousID: reconcilePrevious,
		}, pid.UUIDGenerator{})
		if err != nil {
			exitWithError(ExitError, "%v", err)
		}
		if res == nil {
			exitWithError(ExitDataError, "nothing to reconcile: give --v2 or --previous")
		}
		if humanOutput {
			outputHuman("v2:       %s\n", res.ShortID)
			outputHuman("v3:       %s\n", res.LongID)
			outputHuman("previous: %s\n", res.PreviousID)
			outputHuman("outcome:  %s", res.Outcome)
			if res.Conflict {
				outputHuman(" (conflict)")
			}
			outputHuman("\n")
			return nil
		}
		return outputJSON(res)
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of registry records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := mustOpenRegistry(mustLoadConfig(), newLogger())
		defer reg.Close()

		n, err := reg.Count(context.Background())
		if err != nil {
			exitWithError(ExitError, "%v", err)
		}
		if humanOutput {
			outputHuman("%d\n", n)
			return nil
		}
		return outputJSON(StatusResponse{Status: "ok", Count: n})
	},
}

var registryExportCmd = &cobra.Command{
	Use:   "export <file.jsonl>",
	Short: "Write every registry record to a JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := mustOpenRegistry(mustLoadConfig(), newLogger())
		defer reg.Close()

		n, err := reg.ExportJSONL(context.Background(), args[0])
		if err != nil {
			exitWithError(ExitError, "%v", err)
		}
		return reportTransfer("exported", args[0], n)
	},
}

var registryImportCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Add records from a JSONL file, skipping pairs already present",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := mustOpenRegistry(mustLoadConfig(), newLogger())
		defer reg.Close()

		n, err := reg.ImportJSONL(context.Background(), args[0])
		if err != nil {
			exitWithError(ExitDataError, "%v", err)
		}
		return reportTransfer("imported", args[0], n)
	},
}

func reportTransfer(status, path string, n int) error {
	if humanOutput {
		outputHuman("%d records %s (%s)\n", n, status, path)
		return nil
	}
	return outputJSON(StatusResponse{Status: status, Path: path, Count: n})
}
