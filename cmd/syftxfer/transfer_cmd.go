package main

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/openmined/syftxfer/internal/handler"
	"github.com/openmined/syftxfer/internal/history"
	"github.com/openmined/syftxfer/internal/transfer"
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload [local-path] [remote-path]",
		Short: "Copy local files to the remote without deleting anything",
		Long: `Copy a local file or directory to the remote. Paths are relative to the
configured roots; the remote path defaults to the local one.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := pickHandler(cmd, handler.Upload, handler.UploadFile, handler.UploadFolder)
			local, remote := targetArgs(args)
			return runHandler(cmd, h, handler.Target{LocalPath: local, RemotePath: remote})
		},
	}
	addTransferFlags(cmd, true)
	return cmd
}

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download [remote-path] [local-path]",
		Short: "Copy remote files to the local root without deleting anything",
		Long: `Copy a remote file or directory to the local root. Paths are relative to
the configured roots; the local path defaults to the remote one.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := pickHandler(cmd, handler.Download, handler.DownloadFile, handler.DownloadFolder)
			remote, local := targetArgs(args)
			return runHandler(cmd, h, handler.Target{LocalPath: local, RemotePath: remote})
		},
	}
	addTransferFlags(cmd, true)
	return cmd
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [path]",
		Short: "Make one side an exact mirror of the other, deletions included",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")

			var h *handler.Handler
			switch to {
			case "remote":
				h = handler.SyncToRemote
			case "local":
				h = handler.SyncToLocal
			default:
				return &transfer.ConfigurationError{Field: "to", Reason: fmt.Sprintf("expected remote or local, got %q", to)}
			}

			var p string
			if len(args) > 0 {
				p = args[0]
			}
			return runHandler(cmd, h, handler.Target{LocalPath: p, RemotePath: p})
		},
	}
	cmd.Flags().String("to", "remote", "side to overwrite: remote or local")
	addTransferFlags(cmd, false)
	return cmd
}

func addTransferFlags(cmd *cobra.Command, kinds bool) {
	cmd.Flags().Bool("dry-run", false, "print the planned operations without executing them")
	if kinds {
		cmd.Flags().Bool("file", false, "require the source to be a file")
		cmd.Flags().Bool("folder", false, "require the source to be a directory")
		cmd.MarkFlagsMutuallyExclusive("file", "folder")
	}
}

func pickHandler(cmd *cobra.Command, def, file, folder *handler.Handler) *handler.Handler {
	if on, _ := cmd.Flags().GetBool("file"); on {
		return file
	}
	if on, _ := cmd.Flags().GetBool("folder"); on {
		return folder
	}
	return def
}

// targetArgs returns the source and target path arguments, the target defaulting to the source
func targetArgs(args []string) (string, string) {
	switch len(args) {
	case 0:
		return "", ""
	case 1:
		return args[0], args[0]
	default:
		return args[0], args[1]
	}
}

func runHandler(cmd *cobra.Command, h *handler.Handler, target handler.Target) error {
	ctx := cmd.Context()
	cfg, err := loadValidConfig(cmd)
	if err != nil {
		return err
	}

	endpoints, err := handler.OpenEndpoints(ctx, cfg)
	if err != nil {
		return err
	}

	asJSON := jsonOutput(cmd)
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	out := cmd.OutOrStdout()

	opts := []handler.Option{
		handler.WithNotify(func(r handler.Refresh) {
			slog.Info("remote updated", "handler", r.Handler, "path", r.Path, "recursive", r.Recursive)
		}),
	}
	if !dryRun {
		store, err := history.Open(cfg.HistoryPath())
		if err != nil {
			slog.Warn("history unavailable", "error", err)
		} else {
			defer store.Close()
			opts = append(opts, handler.WithHistory(store))
		}
	}

	runner, err := handler.NewRunner(cfg, endpoints, opts...)
	if err != nil {
		return err
	}

	status := transfer.NewStatus()
	var wg sync.WaitGroup
	if !asJSON && !dryRun {
		events := status.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			printProgress(out, events)
		}()
	}

	report, runErr := runner.Run(ctx, h, target, handler.RunOptions{DryRun: dryRun, Status: status})
	status.Close()
	wg.Wait()

	if report != nil {
		if asJSON {
			if err := writeJSON(out, newJSONReport(report)); err != nil {
				return err
			}
		} else {
			printReport(out, report)
		}
	}
	return runErr
}
