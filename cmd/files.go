package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/docuchat/docuchat/internal/ingest"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage documents in the search index",
}

var filesAddCmd = &cobra.Command{
	Use:   "add <path>...",
	Short: "Upload and index documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFilesAdd,
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents added in this run",
	RunE:  runFilesList,
}

var filesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a document (best-effort remote delete)",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesRm,
}

func init() {
	filesCmd.AddCommand(filesAddCmd, filesListCmd, filesRmCmd)
	rootCmd.AddCommand(filesCmd)
}

func runFilesAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	files := make([]*ingest.File, 0, len(args))
	for _, path := range args {
		f, err := ingest.NewFileFromPath(path)
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	// Sequential on purpose: see ingest.Pipeline.IndexAll.
	failed := 0
	for _, f := range a.Ingest.IndexAll(cmd.Context(), files) {
		switch f.Status {
		case ingest.StatusActive:
			fmt.Printf("indexed  %s (%s)\n", f.DisplayName, f.ID)
		default:
			failed++
			fmt.Printf("failed   %s: %s\n", f.DisplayName, f.Error)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func runFilesList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	files := a.Ingest.List()
	if len(files) == 0 {
		fmt.Println("no documents")
		return nil
	}
	for _, f := range files {
		fmt.Printf("%s  %-10s  %8d bytes  %s\n", f.ID, f.Status, f.Size, f.DisplayName)
	}
	return nil
}

func runFilesRm(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid file id %q: %w", args[0], err)
	}

	if err := a.Ingest.Remove(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Println("removed")
	return nil
}
