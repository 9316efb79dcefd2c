package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/iyulab/threatlens/internal/updater"
)

func newUpdateCmd(currentVersion string) *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update threatlens to the latest release",
		Long:  "Checks GitHub Releases for a newer version, verifies the download against the release checksums, and replaces this binary.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, currentVersion, checkOnly)
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "only report whether an update is available")
	return cmd
}

func runUpdate(cmd *cobra.Command, currentVersion string, checkOnly bool) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Checking for updates...")

	u := updater.New()
	info, err := u.CheckLatest(cmd.Context(), currentVersion)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	if !info.HasUpdate {
		fmt.Fprintf(out, "Already up to date (%s)\n", info.CurrentVersion)
		return nil
	}

	fmt.Fprintf(out, "New version available: %s → %s\n", info.CurrentVersion, info.LatestVersion)

	if checkOnly {
		fmt.Fprintln(out, "Run 'threatlens update' to install it.")
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("update: locate executable: %w", err)
	}

	tmpPath := exePath + ".new"
	fmt.Fprintf(out, "Downloading %s\n", info.DownloadURL)
	if info.ChecksumsURL == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "[!] release has no checksums file; download is not verified")
	}

	if err := u.Download(cmd.Context(), info, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("update: %w", err)
	}

	fmt.Fprintf(out, "Replacing %s\n", filepath.Base(exePath))
	if err := updater.SelfReplace(exePath, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("update: replace failed (check permissions): %w", err)
	}

	fmt.Fprintf(out, "Updated %s → %s. Restart threatlens to use the new version.\n", info.CurrentVersion, info.LatestVersion)
	return nil
}
