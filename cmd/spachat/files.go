package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/procurelabs/spachat/internal/client"
	"github.com/procurelabs/spachat/internal/domain"
	"github.com/procurelabs/spachat/internal/store"
	"github.com/spf13/cobra"
)

var filesCached bool

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List files in the agent workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		if filesCached {
			repo, err := store.NewSQLite(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open local store: %w", err)
			}
			defer func() { _ = repo.Close() }()

			files, fetchedAt, err := repo.GetManifest(cmd.Context())
			if err != nil {
				return fmt.Errorf("read cached manifest: %w", err)
			}
			if len(files) == 0 {
				fmt.Println("no cached manifest; run without --cached first")
				return nil
			}
			fmt.Printf("cached manifest from %s\n", fetchedAt.Local().Format(time.RFC1123))
			printFiles(files)
			return nil
		}

		c, repo, err := connect(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()
		defer func() { _ = c.Close() }()

		files, err := fetchManifest(cmd.Context(), c)
		if err != nil {
			return err
		}
		if err := repo.SaveManifest(cmd.Context(), files); err != nil {
			logger.Warn("failed to cache manifest", "error", err)
		}
		printFiles(files)
		return nil
	},
}

func init() {
	filesCmd.Flags().BoolVar(&filesCached, "cached", false, "print the last cached manifest without contacting the gateway")
}

// fetchManifest requests a listing and waits for the manifest snapshot on
// the client's update channel.
func fetchManifest(ctx context.Context, c *client.Client) ([]domain.FileEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := c.RequestListing(ctx); err != nil {
		return nil, fmt.Errorf("request listing: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for file listing: %w", ctx.Err())
		case u := <-c.Updates():
			switch u := u.(type) {
			case client.ManifestUpdated:
				return u.Files, nil
			case client.ConnectionLost:
				return nil, fmt.Errorf("connection lost while waiting for listing: %w", u.Err)
			}
		}
	}
}

func printFiles(files []domain.FileEntry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED\tURL")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", f.Name, f.Size, f.Modified.Local().Format("2006-01-02 15:04"), f.URL)
	}
	_ = w.Flush()
}
