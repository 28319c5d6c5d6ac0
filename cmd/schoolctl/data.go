package main

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newSetupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Download the source archives, merge them and load the store",
		Long: `Downloads every configured source archive into the data directory,
unpacks and merges the CSV parts into the seed file, then loads it into the
record store. Archives already on disk are not downloaded again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := opts.openLocal(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer l.Close()

			runErr := l.pipeline.RunSetup(cmd.Context())
			st := l.pipeline.SetupStatus()
			for _, name := range slices.Sorted(maps.Keys(st.Files)) {
				cmd.Printf("  %-24s %s\n", name, st.Files[name])
			}
			if runErr != nil {
				return fmt.Errorf("setup failed: %w", runErr)
			}
			cmd.Println(st.Message)
			return nil
		},
	}
}

func newLoadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "load [file.csv]",
		Short: "Replace the stored schools with the contents of a CSV file",
		Long: `Clears the record store and loads the given CSV, or the configured seed
file when none is given. The file may be UTF-8, Latin-1 or Windows-1252.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			l, err := opts.openLocal(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer l.Close()

			res, err := l.pipeline.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("load failed: %w", err)
			}
			cmd.Printf("Indexed %s schools (%s rows, %s skipped, %s, %s) in %s\n",
				humanize.Comma(int64(res.Documents)),
				humanize.Comma(int64(res.Load.Rows)),
				humanize.Comma(int64(res.Load.Skipped)),
				res.Load.Encoding,
				humanize.Bytes(uint64(res.Load.Bytes)),
				res.Load.Duration.Round(time.Millisecond),
			)
			cmd.Printf("Index fingerprint %s\n", res.Fingerprint)
			return nil
		},
	}
}
