package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/rpc"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/proto"
)

const rpcTimeout = 10 * time.Second

func newSearchCmd(opts *options) *cobra.Command {
	var (
		limit  int
		asJSON bool
		remote string
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search schools by name, city or state",
		Long: `Runs a query against the index. Without --remote the index is built in
process from the record store; with --remote the query is sent to a running
service over RPC.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("limit must be a positive integer, got %d", limit)
			}
			var (
				resp *proto.SearchResponse
				err  error
			)
			if remote != "" {
				resp, err = remoteSearch(cmd, remote, args[0], limit)
			} else {
				resp, err = localSearch(cmd, opts, args[0], limit)
			}
			if err != nil {
				return err
			}
			if asJSON {
				data, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling results: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			printResults(cmd, resp)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 3, "maximum number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	cmd.Flags().StringVar(&remote, "remote", "", "RPC address of a running service")
	return cmd
}

func remoteSearch(cmd *cobra.Command, addr, query string, limit int) (*proto.SearchResponse, error) {
	c, err := rpc.Dial(addr, rpcTimeout)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Search(cmd.Context(), query, limit)
}

func localSearch(cmd *cobra.Command, opts *options, query string, limit int) (*proto.SearchResponse, error) {
	l, err := opts.openLocal(cmd.Context(), "")
	if err != nil {
		return nil, err
	}
	defer l.Close()
	if _, err := l.engine.Hydrate(cmd.Context(), l.store); err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}

	start := time.Now()
	result, err := executor.New(l.engine, executor.ConfigFrom(l.cfg.Search)).Execute(cmd.Context(), query, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return rpc.NewSearchResponse(result, time.Since(start)), nil
}

func printResults(cmd *cobra.Command, resp *proto.SearchResponse) {
	if len(resp.Results) == 0 {
		cmd.Println("No results found.")
		return
	}
	for i, r := range resp.Results {
		cmd.Printf("  [%d] %s, %s, %s (%.2f)\n", i+1, r.Name, r.City, r.State, r.Score)
	}
	cmd.Printf("\n%s of %s matches in %.3f ms\n",
		humanize.Comma(int64(len(resp.Results))), humanize.Comma(int64(resp.TotalHits)), resp.TookMs)
}

func newStatsCmd(opts *options) *cobra.Command {
	var (
		top    int
		remote string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st *proto.StatsResponse
			if remote != "" {
				c, err := rpc.Dial(remote, rpcTimeout)
				if err != nil {
					return err
				}
				defer c.Close()
				if st, err = c.Stats(cmd.Context(), top); err != nil {
					return err
				}
			} else {
				l, err := opts.openLocal(cmd.Context(), "")
				if err != nil {
					return err
				}
				defer l.Close()
				if _, err := l.engine.Hydrate(cmd.Context(), l.store); err != nil {
					return fmt.Errorf("building index: %w", err)
				}
				st = rpc.NewStatsResponse(l.engine.Stats(top))
			}

			cmd.Printf("Schools:     %s\n", humanize.Comma(st.Documents))
			cmd.Printf("Terms:       %s\n", humanize.Comma(st.Terms))
			cmd.Printf("Generation:  %d\n", st.Generation)
			cmd.Printf("Fingerprint: %s\n", st.Fingerprint)
			if len(st.TopTerms) > 0 {
				cmd.Println("Top terms:")
				for _, tc := range st.TopTerms {
					cmd.Printf("  %-20s %s\n", tc.Term, humanize.Comma(tc.Count))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "number of largest terms to list")
	cmd.Flags().StringVar(&remote, "remote", "", "RPC address of a running service")
	return cmd
}
