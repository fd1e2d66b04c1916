package cmd

import (
	"context"
	"fmt"
	"time"

	"RadioRoyal/cache"
	"RadioRoyal/core/resolver"

	"github.com/spf13/cobra"
)

var (
	resolveTitle    bool
	resolvePlaylist bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Resolve a YouTube reference to a direct audio URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		res := resolver.New(resolver.NewYtDlp(cfg.YtDlpPath), cache.NewMemorySourceCache(), cfg.ResolverCacheTTL)
		out := cmd.OutOrStdout()
		switch {
		case resolvePlaylist:
			items, err := res.ListPlaylistItems(ctx, args[0])
			if err != nil {
				return err
			}
			for i, it := range items {
				fmt.Fprintf(out, "%3d  %s  %s\n", i+1, it.URL, it.Title)
			}
		case resolveTitle:
			title, err := res.FetchTitle(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, title)
		default:
			direct, err := res.ResolveDirectURL(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, direct)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolVarP(&resolveTitle, "title", "t", false, "print the title instead of the direct URL")
	resolveCmd.Flags().BoolVarP(&resolvePlaylist, "playlist", "l", false, "list the items of a playlist")
}
