package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/bookfeed/internal/page"
	"github.com/bryan-buckman/bookfeed/internal/view"
)

func (a *app) watchCommand() *cobra.Command {
	var comments, likes string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow both feeds in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if comments == "" {
				comments = a.cfg.CommentsURL
			}
			if likes == "" {
				likes = a.cfg.LikesURL
			}
			loc, err := a.cfg.Location()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			v := page.Mount(ctx, page.Endpoints{Comments: comments, Likes: likes}, page.Options{
				Reconnect:  a.cfg.Reconnect,
				NewBackOff: a.cfg.NewBackOff,
				Location:   loc,
				Logger:     a.log,
			})
			defer v.Unmount()

			out := cmd.OutOrStdout()
			return v.Run(ctx, func(f page.Frame) error {
				return printFrame(out, f)
			})
		},
	}
	cmd.Flags().StringVar(&comments, "comments", "", "Comments feed URL (default from comments_url)")
	cmd.Flags().StringVar(&likes, "likes", "", "Likes feed URL (default from likes_url)")
	return cmd
}

// printFrame writes the status line of the updated feed followed by the
// comment rows.
func printFrame(w io.Writer, f page.Frame) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", f.Feed, f.Status)
	if f.Error != "" {
		fmt.Fprintf(&b, " (%s)", f.Error)
	}
	b.WriteByte('\n')
	if len(f.Rows) == 0 {
		fmt.Fprintf(&b, "  %s\n", view.EmptyMessage)
	}
	for _, r := range f.Rows {
		fmt.Fprintf(&b, "  %-18s %-9s %s", r.Time, r.Emotion, r.Text)
		if r.Likes > 0 {
			fmt.Fprintf(&b, " (%d ♥)", r.Likes)
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}
