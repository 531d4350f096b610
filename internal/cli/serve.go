package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/bookfeed/internal/database"
	"github.com/bryan-buckman/bookfeed/internal/events"
	"github.com/bryan-buckman/bookfeed/internal/feedsrv"
	"github.com/bryan-buckman/bookfeed/internal/page"
	"github.com/bryan-buckman/bookfeed/internal/server"
)

func (a *app) webCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the book page",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.WebAddr
			}
			loc, err := a.cfg.Location()
			if err != nil {
				return err
			}
			srv, err := server.New(server.Options{
				Book:        a.cfg.Book(),
				Feeds:       page.Endpoints{Comments: a.cfg.CommentsURL, Likes: a.cfg.LikesURL},
				APIUpstream: a.cfg.APIUpstream,
				Reconnect:   a.cfg.Reconnect,
				NewBackOff:  a.cfg.NewBackOff,
				Location:    loc,
				Logger:      a.log,
			})
			if err != nil {
				return err
			}
			if err := srv.ListenAndServe(cmd.Context(), addr); err != nil {
				return fmt.Errorf("web server: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from web_addr)")
	return cmd
}

func (a *app) feedsCommand() *cobra.Command {
	var addr, dsn, natsURL string
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Serve the comments and likes feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.FeedsAddr
			}
			if dsn == "" {
				dsn = a.cfg.DatabaseDSN
			}
			if natsURL == "" {
				natsURL = a.cfg.NatsURL
			}

			store, err := database.Open(dsn)
			if err != nil {
				return err
			}
			defer store.Close()
			a.log.Info("store opened", "type", store.DatabaseType())

			bus, err := events.Open(natsURL, a.log)
			if err != nil {
				return err
			}
			defer bus.Close()

			srv := feedsrv.New(store, bus, feedsrv.Options{
				SnapshotInterval: a.cfg.SnapshotInterval,
				FeedTitle:        a.cfg.FeedTitle,
				BaseURL:          a.cfg.BaseURL,
				Logger:           a.log,
			})
			if err := srv.ListenAndServe(cmd.Context(), addr); err != nil {
				return fmt.Errorf("feed server: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from feeds_addr)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Database DSN: sqlite path or postgres:// URL")
	cmd.Flags().StringVar(&natsURL, "nats", "", "NATS server URL; in-process bus when empty")
	return cmd
}
