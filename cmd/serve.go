package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bookreader/backends"
	"bookreader/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve <book.epub>",
	Short: "Open a book in the local reader",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		book, err := openBook(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := server.New(cfg, book, backends.Registry(cfg, logger), logger)
		return srv.Run(ctx)
	},
}
