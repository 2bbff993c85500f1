package cmd

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"bookreader/backends"
	"bookreader/dialog"
	"bookreader/dispatch"
	"bookreader/document"
)

var illustrateOpts struct {
	block    int
	backend  string
	set      []string
	prompt   string
	negative string
	out      string
}

var illustrateCmd = &cobra.Command{
	Use:   "illustrate <book.epub>",
	Short: "Generate one illustration for a block and write the illustrated book as HTML",
	Args:  cobra.ExactArgs(1),
	RunE:  runIllustrate,
}

func init() {
	f := illustrateCmd.Flags()
	f.IntVar(&illustrateOpts.block, "block", 0, "index of the block to illustrate")
	f.StringVar(&illustrateOpts.backend, "backend", "", "backend name (default: the first registered)")
	f.StringArrayVar(&illustrateOpts.set, "set", nil, `parameter value as "Label=value", repeatable`)
	f.StringVar(&illustrateOpts.prompt, "prompt", "", "prompt (default: the block text)")
	f.StringVar(&illustrateOpts.negative, "negative", "", "negative prompt, if the backend supports one")
	f.StringVarP(&illustrateOpts.out, "out", "o", "", "output HTML file (default: <book>.illustrated.html)")
}

func runIllustrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	book, err := openBook(args[0])
	if err != nil {
		return err
	}
	doc := book.Document

	loop := dispatch.NewLoop(4)
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go loop.Run(loopCtx)

	dispatcher := dispatch.New(loop, dispatch.Options{
		Timeout:  cfg.Generation.Timeout,
		Interval: cfg.Generation.Interval,
	}, logger)
	session, err := dialog.NewSession(backends.Registry(cfg, logger), dispatcher, cfg.Illustration.CaptionLength, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	index := 0
	if illustrateOpts.backend != "" {
		var ok bool
		if index, ok = session.IndexOf(illustrateOpts.backend); !ok {
			return fmt.Errorf("unknown backend %q, available: %s", illustrateOpts.backend, strings.Join(session.Names(), ", "))
		}
	}
	if _, _, err := session.Select(ctx, index); err != nil {
		return err
	}
	for _, kv := range illustrateOpts.set {
		label, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("--set %q: expected Label=value", kv)
		}
		if err := session.SetValue(strings.TrimSpace(label), strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("--set %q: %w", kv, err)
		}
	}

	// The document is only touched on the loop from here on.
	var sel document.Selection
	var selErr error
	if err := loop.Call(ctx, func() {
		if selErr = doc.Select(illustrateOpts.block, illustrateOpts.block); selErr == nil {
			sel, _ = doc.CurrentSelection()
		}
	}); err != nil {
		return err
	}
	if selErr != nil {
		return selErr
	}

	inserter := document.NewInserter(doc, cfg.Illustration.MaxSize, cfg.Illustration.Downsample, logger)
	var (
		insertion document.Insertion
		runErr    error
	)
	handle, err := session.Confirm(sel, illustrateOpts.prompt, illustrateOpts.negative, func(res dispatch.Result) {
		if res.Err != nil {
			runErr = res.Err
			return
		}
		insertion, runErr = inserter.Insert(res.Illustration)
	})
	if err != nil {
		return err
	}
	select {
	case <-handle.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if runErr != nil {
		return fmt.Errorf("illustration failed: %w", runErr)
	}
	if insertion.State != document.Inserted {
		return errors.New("illustration was dropped: the target block no longer exists")
	}

	out := illustrateOpts.out
	if out == "" {
		out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".illustrated.html"
	}
	var writeErr error
	if err := loop.Call(ctx, func() { writeErr = writeIllustrated(doc, book.Title, out) }); err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	logger.Info().Str("out", out).Int("block", insertion.Block).Msg("illustrated book written")
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// writeIllustrated writes the document to out and its image resources next to it.
func writeIllustrated(doc *document.Document, title, out string) error {
	dir := filepath.Dir(out)
	base := strings.TrimSuffix(filepath.Base(out), filepath.Ext(out))

	var writeErr error
	body := doc.HTML(func(id string) string {
		res, ok := doc.Resource(id)
		if !ok {
			return ""
		}
		ext := ".img"
		if mt := mimetype.Lookup(res.MimeType); mt != nil {
			ext = mt.Extension()
		}
		name := base + "-" + id + ext
		if err := os.WriteFile(filepath.Join(dir, name), res.Data, 0o644); err != nil && writeErr == nil {
			writeErr = fmt.Errorf("write image %s: %w", name, err)
		}
		return name
	})
	if writeErr != nil {
		return writeErr
	}

	page := "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>" + html.EscapeString(title) + "</title>\n<style>\n" +
		doc.Stylesheet() + "\n</style></head><body>\n" + body + "</body></html>\n"
	if err := os.WriteFile(out, []byte(page), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}
