package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/content"
	"github.com/loqalabs/loqa-reader/internal/extract"
	"github.com/loqalabs/loqa-reader/internal/layout"
	"github.com/loqalabs/loqa-reader/internal/paginate"
)

var version = "0.1.0-dev"

type options struct {
	file       string
	configPath string
	bookID     string
	chapterID  string
	plain      bool
	paragraphs bool
}

func main() {
	var opts options
	paginateCmd := flag.NewFlagSet("paginate", flag.ExitOnError)
	paginateCmd.StringVar(&opts.file, "file", "document.json", "Path to document JSON")
	paginateCmd.StringVar(&opts.configPath, "config", "", "Path to configuration file for page geometry")
	paginateCmd.StringVar(&opts.bookID, "book", "", "Book id (first book when empty)")
	paginateCmd.StringVar(&opts.chapterID, "chapter", "", "Chapter id (first chapter of the book when empty)")
	paginateCmd.BoolVar(&opts.plain, "plain", false, "Render without colors or borders")
	paginateCmd.BoolVar(&opts.paragraphs, "paragraphs", false, "Print extracted paragraphs as JSON instead of pages")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'paginate' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "paginate":
		paginateCmd.Parse(os.Args[2:])
		if err := run(context.Background(), opts, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	constants, err := layout.NewStaticProbe(cfg.Layout).Probe()
	if err != nil {
		return err
	}

	doc, err := content.NewFileSource(opts.file).Fetch(ctx)
	if err != nil {
		return err
	}
	doc.Normalize()
	ch, err := pickChapter(&doc, opts.bookID, opts.chapterID)
	if err != nil {
		return err
	}

	measurer := layout.NewTextMeasurer(cfg.Layout)
	pages, err := paginate.Chapter(*ch, constants, measurer)
	if err != nil {
		return err
	}

	if opts.paragraphs {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(extract.Extract(pages))
	}

	renderer := paginate.Renderer{Measurer: measurer, Width: constants.ContentWidth(), Plain: opts.plain}
	for _, p := range pages {
		fmt.Fprintln(out, renderer.Render(p, len(pages)))
	}
	return nil
}

func pickChapter(doc *content.Document, bookID, chapterID string) (*content.Chapter, error) {
	if len(doc.Books) == 0 {
		return nil, errors.New("document has no chapters")
	}
	if bookID == "" {
		bookID = doc.Books[0].ID
	}
	if chapterID == "" {
		book, ok := doc.Book(bookID)
		if !ok {
			return nil, fmt.Errorf("book %q: %w", bookID, content.ErrNoContent)
		}
		first, ok := book.FirstChapter()
		if !ok {
			return nil, fmt.Errorf("book %q: %w", bookID, content.ErrNoContent)
		}
		chapterID = first.ID
	}
	return doc.Chapter(bookID, chapterID)
}
