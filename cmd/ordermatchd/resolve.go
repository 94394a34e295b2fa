package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ordermatch/internal/events"
	"github.com/fyrsmithlabs/ordermatch/internal/pipeline"
)

func newResolveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve one extracted document to stdout",
		Long: `Resolve one extracted document and print the output record as JSON.

Examples:
  # Resolve a file
  ordermatchd resolve --file doc.json

  # Resolve from stdin
  cat doc.json | ordermatchd resolve --file -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := readDocument(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			deps, err := initDependencies(ctx, configPath)
			if err != nil {
				return err
			}
			defer deps.Close(context.Background())

			rec, resolveErr := deps.pipeline.Resolve(ctx, doc)
			if err := writeRecord(cmd.OutOrStdout(), rec); err != nil {
				return err
			}
			if resolveErr != nil {
				id := doc.ID
				if rec != nil {
					id = rec.DocumentID
				}
				return fmt.Errorf("document %s %s: %w", id, events.StatusFailed, resolveErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "extracted document JSON, or - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readDocument(path string, stdin io.Reader) (*pipeline.Document, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open document: %w", err)
		}
		defer f.Close()
		r = f
	}
	var doc pipeline.Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}

func writeRecord(w io.Writer, rec *pipeline.Record) error {
	if rec == nil {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
