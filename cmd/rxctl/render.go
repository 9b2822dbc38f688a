package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/drfirst/go-rxdraft/internal/domain/draft"
	"github.com/drfirst/go-rxdraft/internal/domain/invoice"
	"github.com/drfirst/go-rxdraft/internal/render"
)

func previewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <prescription.json>",
		Short: "Render a prescription document to HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rx draft.Prescription
			if err := readJSON(args[0], &rx); err != nil {
				return err
			}
			renderer, err := render.New(render.Config{})
			if err != nil {
				return err
			}
			return withOutput(cmd, func(w io.Writer) error {
				return renderer.Prescription(w, rx)
			})
		},
	}
	cmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	return cmd
}

func invoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice <invoice.json>",
		Short: "Validate, total and render an invoice to HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var inv invoice.Invoice
			if err := readJSON(args[0], &inv); err != nil {
				return err
			}
			if err := inv.Prepare(time.Now()); err != nil {
				return err
			}
			renderer, err := render.New(render.Config{})
			if err != nil {
				return err
			}
			return withOutput(cmd, func(w io.Writer) error {
				return renderer.Invoice(w, inv)
			})
		},
	}
	cmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	return cmd
}

func readJSON(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func withOutput(cmd *cobra.Command, fn func(w io.Writer) error) error {
	path, _ := cmd.Flags().GetString("output")
	if path == "" {
		return fn(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
