package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/dshills/evmdebug/internal/trace"
	"github.com/dshills/evmdebug/internal/trace/fixture"
)

func newRecordCmd(a *app) *cobra.Command {
	var (
		workingDirectory string
		output           string
		maxSteps         int
	)

	cmd := &cobra.Command{
		Use:   "record <txHash>",
		Short: "Record a transaction trace for offline debugging with the fixture engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txHash := args[0]
			opts, store, err := a.sessionOptions()
			if err != nil {
				return err
			}
			defer store.Close()

			attach := trace.AttachOptions{
				ProviderURL:      a.cfg.Engine.ProviderURL,
				WorkingDirectory: workingDirectory,
			}
			if opts.Contracts != nil {
				if attach.Contracts, err = opts.Contracts.Load(workingDirectory); err != nil {
					return fmt.Errorf("load contracts: %w", err)
				}
			}

			s, err := opts.Engine.Attach(cmd.Context(), txHash, attach)
			if err != nil {
				return err
			}
			defer s.Close()

			doc, err := fixture.Record(s, txHash, maxSteps)
			if err != nil {
				return err
			}

			if output == "" {
				output = filepath.Join(workingDirectory, fixture.TraceDir, txHash+".json")
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(output, doc, 0o644); err != nil {
				return err
			}
			log.Info("Trace recorded", "tx", txHash, "file", output, "bytes", len(doc))
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&workingDirectory, "cwd", ".", "project directory holding the build artifacts")
	flags.StringVarP(&output, "output", "o", "", "output file (default <cwd>/.evmdebug/traces/<txHash>.json)")
	flags.IntVar(&maxSteps, "max", 0, "record at most this many steps (0 means no limit)")
	return cmd
}
