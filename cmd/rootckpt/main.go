// Command rootckpt inspects and maintains checkpoint files of a distributed
// root search run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/cladelabs/rootckpt/internal/checkpoint"
	"github.com/cladelabs/rootckpt/internal/cliconfig"
	"github.com/cladelabs/rootckpt/internal/watch"
)

const longHelp = `Inspect and maintain checkpoint files of a distributed root search run.

A checkpoint file (<prefix>.ckp) holds the run configuration followed by one
checksummed record per completed root candidate. Workers append records as
they finish; a crashed run resumes from whatever was durably recorded.

Subcommands:
  inspect   print the stored configuration and result records
  verify    scan the file and report how many records are recoverable
  clean     compact the file, dropping any corrupted tail (coordinating rank only)
  follow    watch the file and report appends and compaction replacements
`

const exampleUsage = `  rootckpt inspect --prefix run1
  rootckpt clean --prefix run1 --rank 0
  rootckpt follow --prefix run1`

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:     "rootckpt",
		Short:   "Inspect and maintain root search checkpoint files",
		Long:    longHelp,
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Precedence: flags > environment > config file > defaults.
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}
			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			return cfg.Validate()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.rootckpt/config.toml)")
	pf.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "run prefix; the checkpoint lives at <prefix>.ckp")
	pf.IntVar(&cfg.Rank, "rank", cfg.Rank, "this worker's rank; rank 0 coordinates compaction")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "settle delay for the follow watcher")

	root.AddCommand(
		inspectCmd(&cfg),
		verifyCmd(&cfg),
		cleanCmd(&cfg),
		followCmd(&cfg),
	)

	if err := root.Execute(); err != nil {
		log := cfg.Logger()
		log.Error().Err(err).Msg("rootckpt")
		os.Exit(1)
	}
}

func openLog(cfg *cliconfig.Config, log zerolog.Logger) (*checkpoint.Log, error) {
	ckp, err := checkpoint.Open(cfg.Prefix, checkpoint.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if !ckp.Existing() {
		ckp.Close()
		return nil, fmt.Errorf("no checkpoint at %s", cfg.Prefix+checkpoint.Suffix)
	}
	return ckp, nil
}

func inspectCmd(cfg *cliconfig.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the stored configuration and result records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ckp, err := openLog(cfg, cfg.Logger())
			if err != nil {
				return err
			}
			defer ckp.Close()

			opts, err := ckp.LoadOptions()
			if err != nil {
				return err
			}
			results, err := ckp.ScanResults()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checkpoint: %s\n", ckp.Path())
			fmt.Fprintf(out, "msa=%s tree=%s model=%s\n", opts.MSAFile, opts.TreeFile, opts.ModelString)
			fmt.Fprintf(out, "seed=%d threads=%d min_roots=%d exhaustive=%v early_stop=%v\n",
				opts.Seed, opts.Threads, opts.MinRoots, opts.Exhaustive, opts.EarlyStop)
			fmt.Fprintf(out, "records: %d\n", len(results))
			for _, r := range results {
				fmt.Fprintf(out, "  root_id=%d lwr=%g lh=%g alpha=%g\n",
					r.RootID, r.LWR, r.LogLikelihood, r.Alpha)
			}
			return nil
		},
	}
}

func verifyCmd(cfg *cliconfig.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Scan the checkpoint and report recoverable records",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Corruption surfaces as a scan warning; the exit status only
			// reflects files whose header is unreadable.
			log := cfg.Logger()
			ckp, err := openLog(cfg, log)
			if err != nil {
				return err
			}
			defer ckp.Close()

			ids, err := ckp.CompletedIDs()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d valid records\n", ckp.Path(), len(ids))
			return nil
		},
	}
}

func cleanCmd(cfg *cliconfig.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Compact the checkpoint, dropping any corrupted tail",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := cfg.Logger()
			if !cfg.Coordinator() {
				log.Warn().Int("rank", cfg.Rank).Msg("not the coordinating rank, nothing to do")
				return nil
			}
			ckp, err := openLog(cfg, log)
			if err != nil {
				return err
			}
			defer ckp.Close()

			return ckp.Clean(cfg.Coordinator())
		},
	}
}

func followCmd(cfg *cliconfig.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "follow",
		Short: "Watch the checkpoint and report appends and replacements",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := cfg.Logger()
			ckp, err := openLog(cfg, log)
			if err != nil {
				return err
			}
			defer ckp.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			w := watch.New(ckp.Path(), watch.WithDebounce(cfg.Debounce), watch.WithLogger(log))
			err = w.Run(ctx, func(ev watch.Event) {
				if ev.Kind == watch.Replaced {
					// The coordinating rank swapped in a compacted file; move
					// our handle to the live inode before reading.
					if err := ckp.Reload(); err != nil {
						log.Error().Err(err).Msg("reload after compaction")
						return
					}
					log.Info().Uint64("inode", ev.Inode).Msg("checkpoint replaced by compaction")
				}
				ids, err := ckp.CompletedIDs()
				if err != nil {
					log.Error().Err(err).Msg("scan after change")
					return
				}
				log.Info().Int("records", len(ids)).Msg("checkpoint updated")
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}
