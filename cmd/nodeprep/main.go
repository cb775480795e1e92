// nodeprep downloads, preprocesses and summarizes the node-classification datasets.
//
// Configuration comes from (in increasing priority) defaults, `nodeprep.toml`, NODEPREP_* environment
// variables and flags. Examples:
//
//	nodeprep datasets
//	nodeprep prepare --dataset=ogbn-mag --r=3
//	nodeprep preprocess --dataset=ogbn-papers100M --cache-dir=/data/cache
//	nodeprep info --dataset=ogbn-papers100M
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/graphbench/nodeprep/config"
	"github.com/graphbench/nodeprep/datasets"
	"github.com/graphbench/nodeprep/propagate"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:           "nodeprep",
		Short:         "Loads and preprocesses graph node-classification benchmarks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	datasetsCmd = &cobra.Command{
		Use:   "datasets",
		Short: "Lists the supported datasets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range datasets.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}

	prepareCmd = &cobra.Command{
		Use:   "prepare",
		Short: "Loads the dataset (downloading it if needed), runs its pipeline and prints a summary",
		Args:  cobra.NoArgs,
		RunE:  runPrepare,
	}

	preprocessCmd = &cobra.Command{
		Use:   "preprocess",
		Short: "Preprocesses ogbn-papers100M and saves the resulting graph to the cache directory",
		Args:  cobra.NoArgs,
		RunE:  runPreprocess,
	}

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints the statistics of the cached preprocessed graph of the dataset",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "TOML configuration file (default \""+config.DefaultFile+"\" if present)")
	config.RegisterFlags(rootCmd.PersistentFlags())
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)
	rootCmd.AddCommand(datasetsCmd, prepareCmd, preprocessCmd, infoCmd)
}

func main() {
	defer klog.Flush()
	if err := rootCmd.Execute(); err != nil {
		klog.Fatalf("%+v", err)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cmd.Flags(), configFile)
}

// newAggregator returns the aggregator selected by the configuration, and a function to release it.
func newAggregator(cfg *config.Config) (propagate.Aggregator, func(), error) {
	if cfg.ReferenceAggregator {
		return propagate.ReferenceAggregator{}, func() {}, nil
	}
	var (
		backend backends.Backend
		err     error
	)
	if cfg.Backend == "" {
		backend, err = backends.New()
	} else {
		backend, err = backends.NewWithConfig(cfg.Backend)
	}
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "failed to create backend %q", cfg.Backend)
	}
	klog.V(1).Infof("aggregating with backend %s", backend.Name())
	return propagate.NewBackendAggregator(backend), backend.Finalize, nil
}

func runPrepare(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	agg, release, err := newAggregator(cfg)
	if err != nil {
		return err
	}
	defer release()
	opts := cfg.Options()
	opts.Aggregator = agg

	start := time.Now()
	p, err := datasets.Load(cfg.ID(), opts)
	if err != nil {
		return err
	}
	datasets.Tick(start, "prepare "+cfg.Dataset)
	fmt.Fprintln(cmd.OutOrStdout(), summaryTable(p))
	return nil
}

func runPreprocess(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.ID() != datasets.OGBNPapers100M {
		return errors.Wrapf(datasets.ErrUnsupportedDataset, "preprocess is only available for %s, got %q",
			datasets.OGBNPapers100M, cfg.Dataset)
	}
	cachePath, err := datasets.PreprocessPapers100M(cfg.Options())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cachePath)
	return nil
}

func runInfo(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	g, err := datasets.LoadCachedGraph(cfg.CacheDir, cfg.ID())
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Errorf("no cached graph for %s in %q, run \"nodeprep preprocess\" first", cfg.Dataset, cfg.CacheDir)
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), statsTable(cfg.Dataset, g.Stats(), g.NodeDataNames()))
	return nil
}
