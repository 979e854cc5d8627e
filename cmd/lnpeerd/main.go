// Command lnpeerd runs a Lightning peer protocol node: it speaks BOLT 8 to
// its peers, keeps a gossip view of the network and persists it between
// runs.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/lnpeer/config"
	"github.com/opd-ai/lnpeer/node"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "lnpeerd",
		Short:        "Lightning peer protocol daemon",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("key-file", "", "Node key file (overrides config)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the node",
		Args:  cobra.NoArgs,
		RunE:  runNode,
	}
	runCmd.Flags().String("listen", "", "Address to accept peers on")
	runCmd.Flags().String("data-dir", "", "Directory for persisted gossip")
	runCmd.Flags().String("metrics-addr", "", "Address of the Prometheus endpoint")
	runCmd.Flags().String("log-level", "", "Log level")
	runCmd.Flags().String("log-format", "", "Log format: text or json")
	runCmd.Flags().StringSlice("chain", nil, "Chains to gossip about")
	runCmd.Flags().StringSlice("bootstrap", nil, "Peers to dial as pubkey@host:port")
	runCmd.Flags().Bool("no-sync", false, "Do not request gossip from peers")

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a node key",
		Args:  cobra.NoArgs,
		RunE:  runKeygen,
	}

	nodeIDCmd := &cobra.Command{
		Use:   "nodeid",
		Short: "Print the node id of the key file",
		Args:  cobra.NoArgs,
		RunE:  runNodeID,
	}

	rootCmd.AddCommand(runCmd, keygenCmd, nodeIDCmd)
	return rootCmd
}

// loadConfig reads --config and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	overrides := map[string]*string{
		"key-file":     &cfg.KeyFile,
		"listen":       &cfg.Listen,
		"data-dir":     &cfg.DataDir,
		"metrics-addr": &cfg.MetricsAddr,
		"log-level":    &cfg.Log.Level,
		"log-format":   &cfg.Log.Format,
	}
	for name, dst := range overrides {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	if flags.Lookup("chain") != nil && flags.Changed("chain") {
		cfg.Chains, _ = flags.GetStringSlice("chain")
	}
	if flags.Lookup("bootstrap") != nil && flags.Changed("bootstrap") {
		cfg.BootstrapPeers, _ = flags.GetStringSlice("bootstrap")
	}
	if flags.Lookup("no-sync") != nil && flags.Changed("no-sync") {
		noSync, _ := flags.GetBool("no-sync")
		cfg.Gossip.Sync = !noSync
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runNode(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ConfigureLogging(); err != nil {
		return err
	}

	n, err := node.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runNode",
				"package":  "main",
				"error":    err.Error(),
			}).Error("Closing store failed")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logrus.WithFields(logrus.Fields{
		"function": "runNode",
		"package":  "main",
		"node_id":  n.NodeID().String(),
	}).Info("Starting lnpeerd")
	return n.Run(ctx)
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	kp, err := config.GenerateKey(cfg.KeyFile)
	if err != nil {
		return err
	}
	defer kp.Wipe()
	_, err = fmt.Fprintln(cmd.OutOrStdout(), kp.PubKey().String())
	return err
}

func runNodeID(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	kp, err := config.LoadKey(cfg.KeyFile)
	if err != nil {
		return err
	}
	defer kp.Wipe()
	_, err = fmt.Fprintln(cmd.OutOrStdout(), kp.PubKey().String())
	return err
}
