package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(command{})
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the command tree around c.
func buildRoot(c command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createCreateCommand(c, globalFlags),
		createListCommand(c, globalFlags),
		createEULACommand(c, globalFlags),
		createServeCommand(globalFlags),
		createStatusCommand(c),
		createStartCommand(c),
		createStopCommand(c),
		createKillCommand(c),
		createSendCommand(c),
		createHistoryCommand(c, globalFlags),
		createParseVersionCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "mineguard",
		Short: "Minecraft server supervisor",
		Long: `MineGuard installs, runs and watches Minecraft Java servers.

Examples:
  mineguard create --version=1.20.1 --name=lobby --accept-eula
  mineguard serve --config=mineguard.toml --autostart=lobby
  mineguard send --name=lobby --command="say hello"
  mineguard stop --name=lobby`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", defaultAPIURL, "daemon API URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "api-ca", "", "CA certificate for an HTTPS daemon")
	cmd.Flags().BoolVar(&f.Insecure, "api-insecure", false, "skip TLS verification")
}

func mustRequire(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}

func createCreateCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &CreateFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Download and install a new server",
		Long: `Create a server directory under instances_dir, named by a fresh UUID,
and download the official server jar for the requested version.

Examples:
  mineguard create --version=1.20.1
  mineguard create --version=23w45a --name=snapshot-test --accept-eula`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return c.Create(*f)
		},
	}
	cmd.Flags().StringVar(&f.Version, "version", "", "game version, e.g. 1.20.1 or 23w45a (required)")
	cmd.Flags().StringVar(&f.Type, "type", "vanilla", "server type")
	cmd.Flags().StringVar(&f.Name, "name", "", "display name (defaults to the UUID)")
	cmd.Flags().BoolVar(&f.AcceptEULA, "accept-eula", false, "write eula.txt with eula=true")
	cmd.Flags().StringVar(&f.ManifestURL, "manifest-url", "", "override the version catalog URL")
	mustRequire(cmd, "version")
	return cmd
}

func createListCommand(c command, g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List(ListFlags{ConfigPath: g.ConfigPath})
		},
	}
}

func createEULACommand(c command, g *GlobalFlags) *cobra.Command {
	f := &EULAFlags{}
	cmd := &cobra.Command{
		Use:   "eula",
		Short: "Accept the Minecraft EULA for a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return c.EULA(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "server name or UUID (required)")
	mustRequire(cmd, "name")
	return cmd
}

func createServeCommand(g *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor daemon",
		Long: `Load every server under instances_dir and serve the control API until
SIGINT or SIGTERM. Running servers are stopped gracefully on shutdown.

Examples:
  mineguard serve --config=mineguard.toml
  mineguard serve mineguard.toml --autostart=lobby,survival`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return runServeCommand(f, args)
		},
	}
	cmd.Flags().StringSliceVar(&f.Autostart, "autostart", nil, "servers to start once the daemon is up")
	return cmd
}

func lifecycleCommand(use, short string, wait time.Duration, run func(LifecycleFlags) error) *cobra.Command {
	f := &LifecycleFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "server name or UUID")
	if wait > 0 {
		cmd.Flags().DurationVar(&f.Wait, "wait", wait, "how long the daemon waits before giving up")
	}
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	return lifecycleCommand("status", "Show server status (all servers without --name)", 0, c.Status)
}

func createStartCommand(c command) *cobra.Command {
	return lifecycleCommand("start", "Start a server and wait until it is ready", 3*time.Minute, c.Start)
}

func createStopCommand(c command) *cobra.Command {
	return lifecycleCommand("stop", "Stop a server gracefully, killing it after --wait", 30*time.Second, c.Stop)
}

func createKillCommand(c command) *cobra.Command {
	return lifecycleCommand("kill", "Force-terminate a server", 0, c.Kill)
}

func createSendCommand(c command) *cobra.Command {
	f := &SendFlags{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a console command to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Send(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "server name or UUID (required)")
	cmd.Flags().StringVar(&f.Command, "command", "", "console command without leading slash (required)")
	addAPIFlags(cmd, &f.APIFlags)
	mustRequire(cmd, "name", "command")
	return cmd
}

func createHistoryCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded state changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return c.History(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "only this server")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum number of events")
	cmd.Flags().BoolVar(&f.Remote, "remote", false, "read through the daemon API")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createParseVersionCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "parse-version <version>",
		Short: "Show how a version string is parsed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ParseVersion(args[0])
		},
	}
}
