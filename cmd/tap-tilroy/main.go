package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

// flags holds the command line values after viper has merged TAP_*
// environment variables over them.
type flags struct {
	config    string
	catalog   string
	state     string
	discover  bool
	logLevel  string
	metrics   string
	streams   int
	policy    string
	startDate string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TAP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "tap-tilroy",
		Short: "Singer tap for the Tilroy retail API",
		Long: `tap-tilroy extracts shops, products, purchase orders, stock changes and
sales from Tilroy and writes Singer SCHEMA, RECORD and STATE messages to
stdout. Bookmarks are checkpointed after every page, so an interrupted run
resumes where it stopped.

Example:
  tap-tilroy --config config.json --state state.json > out.jsonl
  tap-tilroy --config config.json --discover > catalog.json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := readFlags(v)
			if f.discover {
				return discover(cmd.Context(), f, cmd.OutOrStdout())
			}
			return run(cmd.Context(), f, cmd.OutOrStdout())
		},
	}
	root.SetOut(stdout)

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "config.json", "Path to the tap configuration (JSON or YAML)")
	pf.String("catalog", "", "Singer catalog selecting streams and fields")
	pf.String("state", "", "State file to resume from")
	pf.String("log-level", "", "Log level override (debug, info, warn, error)")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	pf.Int("max-concurrent-streams", 0, "Number of streams synced at once")
	pf.String("validation-policy", "", "Invalid record handling: default, skip or abort")
	pf.String("start-date", "", "Lower bound of the first incremental sync")
	root.Flags().Bool("discover", false, "Print the catalog and exit")
	_ = v.BindPFlags(pf)
	_ = v.BindPFlags(root.Flags())

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Sync the selected streams",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), readFlags(v), cmd.OutOrStdout())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "discover",
		Short: "Print the Singer catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return discover(cmd.Context(), readFlags(v), cmd.OutOrStdout())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tap-tilroy v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	return root
}

func readFlags(v *viper.Viper) flags {
	return flags{
		config:    v.GetString("config"),
		catalog:   v.GetString("catalog"),
		state:     v.GetString("state"),
		discover:  v.GetBool("discover"),
		logLevel:  v.GetString("log-level"),
		metrics:   v.GetString("metrics-addr"),
		streams:   v.GetInt("max-concurrent-streams"),
		policy:    v.GetString("validation-policy"),
		startDate: v.GetString("start-date"),
	}
}
