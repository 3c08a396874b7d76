package main

import (
	"os"

	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/version"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	if err := mainCmd.Execute(); err != nil {
		log.L.Fatal(err)
	}
}

var (
	mainCmd = &cobra.Command{
		Use:          os.Args[0],
		Short:        "Run an intent manager",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logrus.SetOutput(os.Stderr)
			flag, err := cmd.Flags().GetString("log-level")
			if err != nil {
				return err
			}
			level, err := logrus.ParseLevel(flag)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)

			format, err := cmd.Flags().GetString("log-format")
			if err != nil {
				return err
			}
			switch format {
			case "json":
				logrus.SetFormatter(&logrus.JSONFormatter{})
			case "text":
				logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			default:
				return errors.Errorf("unknown log format %q", format)
			}
			return nil
		},
	}
)

// addGlobalFlags registers the flags shared by every subcommand.
func addGlobalFlags(flags *pflag.FlagSet) {
	flags.StringP("log-level", "l", "info", "Log level (options \"debug\", \"info\", \"warn\", \"error\", \"fatal\", \"panic\")")
	flags.String("log-format", "text", "Log format (options \"text\", \"json\")")
	flags.StringP("state-dir", "d", "/var/lib/intentkit", "State directory")
}

func init() {
	addGlobalFlags(mainCmd.PersistentFlags())

	mainCmd.AddCommand(
		runCmd,
		diagnoseCmd,
		version.Cmd,
	)
}
