package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/hdlwire/cmd/query"
	"github.com/ValentinKolb/hdlwire/cmd/serve"
	"github.com/ValentinKolb/hdlwire/cmd/util"
	"github.com/ValentinKolb/hdlwire/rpc/envelope"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "hdl",
		Short: "handle protocol transport",
		Long: fmt.Sprintf(`hdlwire (v%s)

Transport core of the handle resolution protocol: envelope framing,
fragmentation and reassembly of large messages, and correlation of
asynchronous responses to their requests over tcp, unix sockets or an
http tunnel.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of hdlwire",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hdlwire v%s (protocol %d.%d)\n", Version, envelope.MajorVersion, envelope.MinorVersion)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(query.QueryCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (binary, json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix, http)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
