package query

import (
	"github.com/ValentinKolb/hdlwire/cmd/util"
	"github.com/ValentinKolb/hdlwire/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.RPCClient

	// QueryCommands represents the client command group
	QueryCommands = &cobra.Command{
		Use:                "query",
		Short:              "Send requests to a server",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the query command
	util.SetupRPCClientFlags(QueryCommands)

	// Add subcommands
	QueryCommands.AddCommand(resolveCmd)
	QueryCommands.AddCommand(siteInfoCmd)
	QueryCommands.AddCommand(probeCmd)
}

// setupClient initializes the RPC client
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport(s)
	if err != nil {
		return err
	}

	rpcClient, err = client.NewRPCClient(*config, t)
	return err
}

func closeClient(*cobra.Command, []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}
