package query

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	resolveBody string

	// resolveCmd represents the resolve command
	resolveCmd = &cobra.Command{
		Use:   "resolve [handle]",
		Short: "Resolve a handle",
		Args:  cobra.ExactArgs(1),
		RunE:  runResolve,
	}

	// siteInfoCmd represents the site-info command
	siteInfoCmd = &cobra.Command{
		Use:   "site-info",
		Short: "Ask the server for its site information",
		Args:  cobra.NoArgs,
		RunE:  runSiteInfo,
	}
)

func init() {
	resolveCmd.Flags().StringVar(&resolveBody, "body", "", "Request body to send along")
}

func runResolve(cmd *cobra.Command, args []string) error {
	body, err := rpcClient.Resolve(context.Background(), args[0], []byte(resolveBody))
	if err != nil {
		return err
	}
	return printBody(body)
}

func runSiteInfo(*cobra.Command, []string) error {
	body, err := rpcClient.GetSiteInfo(context.Background())
	if err != nil {
		return err
	}
	return printBody(body)
}

func printBody(body []byte) error {
	if len(body) == 0 {
		fmt.Println("(empty response)")
		return nil
	}
	if _, err := os.Stdout.Write(body); err != nil {
		return err
	}
	fmt.Println()
	return nil
}
