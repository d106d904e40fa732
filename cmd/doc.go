// Package cmd implements the command-line interface of hdlwire. It provides a
// hierarchical command structure for running a server and talking to it as a
// client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the loopback responder and its optional metrics endpoint
//   - query: Client commands (resolve, site-info, probe)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through an HDL_ prefixed environment variable
// (dashes become underscores) or a .env / .env.local file.
//
// See hdl -help for a list of all commands.
package cmd
