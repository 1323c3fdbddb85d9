// Wrangler: multi-agent orchestration MCP server.
//
// Usage:
//
//	wrangler serve      # Start the MCP server (stdio transport)
//	wrangler version    # Print the version
package main

import "github.com/HendryAvila/wrangler/internal/cli"

func main() {
	cli.Execute()
}
