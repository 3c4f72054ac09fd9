// Command copyedit corrects spelling, grammar and punctuation in paragraphs
// and reports every edit as a located change. It serves an HTTP API, an MCP
// tool over stdio, and a one-shot "fix" command for files and pipes.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "copyedit: %v\n", err)
		os.Exit(1)
	}
}
