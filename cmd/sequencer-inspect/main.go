// Command sequencer-inspect opens a durable store directory read-only
// and dumps its events, watermarks and members as JSON, for operator
// diagnostics.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ledgerfabric/sequencer/tools/storeinspect"
)

func main() {
	dir := flag.String("dir", "", "path to a sequencer store directory")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "dir flag is required")
		os.Exit(1)
	}

	bundle, err := storeinspect.Load(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
