// Command sequencer-catalog lists sequencer store directories under a
// root path and summarizes each, for fleet inventory and diagnostics.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/ledgerfabric/sequencer/tools/storecatalog"
)

func main() {
	root := flag.String("dir", ".", "directory tree to search for store directories")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := storecatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := storecatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (%d members, %d bytes events, %d bytes payloads)\n",
			entry.Dir, entry.MemberCount, entry.EventBytes, entry.PayloadSize)
		if len(entry.Watermarks) > 0 {
			instances := make([]int, 0, len(entry.Watermarks))
			for idx := range entry.Watermarks {
				instances = append(instances, idx)
			}
			sort.Ints(instances)
			fmt.Printf("  watermarks:\n")
			for _, idx := range instances {
				wm := entry.Watermarks[idx]
				fmt.Printf("    instance %d: %s (online=%v)\n", idx, wm.Timestamp, wm.Online)
			}
		}
	}
}
