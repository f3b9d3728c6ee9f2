// loomdump prints the structural content of loom streams: header fields,
// metadata, type stamps, and record counts. Reads file arguments, or stdin
// when none are given.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/davecgh/go-spew/spew"

	"github.com/965022-oss/loom/loom"
)

var verbose = flag.Bool("v", false, "dump the full stream summary structure")

func process(fname string, b []byte) {
	info, err := loom.Inspect(b)
	if err != nil {
		log.Fatalf("error processing %s: %s", fname, err)
	}

	fmt.Printf("%s: version %d, references=%v, stamps=%v, %d root(s), %d record(s), %d type(s)\n",
		fname, info.Version, info.ReferencesPreserved, info.TypeStamping,
		info.Roots, info.Records, len(info.Types))
	if info.Metadata != nil {
		fmt.Printf("  metadata: %d byte(s) %q\n", len(info.Metadata), info.Metadata)
	}
	for _, t := range info.Types {
		fmt.Printf("  type %d %s (fingerprint %016x): %v\n", t.ID, t.Name, t.Fingerprint, t.Fields)
	}
	if *verbose {
		spew.Dump(info)
	}
}

func main() {
	flag.Parse()

	if flag.NArg() == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("error reading stdin: %s", err)
		}
		process("stdin", b)
		return
	}

	for _, arg := range flag.Args() {
		b, err := os.ReadFile(arg)
		if err != nil {
			log.Fatalf("error reading %s: %s", arg, err)
		}
		process(arg, b)
	}
}
