// Command espresso is the thin driver: it wires a Runtime to the OS host,
// registers the standard bootstrap, and either loads a file or runs the
// interactive shell. Argument parsing and the run-vs-shell choice are the
// entirety of its logic; everything else lives in internal/.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"espresso/internal/host"
	"espresso/internal/native"
	"espresso/internal/vm"
)

func main() {
	loadPath := flag.String("loadpath", "", "colon-separated directories searched by load()")
	stats := flag.Bool("stats", false, "print accounted heap usage on exit")
	flag.Parse()

	h := host.New()
	rt, err := vm.New(h, *loadPath)
	if err != nil {
		log.Fatalf("espresso: %v", err)
	}
	native.Bootstrap(rt)

	var code int
	if args := flag.Args(); len(args) > 0 {
		code = rt.Load(args[0])
	} else {
		if isatty.IsTerminal(os.Stdin.Fd()) {
			fmt.Println("espresso: interactive shell, Ctrl-D to exit")
		}
		code = rt.Shell()
	}

	if *stats {
		fmt.Fprintf(os.Stderr, "espresso: %s accounted heap at exit\n", humanize.Bytes(uint64(rt.BytesAllocated())))
	}
	os.Exit(code)
}
