// Command gearman-admin is a small integration surface for the admin
// façade: it pings a server and prints its status, worker list, and
// version. Not a configuration-driven service front-end -- see
// SPEC_FULL.md's Non-goals -- just enough wiring to exercise cog.Admin
// end to end against a real gearmand.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jasonmoo/cog"
	"github.com/jasonmoo/cog/internal/logging"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:4730", "gearman server address")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	admin, err := cog.NewAdmin(*addr, cog.WithLogger(logging.NewLogrus(logger)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer admin.Close()

	if err := admin.PingServer(); err != nil {
		fmt.Fprintf(os.Stderr, "ping %s: %v\n", *addr, err)
		os.Exit(1)
	}
	fmt.Printf("%s: alive\n", *addr)

	version, err := admin.GetVersion()
	if err != nil {
		fmt.Fprintf(os.Stderr, "version: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("version: %s\n", version)

	status, err := admin.GetStatus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("status:")
	for _, row := range status {
		fmt.Printf("  %-20s queued=%d running=%d workers=%d\n", row.Task, row.Queued, row.Running, row.Workers)
	}

	workers, err := admin.GetWorkers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "workers: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("workers:")
	for _, w := range workers {
		fmt.Printf("  fd=%s ip=%s client_id=%s tasks=%v\n", w.FD, w.IP, w.ClientID, w.Tasks)
	}
}
