package dbtest

import (
	"flag"
	"os"
	"os/signal"
)

// Inspect keeps a test container running after the test using it fails, so that
// its database can be inspected manually. The testcontainers reaper still
// removes such containers eventually.
var Inspect = flag.Bool("dbtest.inspect", false, "keep test containers running for inspection after a failed test completes")

// waitForInspection blocks until the user sends a SIGINT (Ctrl+C).
func waitForInspection() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer signal.Stop(c)
	<-c
}
