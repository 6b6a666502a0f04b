// Command agent-control supervises a fleet of sub-agents from declarative
// agent-type configuration, reconciling their configuration against a
// remote management channel. See SPEC_FULL.md for the module this binary
// wires together.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.Fatal(err)
	}
	os.Exit(0)
}
