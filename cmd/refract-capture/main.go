// Command refract-capture renders the testbed scene without a window and
// saves the last frame as a PNG.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
