// Command hotreload runs reloadable programs and inspects their reloads.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styleError("Error: ")+err.Error())
		os.Exit(1)
	}
}
