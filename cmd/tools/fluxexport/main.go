// Command fluxexport runs a query against the time-series backend and prints
// a preview of the result or writes it as a wide CSV/JSON file.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
