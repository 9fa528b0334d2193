// Command autocourse runs course-completion batches against a course platform
// and reports their progress over HTTP, Redis and run history.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
