// Command binderctl is the operator inspection tool for a running binderd.
// It only reads registry state over the inspection API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
