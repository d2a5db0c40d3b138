package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/quatton/jobman/apps/jobctl/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "jobctl crashed: %v\n", r)
			if os.Getenv("JOBMAN_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
