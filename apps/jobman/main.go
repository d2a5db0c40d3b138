package main

import "github.com/quatton/jobman/apps/jobman/cmd"

func main() {
	cmd.Execute()
}
