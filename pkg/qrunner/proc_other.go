//go:build !unix

package qrunner

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}
