// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package dispatch

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func signalGroup(pid int, _ bool) {
	p, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	p.Kill()
}
