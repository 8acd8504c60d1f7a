/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package main

import (
	"os"

	"github.com/fulmenhq/exportsync/cmd"
	"github.com/fulmenhq/exportsync/pkg/exitcode"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(exitcode.FromError(err))
	}
}
