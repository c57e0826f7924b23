// Command uploader runs the text-upload pipeline from a terminal, against a
// local or remote destination.
package main

import (
	"fmt"
	"os"

	"github.com/OpenPecha/webuddhist/backend/internal/util"
)

func main() {
	util.LoadEnv()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}
