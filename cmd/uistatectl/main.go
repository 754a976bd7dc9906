package main

import (
	"fmt"
	"os"

	"github.com/odyssey-erp/odyssey-uistate/cmd/uistatectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "uistatectl:", err)
		os.Exit(1)
	}
}
