package main

import (
	"fmt"
	"os"

	"talent-graph/backend/pkg/logger"
)

func main() {
	root := newRootCmd()
	err := root.Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
