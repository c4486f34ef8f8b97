// main.go

package main

import (
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/cmd"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/logger"
)

func main() {
	logger.Initialize(logger.Options{})
	cmd.Execute()
}
