// Command bootstrap is a runtime build with the demo handlers compiled in.
package main

import (
	"fmt"
	"os"

	"github.com/oriys/customruntime/pkg/bootstrap"
	"github.com/oriys/customruntime/pkg/handler"
)

func main() {
	reg := handler.NewRegistry()
	if err := registerHandlers(reg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	bootstrap.Main(reg)
}
