package main

import (
	"context"
	"log"

	"github.com/ridelines/draftsync/internal/cli"
)

func main() {
	ctx := context.Background()
	if err := cli.BuildCLI().ExecuteContext(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
