package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/propcheck/internal/agent"
	"github.com/dmitrijs2005/propcheck/internal/agent/config"
)

func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	app, err := agent.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app.Run(ctx)

}
