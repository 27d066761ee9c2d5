package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/realestate-ai/enhance-pipeline/internal/app"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/env"
)

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	runServer := envTrue("RUN_SERVER", true)
	runWorker := envTrue("RUN_WORKER", true)

	a.Start(runWorker)

	if runServer {
		port := env.GetEnv("PORT", "8080", a.Log)
		fmt.Printf("server listening on :%s\n", port)
		if err := a.Run(":" + port); err != nil {
			a.Log.Warn("server failed", "error", err.Error())
		}
		return
	}

	select {}
}
