// Command example mirrors the teacher SDK's examples/basic_usage: load
// configuration, build a client, and issue one GET request.
// Adapted here to drive a control-plane client instead of an OData
// service.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prefecthq/control-plane-client/client"
	"github.com/prefecthq/control-plane-client/config"
)

const (
	product        = "control-plane-client"
	productVersion = "0.1.0"
	apiVersion     = "0.1"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if settings.APIURL == "" {
		fmt.Println("No api_url configured, using example values...")
		settings.APIURL = "http://localhost:4200/api"
	}

	provider := func() (*config.Settings, error) { return settings, nil }

	c, err := client.New(settings.APIURL, product, productVersion, apiVersion, provider)
	if err != nil {
		log.Fatalf("failed to build client: %v", err)
	}
	defer c.Close()

	fmt.Printf("--- Client initialized (server type: %s) ---\n", c.ServerType())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.Get(ctx, "/health")
	if err != nil {
		log.Printf("health check failed: %v", err)
		return
	}
	fmt.Printf("health check: %d\n", resp.StatusCode())
}
