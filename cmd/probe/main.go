package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/altiroute/altiroute_core/internal/elevation"
	"github.com/altiroute/altiroute_core/internal/provider"
	"github.com/altiroute/altiroute_core/internal/regional"
)

func main() {
	timeout := flag.Duration("timeout", 30*time.Second, "overall probe deadline")
	flag.Parse()

	log.Println("🔎 AltiRoute - Provider Probe Tool")
	log.Println("==================================")

	registry := provider.DefaultRegistry()
	resolver := elevation.NewResolver(registry, regional.NewEstimator(), elevation.ResolverConfig{})
	prober := elevation.NewProber(resolver, registry)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	log.Printf("📡 Probing %d providers...", registry.Len())
	startTime := time.Now()

	status := prober.ProbeAll(ctx)

	log.Printf("⏱️  Duration: %v", time.Since(startTime).Round(time.Millisecond))
	log.Printf("📊 Results:")
	log.Printf("   Available: %d", len(status.Available))
	for _, name := range status.Available {
		log.Printf("   ✅ %s", name)
	}
	log.Printf("   Unavailable: %d", len(status.Unavailable))
	for _, d := range status.Details {
		if !d.Available {
			log.Printf("   ❌ %s: %s", d.Name, d.Reason)
		}
	}

	if len(status.Unavailable) == 0 {
		log.Println("🚀 All elevation providers are reachable!")
	}
}
