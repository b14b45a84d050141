package main

import (
	"fmt"
	"os"

	"meshgate/internal/config"
)

func main() {
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading default config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("# Gateway Environment Variables")
	fmt.Println()
	fmt.Println("Environment variables override values from the configuration file.")
	fmt.Println("Names follow the yaml path below `gateway:`, upper-cased and joined with `_`.")
	fmt.Println()
	fmt.Println("| Variable | Type | Default |")
	fmt.Println("|---|---|---|")
	for _, v := range config.EnvVars(cfg) {
		fmt.Printf("| `%s` | %s | %s |\n", v.Key, v.Kind, v.Default)
	}

	fmt.Println()
	fmt.Println("## Examples")
	fmt.Println()
	fmt.Println("```bash")
	fmt.Println("# Probe every 10s and evict after 2 failures")
	fmt.Println("export GATEWAY_REGISTRY_PROBEINTERVALSECONDS=10")
	fmt.Println("export GATEWAY_REGISTRY_UNHEALTHYTHRESHOLD=2")
	fmt.Println()
	fmt.Println("# Share rate limits across gateway replicas")
	fmt.Println("export GATEWAY_RATELIMIT_STORE=redis")
	fmt.Println("export GATEWAY_RATELIMIT_REDIS_ADDRESS=redis:6379")
	fmt.Println()
	fmt.Println("# Ship logs to the collector")
	fmt.Println("export GATEWAY_LOGGING_SINK_ENABLED=true")
	fmt.Println("export GATEWAY_LOGGING_SINK_ENDPOINT=http://collector:9880/logs")
	fmt.Println()
	fmt.Println("./gateway --config gateway.yaml")
	fmt.Println("```")
}
