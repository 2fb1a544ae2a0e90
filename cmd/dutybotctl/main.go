package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dutybot-io/dutybot/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "tickets":
		if len(os.Args) >= 3 {
			cmdTicketShow(os.Args[2])
		} else {
			cmdTicketsList()
		}
	case "dump":
		cmdDump()
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: dutybotctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdTicketsList() {
	body, err := apiGet("/api/tickets")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var tickets map[string]map[string]any
	json.Unmarshal(body, &tickets)
	for number, t := range tickets {
		fmt.Printf("%-16s opened %v, reminded %v times\n", number, t["start_time"], t["remind_times"])
	}
}

func cmdTicketShow(number string) {
	body, err := apiGet("/api/tickets/" + number)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdDump() {
	body, err := apiGet("/api/dump")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	limit := fs.Int("limit", 50, "Max entries")
	level := fs.String("level", "", "Minimum level (info|warn|error)")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *level != "" {
		query += "&level=" + *level
	}

	body, err := apiGet("/api/logs" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var entries []map[string]any
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%v %-5v %v\n", e["time"], e["level"], e["message"])
	}
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	base := envOr("DUTYBOT_API_URL", "http://localhost:8080")
	url := base + path

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	if key := os.Getenv("DUTYBOT_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("dutybotctl - duty bot management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health               Check daemon health")
	fmt.Println("  tickets              List open tickets")
	fmt.Println("  tickets <number>     Show ticket details")
	fmt.Println("  dump                 Print the persisted ticket file")
	fmt.Println("  logs                 Show recent daemon logs (--limit, --level)")
	fmt.Println("  config validate <p>  Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  DUTYBOT_API_URL  Daemon URL (default: http://localhost:8080)")
	fmt.Println("  DUTYBOT_API_KEY  API key for authentication")
}
