package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"
)

// runStatus queries a running keeper's control API and pretty-prints the
// response, so operators do not need curl plus jq on the box.
func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "http://localhost:8080", "control API base URL")
	token := fs.String("token", "", "bearer token when the API is secured")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	req, err := http.NewRequest(http.MethodGet, *addr+"/control/status", nil)
	if err != nil {
		fmt.Fprintf(stderr, "keeper: %v\n", err)
		return 1
	}
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "keeper: control API unreachable: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(stderr, "keeper: read response: %v\n", err)
		return 1
	}

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "keeper: status %d: %s\n", resp.StatusCode, body)
		return 1
	}

	var pretty json.RawMessage = body
	printJSON(stdout, pretty)
	return 0
}
