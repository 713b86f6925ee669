// Command taskdeck is the taskdeck CLI client.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"taskdeck/internal/version"
	"taskdeck/update"
)

const defaultServer = "http://localhost:8080"

func main() {
	var (
		serverURL = flag.String("server", defaultServer, "taskdeck server URL")
		token     = flag.String("token", os.Getenv("TASKDECK_TOKEN"), "auth token or shared credential")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		Token:      *token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion(rest)
	case "login":
		err = cli.cmdLogin(rest)
	case "status":
		err = cli.cmdStatus(rest)
	case "agents":
		err = cli.cmdAgents(rest)
	case "agent":
		err = cli.cmdAgent(rest)
	case "tasks":
		err = cli.cmdTasks(rest)
	case "task":
		err = cli.cmdTask(rest)
	case "activity":
		err = cli.cmdActivity(rest)
	case "update":
		err = cmdUpdate(rest)
	case "serve":
		fmt.Fprintln(os.Stderr, "use taskdeckd to run the server")
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `taskdeck — task board CLI

Usage:
  taskdeck [flags] <command> [args]

Flags:
  --server  <url>    server URL (default: http://localhost:8080)
  --token   <token>  auth token or shared credential (or $TASKDECK_TOKEN)

Commands:
  version                         print version
  login <credential>              exchange the credential for a token
  status                          show server and gateway status
  agents                          list the agent roster
  agent tasks <name>              list a specific agent's open tasks
  tasks [status]                  list tasks, optionally one column
  task create <title>             create a task in the backlog
  task show <id>                  show a task with comments and items
  task move <id> <status> [why]   move a task between columns
  task comment <id> <body>        comment on a task
  task assign <id> <agent>        assign a task
  activity                        show recent board activity
  update                          self-update to the latest release
`)
}

// --- version ---

func cmdVersion(_ []string) error {
	fmt.Printf("taskdeck %s (commit %s, built %s)\n",
		version.Version, version.Commit, version.BuildDate)
	return nil
}

// --- update ---

func cmdUpdate(_ []string) error {
	u := update.New(version.Version)
	rel, err := u.CheckForUpdate()
	if err != nil {
		return err
	}
	if rel == nil {
		fmt.Printf("taskdeck %s is up to date\n", version.Version)
		return nil
	}
	fmt.Printf("updating %s -> %s\n", version.Version, rel.Version)
	if err := u.ApplyUpdate(rel); err != nil {
		return err
	}
	fmt.Println("update complete")
	return nil
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// get performs a GET and decodes JSON into v.
func (c *Client) get(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// send performs a POST or PATCH with a JSON body and decodes the JSON
// response into v (may be nil).
func (c *Client) send(method, path string, body any, v any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = strings.NewReader(string(b))
	}
	req, err := http.NewRequest(method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// humanName asks the server who the board's human supervisor is, so
// CLI writes land under the right author without a flag.
func (c *Client) humanName() string {
	var cfg map[string]any
	if err := c.get("/api/config", &cfg); err != nil {
		return "User"
	}
	if name := strVal(cfg["human_name"]); name != "" {
		return name
	}
	return "User"
}

// --- login ---

func (c *Client) cmdLogin(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: taskdeck login <credential>")
	}
	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.send(http.MethodPost, "/api/auth/login", map[string]string{"credential": args[0]}, &resp); err != nil {
		return err
	}
	fmt.Printf("export TASKDECK_TOKEN=%s\n", resp.Token)
	fmt.Fprintf(os.Stderr, "token expires %s\n", resp.ExpiresAt.Format(time.RFC3339))
	return nil
}

// --- status ---

func (c *Client) cmdStatus(_ []string) error {
	var result struct {
		Status        string `json:"status"`
		Version       string `json:"version"`
		UptimeSeconds int64  `json:"uptime_seconds"`
		Gateway       struct {
			Enabled   bool `json:"enabled"`
			Reachable bool `json:"reachable"`
			Sessions  int  `json:"sessions"`
		} `json:"gateway"`
	}
	if err := c.get("/api/status", &result); err != nil {
		return err
	}
	fmt.Printf("status:  %s\n", result.Status)
	fmt.Printf("version: %s\n", result.Version)
	fmt.Printf("uptime:  %s\n", (time.Duration(result.UptimeSeconds) * time.Second).String())
	if !result.Gateway.Enabled {
		fmt.Printf("gateway: disabled\n")
	} else if result.Gateway.Reachable {
		fmt.Printf("gateway: reachable, %d session(s)\n", result.Gateway.Sessions)
	} else {
		fmt.Printf("gateway: unreachable\n")
	}
	return nil
}

// --- agents ---

func (c *Client) cmdAgents(_ []string) error {
	var agents []map[string]any
	if err := c.get("/api/agents", &agents); err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("no agents")
		return nil
	}
	fmt.Printf("%-20s %-20s %-10s\n", "NAME", "ID", "PROFILE")
	fmt.Println(strings.Repeat("-", 52))
	for _, a := range agents {
		fmt.Printf("%-20s %-20s %-10s\n", strVal(a["name"]), strVal(a["id"]), strVal(a["profile"]))
	}
	return nil
}

func (c *Client) cmdAgent(args []string) error {
	if len(args) < 2 || args[0] != "tasks" {
		return fmt.Errorf("usage: taskdeck agent tasks <name>")
	}
	name := strings.Join(args[1:], " ")
	var tasks []map[string]any
	if err := c.get("/api/agents/"+url.PathEscape(name)+"/tasks", &tasks); err != nil {
		return err
	}
	printTaskTable(tasks)
	return nil
}

// --- tasks ---

func (c *Client) cmdTasks(args []string) error {
	path := "/api/tasks"
	if len(args) > 0 {
		path += "?status=" + url.QueryEscape(args[0])
	}
	var tasks []map[string]any
	if err := c.get(path, &tasks); err != nil {
		return err
	}
	printTaskTable(tasks)
	return nil
}

func printTaskTable(tasks []map[string]any) {
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return
	}
	fmt.Printf("%-36s %-30s %-12s %-16s %s\n", "ID", "TITLE", "STATUS", "ASSIGNEE", "WORKING")
	fmt.Println(strings.Repeat("-", 104))
	for _, t := range tasks {
		working := ""
		if w, ok := t["working"].([]any); ok && len(w) > 0 {
			parts := make([]string, len(w))
			for i, v := range w {
				parts[i] = strVal(v)
			}
			working = strings.Join(parts, ", ")
		}
		fmt.Printf("%-36s %-30s %-12s %-16s %s\n",
			strVal(t["id"]),
			truncate(strVal(t["title"]), 29),
			strVal(t["status"]),
			truncate(strVal(t["assigned_to"]), 15),
			working,
		)
	}
}

// --- task subcommands ---

func (c *Client) cmdTask(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: taskdeck task <create|show|move|comment|assign> ...")
	}
	sub := args[0]
	rest := args[1:]
	switch sub {
	case "create":
		return c.taskCreate(rest)
	case "show":
		return c.taskShow(rest)
	case "move":
		return c.taskMove(rest)
	case "comment":
		return c.taskComment(rest)
	case "assign":
		return c.taskAssign(rest)
	default:
		return fmt.Errorf("unknown task subcommand: %s", sub)
	}
}

func (c *Client) taskCreate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: taskdeck task create <title>")
	}
	body := map[string]any{
		"title": strings.Join(args, " "),
		"actor": c.humanName(),
	}
	var result map[string]any
	if err := c.send(http.MethodPost, "/api/tasks", body, &result); err != nil {
		return err
	}
	fmt.Printf("created task %s\n", strVal(result["id"]))
	return nil
}

func (c *Client) taskShow(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: taskdeck task show <id>")
	}
	id := args[0]

	var t map[string]any
	if err := c.get("/api/tasks/"+url.PathEscape(id), &t); err != nil {
		return err
	}
	fmt.Printf("task:     %s\n", strVal(t["id"]))
	fmt.Printf("title:    %s\n", strVal(t["title"]))
	fmt.Printf("status:   %s\n", strVal(t["status"]))
	fmt.Printf("assignee: %s\n", orDash(strVal(t["assigned_to"])))
	if desc := strVal(t["description"]); desc != "" {
		fmt.Printf("\n%s\n", desc)
	}

	var items []map[string]any
	if err := c.get("/api/tasks/"+url.PathEscape(id)+"/action-items", &items); err != nil {
		return err
	}
	if len(items) > 0 {
		fmt.Printf("\naction items:\n")
		for _, it := range items {
			mark := " "
			if r, ok := it["resolved"].(bool); ok && r {
				mark = "x"
			}
			fmt.Printf("  [%s] (%s) %s\n", mark, strVal(it["kind"]), strVal(it["body"]))
		}
	}

	var comments []map[string]any
	if err := c.get("/api/tasks/"+url.PathEscape(id)+"/comments", &comments); err != nil {
		return err
	}
	if len(comments) > 0 {
		fmt.Printf("\ncomments:\n")
		for _, cm := range comments {
			fmt.Printf("  %s: %s\n", strVal(cm["author"]), strVal(cm["body"]))
		}
	}
	return nil
}

func (c *Client) taskMove(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: taskdeck task move <id> <status> [reason]")
	}
	body := map[string]string{
		"status": args[1],
		"actor":  c.humanName(),
	}
	if len(args) > 2 {
		body["reason"] = strings.Join(args[2:], " ")
	}
	var result map[string]any
	if err := c.send(http.MethodPost, "/api/tasks/"+url.PathEscape(args[0])+"/move", body, &result); err != nil {
		return err
	}
	fmt.Printf("task %s is now %s\n", strVal(result["id"]), strVal(result["status"]))
	return nil
}

func (c *Client) taskComment(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: taskdeck task comment <id> <body>")
	}
	body := map[string]string{
		"author": c.humanName(),
		"body":   strings.Join(args[1:], " "),
	}
	var result map[string]any
	if err := c.send(http.MethodPost, "/api/tasks/"+url.PathEscape(args[0])+"/comments", body, &result); err != nil {
		return err
	}
	fmt.Printf("comment %s added\n", strVal(result["id"]))
	return nil
}

func (c *Client) taskAssign(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: taskdeck task assign <id> <agent>")
	}
	body := map[string]string{
		"assigned_to": strings.Join(args[1:], " "),
		"actor":       c.humanName(),
	}
	var result map[string]any
	if err := c.send(http.MethodPatch, "/api/tasks/"+url.PathEscape(args[0]), body, &result); err != nil {
		return err
	}
	fmt.Printf("task %s assigned to %s\n", strVal(result["id"]), orDash(strVal(result["assigned_to"])))
	return nil
}

// --- activity ---

func (c *Client) cmdActivity(_ []string) error {
	var entries []map[string]any
	if err := c.get("/api/activity", &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no activity")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-20s %-16s %-10s %s\n",
			strVal(e["created_at"]),
			truncate(strVal(e["actor"]), 15),
			strVal(e["action"]),
			strVal(e["details"]),
		)
	}
	return nil
}

// --- helpers ---

func strVal(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
