package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// hivectl speaks request/reply to a running hived over its NATS port.

const ipcSubject = "hive.ipc"

type ipcRequest struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func sendIPC(natsURL, op string, payload any) (map[string]any, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	req := ipcRequest{Op: op}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		req.Payload = data
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := conn.Request(ipcSubject, data, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if errMsg, ok := resp["error"].(string); ok && errMsg != "" {
		return nil, fmt.Errorf("%s", errMsg)
	}
	return resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") && i+1 < len(args) {
			key := strings.TrimPrefix(args[i], "--")
			i++
			result[key] = args[i]
		}
	}
	return result
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	natsURL := os.Getenv("HIVE_NATS_URL")
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	cmd := os.Args[1]
	flags := parseArgs(os.Args[2:])

	var err error
	switch cmd {
	case "status":
		err = runStatus(natsURL)
	case "agents":
		err = runAgents(natsURL)
	case "register":
		err = runRegister(natsURL, flags)
	case "submit":
		err = runSubmit(natsURL, flags)
	case "task":
		err = runGet(natsURL, "task", os.Args[2:])
	case "propose":
		err = runPropose(natsURL, flags)
	case "vote":
		err = runVote(natsURL, flags)
	case "decision":
		err = runGet(natsURL, "decision", os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: hivectl <command> [flags]

Commands:
  status                                  Hive-wide status aggregate
  agents                                  List registered agents
  register --domain <d> --name <n>        Register an agent
           [--id <id>] [--health <0-100>] [--capabilities a,b]
  submit   --domains <d1,d2> --desc <s>   Submit a task
           [--type <t>] [--priority <p>]
  task     <id>                           Task snapshot
  propose  --question <q> --proposer <id> Propose a decision
           [--plan <s>]
  vote     --decision <id> --agent <id> --choice <approve|reject|abstain>
  decision <id>                           Decision snapshot

Environment:
  HIVE_NATS_URL   NATS URL of the hived instance (default %s)
`, nats.DefaultURL)
}

func runStatus(natsURL string) error {
	resp, err := sendIPC(natsURL, "status", nil)
	if err != nil {
		return err
	}
	return printJSON(resp["status"])
}

func runAgents(natsURL string) error {
	resp, err := sendIPC(natsURL, "agents", nil)
	if err != nil {
		return err
	}
	return printJSON(resp["agents"])
}

func runRegister(natsURL string, flags map[string]string) error {
	if flags["domain"] == "" || flags["name"] == "" {
		return fmt.Errorf("--domain and --name are required")
	}

	agent := map[string]any{
		"id":     flags["id"],
		"domain": flags["domain"],
		"name":   flags["name"],
	}
	if v := flags["health"]; v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid --health: %w", err)
		}
		agent["health_score"] = h
	}
	if v := flags["capabilities"]; v != "" {
		agent["capabilities"] = strings.Split(v, ",")
	}

	resp, err := sendIPC(natsURL, "register", agent)
	if err != nil {
		return err
	}
	fmt.Printf("Registered agent %s\n", resp["id"])
	return nil
}

func runSubmit(natsURL string, flags map[string]string) error {
	if flags["domains"] == "" {
		return fmt.Errorf("--domains is required")
	}

	spec := map[string]any{
		"required_domains": strings.Split(flags["domains"], ","),
		"description":      flags["desc"],
	}
	if v := flags["type"]; v != "" {
		spec["type"] = v
	}
	if v := flags["priority"]; v != "" {
		spec["priority"] = v
	}

	resp, err := sendIPC(natsURL, "submit", spec)
	if err != nil {
		return err
	}
	return printJSON(resp["task"])
}

func runPropose(natsURL string, flags map[string]string) error {
	if flags["question"] == "" {
		return fmt.Errorf("--question is required")
	}

	resp, err := sendIPC(natsURL, "propose", map[string]any{
		"question":       flags["question"],
		"proposer_id":    flags["proposer"],
		"execution_plan": flags["plan"],
	})
	if err != nil {
		return err
	}
	fmt.Printf("Proposed decision %s\n", resp["id"])
	return nil
}

func runVote(natsURL string, flags map[string]string) error {
	if flags["decision"] == "" || flags["agent"] == "" || flags["choice"] == "" {
		return fmt.Errorf("--decision, --agent and --choice are required")
	}

	resp, err := sendIPC(natsURL, "vote", map[string]any{
		"decision_id": flags["decision"],
		"agent_id":    flags["agent"],
		"choice":      flags["choice"],
	})
	if err != nil {
		return err
	}
	if accepted, _ := resp["accepted"].(bool); accepted {
		fmt.Println("Vote recorded")
	} else {
		fmt.Println("Vote ignored (unknown or resolved decision)")
	}
	return nil
}

func runGet(natsURL, op string, args []string) error {
	if len(args) < 1 || strings.HasPrefix(args[0], "--") {
		return fmt.Errorf("usage: hivectl %s <id>", op)
	}

	resp, err := sendIPC(natsURL, op, map[string]string{"id": args[0]})
	if err != nil {
		return err
	}
	return printJSON(resp[op])
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
