package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/plantops/maintwatch/internal/alerting"
	"github.com/plantops/maintwatch/internal/config"
	"github.com/plantops/maintwatch/internal/store"
)

// scriptLine is one step of a scenario script: a sample plus the
// simulated seconds elapsed since the previous step.
type scriptLine struct {
	MachineID    string             `json:"machine_id"`
	Sensors      map[string]float64 `json:"sensors"`
	DelaySeconds float64            `json:"delay_seconds"`
}

func main() {
	log.SetFlags(0)
	scriptPath := flag.String("script", "fixtures/scenario.jsonl", "JSONL sample script")
	configPath := flag.String("config", "", "optional configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}

	f, err := os.Open(*scriptPath)
	if err != nil {
		log.Fatalf("open %s: %v", *scriptPath, err)
	}
	defer f.Close()

	// simulated clock driven by the script's delays; stabilizer bypass
	// keeps the scripted ramp from being flattened by the refresh cache
	now := time.Now()
	clock := func() time.Time { return now }

	st := store.NewMemStore()
	engine := alerting.NewEngine(cfg, st,
		alerting.WithClock(clock),
		alerting.WithStabilizerBypass(),
	)

	ctx := context.Background()
	lineNo := 0
	emitted := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line scriptLine
		if err := json.Unmarshal(raw, &line); err != nil {
			log.Fatalf("line %d: %v", lineNo, err)
		}

		now = now.Add(time.Duration(line.DelaySeconds * float64(time.Second)))

		ids, err := engine.Submit(ctx, alerting.Sample{
			MachineID: line.MachineID,
			Timestamp: now,
			Sensors:   line.Sensors,
		})
		if err != nil {
			log.Fatalf("line %d: submit: %v", lineNo, err)
		}
		for _, id := range ids {
			emitted++
			a, err := st.GetAlert(ctx, id)
			if err != nil {
				log.Fatalf("line %d: lookup %s: %v", lineNo, id, err)
			}
			fmt.Printf("t=%s line=%d machine=%s alert=%s type=%s severity=%s\n",
				now.Format(time.RFC3339), lineNo, line.MachineID, id, a.AlertType, a.Severity)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read script: %v", err)
	}

	fmt.Printf("\nprocessed %d samples, emitted %d alerts\n", lineNo, emitted)
	for _, machine := range machinesOf(ctx, st) {
		status := engine.WindowStatus(machine)
		for alertType, ev := range status.Windows {
			fmt.Printf("machine=%s window=%s samples=%d mean_risk=%.3f reason=%q\n",
				machine, alertType, ev.SampleCount, ev.MeanRisk, ev.Reason)
		}
	}
}

func machinesOf(ctx context.Context, st *store.MemStore) []string {
	alerts, err := st.ListActiveAlerts(ctx, "")
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, a := range alerts {
		if !seen[a.MachineID] {
			seen[a.MachineID] = true
			out = append(out, a.MachineID)
		}
	}
	return out
}
