// Benchmark tool for measuring SIMGuard against labeled activity logs.
//
// Usage:
//
//	go run ./cmd/benchmark -generate 500
//	go run ./cmd/benchmark -csv labeled.csv -url http://localhost:8080
//
// This tool:
//  1. Reads a labeled CSV (label column SUSPICIOUS/LEGITIMATE or 1/0), or
//     generates one with the synthetic scenarios
//  2. Scores every user, in process or through a running server
//  3. Compares the alert tier with the label
//  4. Prints the confusion matrix, precision, recall and F1-score
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/opensource-finance/simguard/internal/batch"
	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/opensource-finance/simguard/internal/ingest"
	"github.com/opensource-finance/simguard/internal/rules"
	"github.com/opensource-finance/simguard/internal/synth"
)

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Suspicious user alerted
	FalsePositives int64 // Legitimate user alerted
	TrueNegatives  int64 // Legitimate user not alerted
	FalseNegatives int64 // Suspicious user missed

	TotalSuspicious int64
	TotalLegitimate int64
	Unlabeled       int64
	Excluded        int64

	// Recall per scenario, when the labels carry one.
	ScenarioHits  map[synth.Scenario]int64
	ScenarioTotal map[synth.Scenario]int64
}

func (m *Metrics) Precision() float64 {
	if m.TruePositives+m.FalsePositives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
}

func (m *Metrics) Recall() float64 {
	if m.TruePositives+m.FalseNegatives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
}

func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func (m *Metrics) Accuracy() float64 {
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total == 0 {
		return 0
	}
	return float64(m.TruePositives+m.TrueNegatives) / float64(total)
}

func main() {
	csvPath := flag.String("csv", "", "Path to a labeled activity CSV")
	generate := flag.Int("generate", 0, "Generate N synthetic users instead of reading -csv")
	suspiciousPct := flag.Float64("suspicious", 0.2, "Share of suspicious users when generating (0.0-1.0)")
	seed := flag.Uint64("seed", 1, "Seed for the synthetic generator")
	out := flag.String("out", "", "Write the generated CSV to this path")
	baseURL := flag.String("url", "", "SIMGuard base URL; empty scores in process")
	minTier := flag.String("min-tier", "MEDIUM", "Lowest tier counted as an alert: LOW, MEDIUM or HIGH")
	workers := flag.Int("workers", 8, "Concurrent users scored in process")
	verbose := flag.Bool("verbose", false, "Print each misclassified user")
	flag.Parse()

	threshold := domain.AlertTier(strings.ToUpper(*minTier))
	if tierRank(threshold) < 0 {
		fmt.Printf("ERROR: unknown tier %q\n", *minTier)
		os.Exit(1)
	}

	var data []byte
	switch {
	case *generate > 0:
		suspicious := int(float64(*generate) * *suspiciousPct)
		ds := synth.Generate(synth.Options{
			Legitimate: *generate - suspicious,
			Suspicious: suspicious,
			Seed:       *seed,
		})
		var buf bytes.Buffer
		if err := synth.WriteCSV(&buf, ds); err != nil {
			fmt.Printf("ERROR: failed to generate dataset: %v\n", err)
			os.Exit(1)
		}
		data = buf.Bytes()
		if *out != "" {
			if err := os.WriteFile(*out, data, 0o644); err != nil {
				fmt.Printf("ERROR: failed to write %s: %v\n", *out, err)
				os.Exit(1)
			}
		}
	case *csvPath != "":
		b, err := os.ReadFile(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
		data = b
	default:
		fmt.Println("Usage: benchmark -csv labeled.csv | -generate N [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          SIMGUARD BENCHMARK - SIM-Swap Detection              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	if *csvPath != "" {
		fmt.Printf("\nCSV File:    %s\n", *csvPath)
	} else {
		fmt.Printf("\nGenerated:   %d users (seed %d)\n", *generate, *seed)
	}
	if *baseURL != "" {
		fmt.Printf("Server URL:  %s\n", *baseURL)
	} else {
		fmt.Printf("Mode:        in process (%d workers)\n", *workers)
	}
	fmt.Printf("Alert Tier:  >= %s\n", threshold)
	fmt.Println()

	labels, err := synth.ReadLabels(bytes.NewReader(data))
	if err != nil {
		fmt.Printf("ERROR: Failed to read labels: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded labels for %d users\n", len(labels))

	ctx := context.Background()
	startTime := time.Now()

	var summary *domain.DatasetSummary
	if *baseURL != "" {
		summary, err = analyzeRemote(ctx, *baseURL, data)
	} else {
		summary, err = analyzeLocal(ctx, data, *workers)
	}
	if err != nil {
		fmt.Printf("ERROR: analysis failed: %v\n", err)
		os.Exit(1)
	}
	duration := time.Since(startTime)

	metrics := score(summary, labels, threshold, *verbose)
	printResults(metrics, summary, duration)
}

func analyzeLocal(ctx context.Context, data []byte, workers int) (*domain.DatasetSummary, error) {
	upload, err := ingest.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	engine, err := rules.NewEngine(domain.DefaultPolicy(), nil)
	if err != nil {
		return nil, err
	}

	return batch.NewEvaluator(engine, workers).Evaluate(ctx, batch.Input{
		Events: upload.Events,
		Users:  upload.Users,
	})
}

// analyzeRemote uploads the CSV and runs a synchronous analysis.
func analyzeRemote(ctx context.Context, baseURL string, data []byte) (*domain.DatasetSummary, error) {
	client := &http.Client{Timeout: 5 * time.Minute}

	if err := checkHealth(ctx, client, baseURL); err != nil {
		return nil, fmt.Errorf("SIMGuard not reachable at %s: %w", baseURL, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "benchmark.csv")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	if err := post(ctx, client, baseURL+"/upload", mw.FormDataContentType(), &body, nil); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	var summary domain.DatasetSummary
	if err := post(ctx, client, baseURL+"/analyze", "application/json", nil, &summary); err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	return &summary, nil
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func post(ctx context.Context, client *http.Client, url, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func tierRank(t domain.AlertTier) int {
	switch t {
	case domain.TierLow:
		return 0
	case domain.TierMedium:
		return 1
	case domain.TierHigh:
		return 2
	}
	return -1
}

// score compares each evaluated user with its label. Users the analysis
// excluded count as not alerted.
func score(summary *domain.DatasetSummary, labels map[string]synth.Label, minTier domain.AlertTier, verbose bool) *Metrics {
	m := &Metrics{
		ScenarioHits:  make(map[synth.Scenario]int64),
		ScenarioTotal: make(map[synth.Scenario]int64),
	}

	predicted := make(map[string]bool, len(summary.Results))
	tiers := make(map[string]domain.Evaluation, len(summary.Results))
	for _, e := range summary.Results {
		predicted[e.UserID] = tierRank(e.Tier) >= tierRank(minTier)
		tiers[e.UserID] = e
	}
	for _, x := range summary.Excluded {
		if _, ok := labels[x.UserID]; ok {
			m.Excluded++
		}
	}

	seen := make(map[string]bool, len(labels))
	userIDs := make([]string, 0, len(labels))
	for id := range labels {
		userIDs = append(userIDs, id)
	}
	slices.Sort(userIDs)

	for _, id := range userIDs {
		label := labels[id]
		seen[id] = true
		alert := predicted[id]

		if label.Suspicious {
			m.TotalSuspicious++
			if label.Scenario != "" {
				m.ScenarioTotal[label.Scenario]++
				if alert {
					m.ScenarioHits[label.Scenario]++
				}
			}
		} else {
			m.TotalLegitimate++
		}

		switch {
		case alert && label.Suspicious:
			m.TruePositives++
		case alert && !label.Suspicious:
			m.FalsePositives++
		case !alert && !label.Suspicious:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}

		if verbose && alert != label.Suspicious {
			e := tiers[id]
			fmt.Printf("✗ %-12s | Suspicious: %-5v | Scenario: %-30s | Score: %3d %-6s | %s\n",
				id, label.Suspicious, label.Scenario, e.RiskScore, e.Tier, strings.Join(e.Reasons(), "; "))
		}
	}

	for id := range predicted {
		if !seen[id] {
			m.Unlabeled++
		}
	}

	return m
}

func printResults(m *Metrics, summary *domain.DatasetSummary, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Events:           %d\n", summary.TotalEvents)
	fmt.Printf("   Users Analyzed:   %d\n", summary.UsersAnalyzed)
	fmt.Printf("   Suspicious:       %d\n", m.TotalSuspicious)
	fmt.Printf("   Legitimate:       %d\n", m.TotalLegitimate)
	fmt.Printf("   Excluded:         %d\n", m.Excluded)
	fmt.Printf("   Unlabeled:        %d\n", m.Unlabeled)
	fmt.Printf("   Tiers:            LOW %d / MEDIUM %d / HIGH %d\n",
		summary.TierCounts.Low, summary.TierCounts.Medium, summary.TierCounts.High)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   ALERT     NO ALERT")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  S  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           L  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual swaps)\n", m.Precision())
	fmt.Printf("   Recall:     %.4f  (of swaps, how many did we catch)\n", m.Recall())
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", m.F1())
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", m.Accuracy())

	if len(m.ScenarioTotal) > 0 {
		fmt.Printf("\n🔍 RECALL BY SCENARIO\n")
		for _, sc := range synth.SwapScenarios {
			total := m.ScenarioTotal[sc]
			if total == 0 {
				continue
			}
			fmt.Printf("   %-32s %4d / %-4d (%.2f%%)\n", sc, m.ScenarioHits[sc], total,
				100*float64(m.ScenarioHits[sc])/float64(total))
		}
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if summary.UsersAnalyzed > 0 {
		fmt.Printf("   Throughput:       %.2f users/sec\n", float64(summary.UsersAnalyzed)/duration.Seconds())
	}

	fmt.Println()
}
