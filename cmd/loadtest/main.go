// Package main — cmd/loadtest/main.go
//
// Operator-socket round-trip latency measurement tool.
//
// Grounded on the teacher's bench/cmd/latency tool: both measure
// wall-clock round-trip time over many iterations and report a
// histogram-derived p50/p95/p99, writing one CSV row per iteration. The
// teacher measured a BPF LSM hook's containment latency over a raw
// connect(2); this domain has no kernel hook to measure, so the
// equivalent signal is the operator inspection socket's (internal/sim's
// OpServer) round-trip time for a "status" command against a running
// supervisor — useful for judging whether opSocketMaxConns or the
// connection timeout need retuning under concurrent operator tooling.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"
)

func main() {
	socketPath := flag.String("socket", "/tmp/chairlift_operator.sock", "Operator socket path")
	iterations := flag.Int("iterations", 1000, "Number of status round trips to measure")
	outputFile := flag.String("output", "opsocket_latency.csv", "Output CSV file path")
	flag.Parse()

	// Lock to OS thread to minimise scheduling jitter, matching the
	// teacher's rationale for its own latency tool.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_us", "ok"})

	const histBuckets = 100001 // 0-100000µs
	var (
		totalFailed int
		hist        = make([]int, histBuckets)
	)

	for i := 0; i < *iterations; i++ {
		start := time.Now()
		ok := roundTrip(*socketPath)
		latency := time.Since(start)

		if !ok {
			totalFailed++
		}

		latencyUs := int(latency.Microseconds())
		if latencyUs >= 0 && latencyUs < len(hist) {
			hist[latencyUs]++
		}

		_ = w.Write([]string{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("%d", latencyUs),
			fmt.Sprintf("%t", ok),
		})
	}

	p50, p95, p99 := computePercentiles(hist, *iterations)

	fmt.Printf("Operator Socket Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  Failed round trips: %d/%d (%.1f%%)\n", totalFailed, *iterations,
		float64(totalFailed)/float64(*iterations)*100)
	fmt.Printf("  p50: %dµs\n", p50)
	fmt.Printf("  p95: %dµs\n", p95)
	fmt.Printf("  p99: %dµs\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	if totalFailed == *iterations {
		fmt.Fprintln(os.Stderr, "FAIL: every round trip failed, is the supervisor running?")
		os.Exit(1)
	}
}

// roundTrip sends one "status" command and reports whether it got back
// a well-formed, ok response.
func roundTrip(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(time.Second))

	req, _ := json.Marshal(map[string]string{"cmd": "status"})
	if _, err := conn.Write(req); err != nil {
		return false
	}

	var resp struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return false
	}
	return resp.OK
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
