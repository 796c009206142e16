package value

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/eliquinox/simple-rsm/cmd/util"
	"github.com/eliquinox/simple-rsm/lib/rsm/client"
	"github.com/eliquinox/simple-rsm/rpc/common"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Latency benchmark of the replicated value",
		Long:    "Runs serial GET and SET benchmarks against the cluster. Requests are issued one at a time, every result is the round trip of a command through the replicated log.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfSkip        = make([]string, 0)
	perfShowMetrics = false
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics"
	perfTestCmd.Flags().Bool(key, false, util.WrapString("Print all client metrics after the benchmark"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	perfShowMetrics = viper.GetBool("metrics")
	return nil
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Latency benchmark of the replicated value")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	config := util.GetClientConfig()
	fmt.Println(config.String())
	fmt.Println()

	fmt.Println("staring tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	getResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("get") {
			return
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := rsmClient.GetValue(); err != nil {
				log.Printf("(get) - error reading value: %v\n", err)
			}
		}
	})

	results["get"] = getResult
	printResult("get", getResult)

	var previous int64
	setResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("set") {
			return
		}

		// restore the value
		var err error
		if previous, err = rsmClient.GetValue(); err != nil {
			b.Fatalf("(set) - error reading value: %v", err)
		}
		b.Cleanup(func() {
			if _, err := rsmClient.SetValue(previous); err != nil {
				log.Printf("(set) - error restoring value: %v\n", err)
			}
		})

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := rsmClient.SetValue(int64(i)); err != nil {
				log.Printf("(set) - error setting value: %v\n", err)
			}
		}
	})

	results["set"] = setResult
	printResult("set", setResult)

	fmt.Println()
	printStats(rsmClient.Stats())

	if perfShowMetrics {
		fmt.Println()
		metrics.WriteOnce(rsmClient.Registry(), os.Stdout)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// printStats prints the request metrics of the client
func printStats(stats client.Stats) {
	fmt.Printf("%-20s%d\n", "requests", stats.Requests)
	fmt.Printf("%-20s%d\n", "retries", stats.Retries)
	fmt.Printf("%-20s%d\n", "timeouts", stats.Timeouts)
	fmt.Printf("%-20s%d\n", "back pressured", stats.BackPressured)
	fmt.Printf("%-20smean=%s p50=%s p99=%s max=%s\n", "latency", stats.Mean, stats.P50, stats.P99, stats.Max)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Hosts", "BasePort", "TimeoutSec", "RetryCount",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Hostnames, ";"),
			strconv.Itoa(config.BasePort),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
