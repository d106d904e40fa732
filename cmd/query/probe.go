package query

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hdlwire/cmd/util"
	"github.com/ValentinKolb/hdlwire/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	probeCmd = &cobra.Command{
		Use:     "probe",
		Short:   "Measure latency and throughput of a server",
		Long:    "Sends resolution requests from several goroutines and prints latency and response size statistics. Run it against the loopback responder (serve) to measure the transport alone.",
		PreRunE: processProbeConfig,
		RunE:    runProbe,
	}
	probeRequests   = 10000
	probeThreads    = 10
	probeBodySizeKB = 1
	probeHandle     = "0.NA/probe"
)

// percentiles reported for the latency histogram
var percentiles = []float64{0.5, 0.9, 0.99, 0.999}

func init() {
	key := "requests"
	probeCmd.Flags().Int(key, 10000, util.WrapString("Total number of requests to send"))
	key = "threads"
	probeCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines sending requests"))
	key = "body-size"
	probeCmd.Flags().Int(key, 1, util.WrapString("Size of the request body (in KB). Bodies larger than the fragment size exercise reassembly"))
	key = "handle"
	probeCmd.Flags().String(key, "0.NA/probe", util.WrapString("Handle to resolve"))
	key = "csv"
	probeCmd.Flags().String(key, "", util.WrapString("Optional path to save the results as CSV"))
}

func processProbeConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	probeRequests = viper.GetInt("requests")
	probeThreads = viper.GetInt("threads")
	probeBodySizeKB = viper.GetInt("body-size")
	probeHandle = viper.GetString("handle")

	if probeRequests < 1 || probeThreads < 1 || probeBodySizeKB < 0 {
		return fmt.Errorf("requests and threads must be positive, body size must not be negative")
	}
	return nil
}

// probeResult collects the measurements of one probe run
type probeResult struct {
	registry gometrics.Registry
	latency  gometrics.Histogram // microseconds
	sizes    gometrics.Histogram // response body bytes
	failures gometrics.Counter
	meter    gometrics.Meter
	elapsed  time.Duration
}

func newProbeResult() *probeResult {
	r := gometrics.NewRegistry()
	return &probeResult{
		registry: r,
		latency:  gometrics.GetOrRegisterHistogram("latency", r, gometrics.NewUniformSample(100_000)),
		sizes:    gometrics.GetOrRegisterHistogram("response-size", r, gometrics.NewUniformSample(100_000)),
		failures: gometrics.GetOrRegisterCounter("failures", r),
		meter:    gometrics.GetOrRegisterMeter("requests", r),
	}
}

func runProbe(_ *cobra.Command, _ []string) error {
	fmt.Println("Probing server")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d, Requests: %d, Body: %d KB\n", probeThreads, probeRequests, probeBodySizeKB)
	fmt.Println()

	result := newProbeResult()
	defer result.meter.Stop()

	body := make([]byte, probeBodySizeKB*1024)
	var remaining atomic.Int64
	remaining.Store(int64(probeRequests))

	// only the first error is printed, later ones are counted
	var firstErr error
	var firstErrOnce sync.Once

	start := time.Now()
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < probeThreads; i++ {
		g.Go(func() error {
			for remaining.Add(-1) >= 0 {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				t := time.Now()
				resp, err := rpcClient.Resolve(ctx, probeHandle, body)
				if err != nil {
					result.failures.Inc(1)
					firstErrOnce.Do(func() { firstErr = err })
					continue
				}
				result.latency.Update(time.Since(t).Microseconds())
				result.sizes.Update(int64(len(resp)))
				result.meter.Mark(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	result.elapsed = time.Since(start)

	if firstErr != nil {
		fmt.Printf("First error: %v\n\n", firstErr)
	}
	printProbeResult(result)

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultToCSV(csvPath, result, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	if result.failures.Count() == int64(probeRequests) {
		return fmt.Errorf("all %d requests failed", probeRequests)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func opsPerSec(r *probeResult) float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.latency.Count()) / r.elapsed.Seconds()
}

// printProbeResult prints the result of a probe run in a formatted way
func printProbeResult(r *probeResult) {
	lat := r.latency.Snapshot()
	ps := lat.Percentiles(percentiles)

	fmt.Printf("%-20s%d ok, %d failed in %s\n", "requests", lat.Count(), r.failures.Count(), r.elapsed.Round(time.Millisecond))
	fmt.Printf("%-20s%.0f ops/sec\n", "throughput", opsPerSec(r))
	fmt.Printf("%-20smin %s  mean %s  max %s\n", "latency",
		us(float64(lat.Min())), us(lat.Mean()), us(float64(lat.Max())))
	for i, p := range percentiles {
		fmt.Printf("%-20s%s\n", fmt.Sprintf("  p%g", p*100), us(ps[i]))
	}

	sizes := r.sizes.Snapshot()
	fmt.Printf("%-20smin %d B  mean %.0f B  max %d B\n", "response size", sizes.Min(), sizes.Mean(), sizes.Max())
}

// us formats a microsecond value as a duration
func us(v float64) time.Duration {
	return time.Duration(v * float64(time.Microsecond))
}

// writeResultToCSV writes the probe result to a CSV file
func writeResultToCSV(csvPath string, r *probeResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Requests", "Failures", "ElapsedMs", "OpsPerSec",
		"LatencyMeanUs", "LatencyP50Us", "LatencyP99Us", "LatencyMaxUs",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"Serializer", "Transport", "Threads", "BodySizeKB", "MaxFragmentSize",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	lat := r.latency.Snapshot()
	ps := lat.Percentiles([]float64{0.5, 0.99})
	row := []string{
		strconv.FormatInt(lat.Count(), 10),
		strconv.FormatInt(r.failures.Count(), 10),
		strconv.FormatInt(r.elapsed.Milliseconds(), 10),
		fmt.Sprintf("%.0f", opsPerSec(r)),
		fmt.Sprintf("%.0f", lat.Mean()),
		fmt.Sprintf("%.0f", ps[0]),
		fmt.Sprintf("%.0f", ps[1]),
		strconv.FormatInt(lat.Max(), 10),
		strings.Join(config.Transport.Endpoints, ";"),
		strconv.Itoa(config.TimeoutSecond),
		strconv.Itoa(config.Transport.RetryCount),
		strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
		viper.GetString("serializer"),
		viper.GetString("transport"),
		strconv.Itoa(probeThreads),
		strconv.Itoa(probeBodySizeKB),
		strconv.FormatUint(uint64(config.Pipeline.MaxFragmentSize), 10),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %v", err)
	}

	return nil
}
