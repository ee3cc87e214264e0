package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

func newBenchCmd() *cobra.Command {
	var (
		addr        string
		path        string
		method      string
		concurrency int
		duration    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a minimal load generator against a running phpedge instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd, addr+path, method, concurrency, duration)
		},
	}
	cmd.Flags().StringVar(&addr, "address", "http://127.0.0.1:8080", "base address of the running instance")
	cmd.Flags().StringVar(&path, "path", "/", "request path")
	cmd.Flags().StringVar(&method, "method", fasthttp.MethodGet, "HTTP method")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "number of concurrent workers")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to run")
	return cmd
}

// runBench fans out concurrency fasthttp.Client workers hammering url for
// duration, grounded on original_source/src/cli/bench.rs's worker-pool
// load generator and on the teacher's httptool send-loop shape.
func runBench(cmd *cobra.Command, url, method string, concurrency int, duration time.Duration) error {
	var (
		total, errs int64
		wg          sync.WaitGroup
	)

	deadline := time.Now().Add(duration)
	client := &fasthttp.Client{}

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				req := fasthttp.AcquireRequest()
				resp := fasthttp.AcquireResponse()
				req.Header.SetMethod(method)
				req.SetRequestURI(url)

				if err := client.Do(req, resp); err != nil {
					atomic.AddInt64(&errs, 1)
				} else {
					atomic.AddInt64(&total, 1)
					if resp.StatusCode() >= 500 {
						atomic.AddInt64(&errs, 1)
					}
				}

				fasthttp.ReleaseRequest(req)
				fasthttp.ReleaseResponse(resp)
			}
		}()
	}

	wg.Wait()

	elapsed := duration.Seconds()
	rps := float64(total) / elapsed
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "requests: %d  errors: %d  rps: %.1f\n", total, errs, rps)
	if errs > 0 {
		color.New(color.FgYellow).Fprintf(out, "%d requests failed or returned 5xx\n", errs)
	}
	return nil
}
