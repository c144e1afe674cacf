package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"

	"github.com/loganszeto/respkv/internal/config"
	"github.com/loganszeto/respkv/internal/protocol"
)

type benchConfig struct {
	addr      string
	clients   int
	ops       int
	ratioGet  float64
	valueSize int
	keySpace  int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var bc benchConfig
	cmd := &cobra.Command{
		Use:          "kv-bench",
		Short:        "Drive concurrent GET/SET load against a kv-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bc.clients <= 0 || bc.ops <= 0 || bc.keySpace <= 0 {
				return fmt.Errorf("clients, ops and keys must be > 0")
			}
			if bc.ratioGet < 0 || bc.ratioGet > 1 {
				return fmt.Errorf("ratio-get must be within [0, 1]")
			}
			return bench(bc)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&bc.addr, config.KeyAddr, config.Default().Addr, "server address")
	flags.IntVar(&bc.clients, "clients", 10, "number of concurrent connections")
	flags.IntVar(&bc.ops, "ops", 10000, "total operations")
	flags.Float64Var(&bc.ratioGet, "ratio-get", 0.8, "fraction of operations that are GETs")
	flags.IntVar(&bc.valueSize, "value-size", 128, "value size in bytes")
	flags.IntVar(&bc.keySpace, "keys", 1000, "number of distinct keys")
	return cmd
}

func bench(bc benchConfig) error {
	registry := gometrics.NewRegistry()
	latency := gometrics.GetOrRegisterHistogram("latency", registry, gometrics.NewUniformSample(bc.ops))
	throughput := gometrics.GetOrRegisterMeter("ops", registry)
	failures := gometrics.GetOrRegisterCounter("errors", registry)
	defer throughput.Stop()

	value := strings.Repeat("x", bc.valueSize)
	keys := make([]string, bc.keySpace)
	for i := range keys {
		keys[i] = fmt.Sprintf("key:%d", i)
	}

	var issued atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < bc.clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", bc.addr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "client %d: %v\n", id, err)
				failures.Inc(1)
				return
			}
			defer conn.Close()
			rd := protocol.NewReader(bufio.NewReader(conn))
			w := bufio.NewWriter(conn)
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

			for issued.Add(1) <= int64(bc.ops) {
				key := keys[rng.Intn(len(keys))]
				req := protocol.Command("SET", key, value)
				if rng.Float64() < bc.ratioGet {
					req = protocol.Command("GET", key)
				}
				began := time.Now()
				if err := protocol.WriteValue(w, req); err != nil {
					failures.Inc(1)
					return
				}
				if err := w.Flush(); err != nil {
					failures.Inc(1)
					return
				}
				reply, err := rd.ReadValue()
				if err != nil {
					failures.Inc(1)
					return
				}
				if reply.IsError() {
					failures.Inc(1)
					continue
				}
				latency.Update(int64(time.Since(began)))
				throughput.Mark(1)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	done := throughput.Count()
	fmt.Printf("Total ops: %d\n", done)
	fmt.Printf("Errors: %d\n", failures.Count())
	fmt.Printf("Elapsed: %s\n", elapsed)
	fmt.Printf("Ops/sec: %.2f\n", float64(done)/elapsed.Seconds())
	if latency.Count() == 0 {
		fmt.Println("No latency samples")
		return nil
	}
	ps := latency.Percentiles([]float64{0.50, 0.95, 0.99})
	fmt.Printf("p50: %s\n", time.Duration(ps[0]))
	fmt.Printf("p95: %s\n", time.Duration(ps[1]))
	fmt.Printf("p99: %s\n", time.Duration(ps[2]))
	return nil
}
