package bench

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/lib/cache"
	"github.com/ValentinKolb/dGrid/lib/common"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/node"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Benchmark the read-through path of an in-process node",
		Long:    `Start an in-process dGrid node with the given tiers and measure container hits, store loads, misses, writes and merged enumeration. The node is configured with the same flags as serve.`,
		PreRunE: processBenchConfig,
		RunE:    run,
	}
	benchConfig     common.GridConfig
	benchKeyPrefix  = "__bench"
	benchValueSize  = 1
	benchNumThreads = 10
	benchKeySpread  = 1000
	benchSkip       = make([]string, 0)
)

func init() {
	util.SetupGridFlags(BenchCmd)

	key := "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,keys)"))
	key = "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "value-size"
	BenchCmd.Flags().Int(key, 1, util.WrapString("Size of the values (in KB)"))
	key = "keys"
	BenchCmd.Flags().Int(key, 1000, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := util.GetGridConfig()
	if err != nil {
		return err
	}
	benchConfig = conf

	benchValueSize = viper.GetInt("value-size")
	benchKeySpread = viper.GetInt("keys")
	benchNumThreads = viper.GetInt("threads")
	benchSkip = strings.Split(viper.GetString("skip"), ",")
	if benchKeySpread <= 0 {
		return fmt.Errorf("keys must be positive")
	}
	return common.InitLoggers(benchConfig)
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Benchmark of the read-through path")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(benchConfig.String())
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Println()

	n, err := node.New(benchConfig)
	if err != nil {
		return err
	}
	defer n.Close()
	c := n.Cache()
	ctx := context.Background()
	value := make([]byte, benchValueSize*1024)

	results := make(map[string]testing.BenchmarkResult)
	record := func(name string, fn func(b *testing.B)) {
		if shouldSkip(name) {
			printResult(name, testing.BenchmarkResult{})
			return
		}
		results[name] = testing.Benchmark(fn)
		printResult(name, results[name])
	}

	fmt.Println("starting benchmarks...")

	record("put", func(b *testing.B) {
		getKey, iter := getKeys("put")
		b.Cleanup(func() { cleanup(ctx, c, "put", iter) })
		b.SetParallelism(benchNumThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, err := c.Put(ctx, getKey(counter), value, 0); err != nil {
					log.Printf("(put) - error writing key: %v\n", err)
				}
				counter++
			}
		})
	})

	record("get-hit", func(b *testing.B) {
		getKey, iter := getKeys("get-hit")
		seed(ctx, c, "get-hit", iter, value)
		b.Cleanup(func() { cleanup(ctx, c, "get-hit", iter) })
		b.SetParallelism(benchNumThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, _, err := c.Get(ctx, getKey(counter), 0); err != nil {
					log.Printf("(get-hit) - error reading key: %v\n", err)
				}
				counter++
			}
		})
	})

	// every read is preceded by an invalidation, so each read loads from a store
	record("get-load", func(b *testing.B) {
		getKey, iter := getKeys("get-load")
		seed(ctx, c, "get-load", iter, value)
		b.Cleanup(func() { cleanup(ctx, c, "get-load", iter) })
		b.SetParallelism(benchNumThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				if err := c.Invalidate(ctx, []string{key}, 0); err != nil {
					log.Printf("(get-load) - error invalidating key: %v\n", err)
				}
				if _, _, err := c.Get(ctx, key, 0); err != nil {
					log.Printf("(get-load) - error reading key: %v\n", err)
				}
				counter++
			}
		})
	})

	record("get-miss", func(b *testing.B) {
		b.SetParallelism(benchNumThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := fmt.Sprintf("%s-miss-%d", benchKeyPrefix, counter%benchKeySpread)
				if _, _, err := c.Get(ctx, key, 0); err != nil {
					log.Printf("(get-miss) - error reading key: %v\n", err)
				}
				counter++
			}
		})
	})

	record("keys", func(b *testing.B) {
		_, iter := getKeys("keys")
		seed(ctx, c, "keys", iter, value)
		b.Cleanup(func() { cleanup(ctx, c, "keys", iter) })
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			set, err := c.KeySet(ctx, grid.FlagRemoteIteration)
			if err != nil {
				log.Printf("(keys) - error creating key set: %v\n", err)
				continue
			}
			if _, err := set.Size(); err != nil {
				log.Printf("(keys) - error iterating keys: %v\n", err)
			}
		}
	})

	record("size", func(b *testing.B) {
		_, iter := getKeys("size")
		seed(ctx, c, "size", iter, value)
		b.Cleanup(func() { cleanup(ctx, c, "size", iter) })
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := c.Size(ctx, 0); err != nil {
				log.Printf("(size) - error counting entries: %v\n", err)
			}
		}
	})

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range benchSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// getKeys creates the test keys of a benchmark and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, benchKeySpread)
	for i := 0; i < benchKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", benchKeyPrefix, prefix, i)
	}

	getKey := func(i int) string {
		return keys[i%benchKeySpread]
	}

	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

func seed(ctx context.Context, c *cache.Cache, test string, iter func(func(string)), value []byte) {
	iter(func(k string) {
		if _, err := c.Put(ctx, k, value, 0); err != nil {
			log.Printf("(%s) - error writing key: %v\n", test, err)
		}
	})
}

func cleanup(ctx context.Context, c *cache.Cache, test string, iter func(func(string))) {
	iter(func(k string) {
		if _, err := c.Remove(ctx, k, 0); err != nil {
			log.Printf("(%s) - error removing key: %v\n", test, err)
		}
	})
}

// printResult prints the result of a benchmark in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec",
		"Tiers", "Passivation", "Threads", "ValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	tiers := make([]string, len(benchConfig.Tiers))
	for i, t := range benchConfig.Tiers {
		tiers[i] = t.Name + "=" + t.String()
	}

	for test, result := range results {
		nsPerOp := math.Max(float64(result.NsPerOp()), 1)
		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			strings.Join(tiers, ";"),
			strconv.FormatBool(benchConfig.Passivation),
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchValueSize),
			strconv.Itoa(benchKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
