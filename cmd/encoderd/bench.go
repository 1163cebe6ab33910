package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/encoderhq/encoderd/internal/backend"
	"github.com/encoderhq/encoderd/internal/pipeline"
	"github.com/encoderhq/encoderd/internal/preprocess"
	"github.com/encoderhq/encoderd/internal/types"
)

var (
	benchItems      int
	benchBatchSize  int
	benchPoolSize   int
	benchDimensions int
	benchRequest    int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark the batch pipeline with synthetic items",
	Long: "Run synthetic text items through the local backend pipeline and report " +
		"throughput. Useful for sizing batch_size and pool_size on a target machine.",
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchItems, "items", 4096, "Total number of synthetic items")
	benchCmd.Flags().IntVar(&benchBatchSize, "batch-size", 64, "Inference batch size")
	benchCmd.Flags().IntVar(&benchPoolSize, "pool-size", 4, "Preprocessing pool size")
	benchCmd.Flags().IntVar(&benchDimensions, "dimensions", 256, "Embedding dimensions")
	benchCmd.Flags().IntVar(&benchRequest, "request-size", 256, "Items per request")

	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	be, err := backend.NewLocal(benchDimensions)
	if err != nil {
		return err
	}

	pool := preprocess.NewPool(benchPoolSize)
	defer pool.Close()

	engine, err := pipeline.NewEngine(pool, be, benchBatchSize)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "benchmarking %d items (batch=%d pool=%d dims=%d request=%d)\n",
		benchItems, benchBatchSize, benchPoolSize, benchDimensions, benchRequest)

	bar := progressbar.NewOptions(benchItems,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("embedding"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
	)

	rng := rand.New(rand.NewSource(42))
	start := time.Now()
	done := 0
	for done < benchItems {
		n := benchRequest
		if remaining := benchItems - done; remaining < n {
			n = remaining
		}
		items := syntheticItems(rng, n)

		results, err := engine.Embed(context.Background(), items)
		if err != nil {
			return fmt.Errorf("bench request failed after %d items: %w", done, err)
		}
		for _, res := range results {
			if res.Failed() {
				return fmt.Errorf("item %d failed: %w", done+res.Index, res.Err)
			}
		}

		done += n
		bar.Add(n)
	}
	bar.Finish()

	elapsed := time.Since(start)
	fmt.Fprintf(out, "\n%d items in %s (%.0f items/sec)\n",
		benchItems, elapsed.Round(time.Millisecond),
		float64(benchItems)/elapsed.Seconds())
	return nil
}

// syntheticItems generates short pseudo-random sentences. Varying the word
// mix keeps the cache-free path honest: every item digests differently.
func syntheticItems(rng *rand.Rand, n int) []types.Item {
	words := []string{
		"photo", "cat", "dog", "river", "mountain", "city", "night",
		"red", "blue", "running", "sleeping", "vintage", "aerial",
	}
	items := make([]types.Item, n)
	for i := range items {
		text := ""
		for w := 0; w < 6; w++ {
			if w > 0 {
				text += " "
			}
			text += words[rng.Intn(len(words))]
		}
		items[i] = types.Item{Index: i, Text: text + fmt.Sprintf(" %d", rng.Int())}
	}
	return items
}
