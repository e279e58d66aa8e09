package statistics

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/caio/go-tdigest"
	"go.uber.org/atomic"
)

// ShardCounters are the call and error totals of one shard handle.
type ShardCounters struct {
	Calls  atomic.Int64
	Errors atomic.Int64
}

type statistics struct {
	mu sync.RWMutex

	ShardTime map[string]*tdigest.TDigest
	Counters  map[string]*ShardCounters
	Quantiles []float64

	NeedToCollectData bool
}

var queryStatistics = statistics{
	ShardTime: make(map[string]*tdigest.TDigest),
	Counters:  make(map[string]*ShardCounters),
}

// InitStatistics sets the reported quantiles. Latency digests are only
// collected when at least one quantile is configured.
func InitStatistics(q []float64) {
	queryStatistics.mu.Lock()
	defer queryStatistics.mu.Unlock()

	queryStatistics.Quantiles = q
	queryStatistics.NeedToCollectData = len(q) > 0
}

func InitStatisticsStr(q []string) error {
	qs := make([]float64, len(q))
	for i, qStr := range q {
		var err error
		qs[i], err = strconv.ParseFloat(qStr, 64)
		if err != nil {
			return fmt.Errorf("could not parse time quantile to float: \"%s\"", qStr)
		}
	}
	InitStatistics(qs)
	return nil
}

func GetQuantiles() []float64 {
	queryStatistics.mu.RLock()
	defer queryStatistics.mu.RUnlock()

	return append([]float64(nil), queryStatistics.Quantiles...)
}

func counters(shard string) *ShardCounters {
	queryStatistics.mu.RLock()
	c, ok := queryStatistics.Counters[shard]
	queryStatistics.mu.RUnlock()
	if ok {
		return c
	}

	queryStatistics.mu.Lock()
	defer queryStatistics.mu.Unlock()
	if c, ok = queryStatistics.Counters[shard]; !ok {
		c = &ShardCounters{}
		queryStatistics.Counters[shard] = c
	}
	return c
}

// RecordShardCall accounts one store call against shard. Latency is kept in
// milliseconds.
func RecordShardCall(shard string, start time.Time, finish time.Time, err error) {
	c := counters(shard)
	c.Calls.Inc()
	if err != nil {
		c.Errors.Inc()
	}

	queryStatistics.mu.Lock()
	defer queryStatistics.mu.Unlock()
	if !queryStatistics.NeedToCollectData {
		return
	}
	td, ok := queryStatistics.ShardTime[shard]
	if !ok {
		td, _ = tdigest.New()
		queryStatistics.ShardTime[shard] = td
	}
	_ = td.Add(float64(finish.Sub(start).Microseconds()) / 1000)
}

// GetShardTimeQuantile returns the q-quantile of call latency on shard, or 0
// when nothing was recorded.
func GetShardTimeQuantile(shard string, q float64) float64 {
	queryStatistics.mu.RLock()
	defer queryStatistics.mu.RUnlock()

	td, ok := queryStatistics.ShardTime[shard]
	if !ok || td.Count() == 0 {
		return 0
	}
	return td.Quantile(q)
}

func GetShardCounters(shard string) (calls int64, errors int64) {
	c := counters(shard)
	return c.Calls.Load(), c.Errors.Load()
}

// RecordedShards lists shards with at least one recorded call, sorted.
func RecordedShards() []string {
	queryStatistics.mu.RLock()
	defer queryStatistics.mu.RUnlock()

	ret := make([]string, 0, len(queryStatistics.Counters))
	for name := range queryStatistics.Counters {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Reset drops everything recorded so far. Quantiles are kept.
func Reset() {
	queryStatistics.mu.Lock()
	queryStatistics.ShardTime = make(map[string]*tdigest.TDigest)
	queryStatistics.Counters = make(map[string]*ShardCounters)
	queryStatistics.mu.Unlock()

	resetMoveStats()
}
