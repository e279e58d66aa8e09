package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leaguekv/leaguekv/router/statistics"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "check every configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := router.Ping(cmd.Context())
		for _, r := range res {
			status := "ok"
			if r.Err != nil {
				status = r.Err.Error()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-12s %s\n", r.Name, r.RTT, status)
		}
		return err
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "ping every store and print call statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := router.Ping(cmd.Context()); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		quantiles := statistics.GetQuantiles()

		header := []string{"shard", "calls", "errors"}
		for _, q := range quantiles {
			header = append(header, fmt.Sprintf("p%g", q*100))
		}
		fmt.Fprintln(w, strings.Join(header, "\t"))
		for _, shard := range statistics.RecordedShards() {
			calls, errs := statistics.GetShardCounters(shard)
			row := []string{shard, fmt.Sprint(calls), fmt.Sprint(errs)}
			for _, q := range quantiles {
				row = append(row, fmt.Sprintf("%.2fms", statistics.GetShardTimeQuantile(shard, q)))
			}
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}

		ms := statistics.GetMoveStats()
		_, err := fmt.Fprintf(w, "moves: total %d, resumed %d, in progress %d, avg %s (shard %s, journal %s)\n",
			ms.TotalMoves, ms.ResumedMoves, ms.InProgress, ms.TotalTime, ms.ShardTime, ms.QDBTime)
		return err
	},
}

var movesCmd = &cobra.Command{
	Use:   "moves",
	Short: "inspect and finish interrupted record moves",
}

var movesListCmd = &cobra.Command{
	Use:   "list",
	Short: "print the moves left in the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		moves, err := router.Engine().ListMoves(cmd.Context())
		if err != nil {
			return err
		}
		for _, m := range moves {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s %s\n", m.MoveId, m.SourceId, m.TargetId, m.Status)
		}
		return nil
	},
}

var movesResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "finish every move left in the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		done, err := router.Recover(cmd.Context())
		for _, id := range done {
			fmt.Fprintf(cmd.OutOrStdout(), "finished %s\n", id)
		}
		return err
	},
}

func init() {
	movesCmd.AddCommand(movesListCmd, movesResumeCmd)
}
