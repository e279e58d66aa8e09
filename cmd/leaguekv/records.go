package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/pkg/models/topology"
)

var zone int

// parseFields turns name=value arguments into a field map.
func parseFields(args []string) (map[string]string, error) {
	ret := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, kverror.Newf(kverror.KV_VALIDATION_ERROR, "expected name=value, got %q", a)
		}
		ret[k] = v
	}
	return ret, nil
}

func parseZone(z int) (topology.Zone, error) {
	if !topology.Zone(z).Valid() {
		return 0, kverror.Newf(kverror.KV_VALIDATION_ERROR, "zone must be 1 or 2, got %d", z)
	}
	return topology.Zone(z), nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

var createCmd = &cobra.Command{
	Use:   "create <category> name=value...",
	Short: "create a record, print its id and shard",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[1:])
		if err != nil {
			return err
		}
		loc, err := router.Engine().Create(cmd.Context(), args[0], fields)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", loc.ID, loc.Shard)
		return err
	},
}

var getCmd = &cobra.Command{
	Use:   "get <category> <id>",
	Short: "print a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := router.Engine().Get(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec.Fields)
	},
}

var listCmd = &cobra.Command{
	Use:   "list <category> --zone 1|2",
	Short: "print every record of a category in one zone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		z, err := parseZone(zone)
		if err != nil {
			return err
		}
		n := 0
		for rec, err := range router.Engine().List(cmd.Context(), args[0], z) {
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), rec.Fields); err != nil {
				return err
			}
			n++
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d records\n", n)
		return err
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <category> <id> name=value...",
	Short: "overwrite a record, print its id which changes when the record moves",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[2:])
		if err != nil {
			return err
		}
		id, err := router.Engine().Update(cmd.Context(), args[0], args[1], fields)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
		return err
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <category> <id>",
	Short: "delete a record with its mirrors",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := router.Engine().Delete(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(ok))
		return err
	},
}

var existsCmd = &cobra.Command{
	Use:   "exists <category> <value> --zone 1|2",
	Short: "check whether a unique value is taken in a zone",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		z, err := parseZone(zone)
		if err != nil {
			return err
		}
		ok, err := router.Engine().ValueExists(cmd.Context(), args[0], z, args[1])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(ok))
		return err
	},
}

func init() {
	for _, cmd := range []*cobra.Command{listCmd, existsCmd} {
		cmd.Flags().IntVarP(&zone, "zone", "z", 1, "zone to look in")
	}
}
