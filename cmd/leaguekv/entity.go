package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/router/relations"
)

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "schema-less entities and their relationship sets",
}

var entityPutCmd = &cobra.Command{
	Use:   "put <type> <id> name=value...",
	Short: "create or overwrite an entity",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[2:])
		if err != nil {
			return err
		}
		return router.Entities().Put(cmd.Context(), &relations.Entity{Type: args[0], ID: args[1], Fields: fields})
	},
}

var entityGetCmd = &cobra.Command{
	Use:   "get <type> <id>",
	Short: "print an entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := router.Entities().Read(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), fields)
	},
}

var entityUpdateCmd = &cobra.Command{
	Use:   "update <type> <id> name=value...",
	Short: "overwrite fields of an existing entity",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[2:])
		if err != nil {
			return err
		}
		ok, err := router.Entities().Update(cmd.Context(), args[0], args[1], fields)
		if err != nil {
			return err
		}
		if !ok {
			return kverror.Newf(kverror.KV_NOT_FOUND, "entity %s:%s not found", args[0], args[1])
		}
		return nil
	},
}

var entityDeleteCmd = &cobra.Command{
	Use:   "delete <type> <id>",
	Short: "delete an entity and unlink it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := router.Entities().Delete(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(ok))
		return err
	},
}

func init() {
	entityCmd.AddCommand(entityPutCmd, entityGetCmd, entityUpdateCmd, entityDeleteCmd)
}
