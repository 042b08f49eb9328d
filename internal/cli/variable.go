package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/flowserve/pkg/model"
)

func newVariableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "variable",
		Aliases: []string{"variables", "var"},
		Short:   "Manage variables",
	}
	cmd.AddCommand(newVariableGetCmd(), newVariableSetCmd(), newVariableUnsetCmd())
	return cmd
}

func newVariableGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Print the value of a variable as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := api.GetVariable(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get variable: %w", err)
			}
			if v == nil {
				return fmt.Errorf("variable %s not found", args[0])
			}
			data, err := json.Marshal(v.Value)
			if err != nil {
				return fmt.Errorf("encode value: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newVariableSetCmd() *cobra.Command {
	var overwrite bool
	var tags []string
	cmd := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Create or overwrite a variable",
		Long:  "The value is stored as JSON when it parses as JSON, otherwise as a string.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := model.ValidateVariableName(args[0]); err != nil {
				return err
			}
			v, err := api.SetVariable(cmd.Context(), args[0], model.VariableSet{
				Value:     parseValue(args[1]),
				Tags:      tags,
				Overwrite: overwrite,
			})
			if err != nil {
				return fmt.Errorf("set variable: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set variable %s\n", v.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing variable")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag to attach (repeatable)")
	return cmd
}

func newVariableUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <name>",
		Short: "Delete a variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := api.UnsetVariable(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("unset variable: %w", err)
			}
			if !deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "Variable %s did not exist\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted variable %s\n", args[0])
			return nil
		},
	}
}
