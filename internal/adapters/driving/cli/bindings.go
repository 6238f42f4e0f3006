package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

var (
	bindingBusiness string
	bindingDatabase string
	bindingConfig   string
)

var bindingCmd = &cobra.Command{
	Use:     "binding",
	Aliases: []string{"bindings"},
	Short:   "Manage agent database bindings",
	Long:    `Bindings grant an agent access to a business database. An agent only
sees the databases it is bound to.`,
}

var bindingCreateCmd = &cobra.Command{
	Use:   "create [agent-id]",
	Short: "Bind an agent to a database",
	Args:  cobra.ExactArgs(1),
	RunE:  runBindingCreate,
}

var bindingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the bindings of a database",
	Args:  cobra.NoArgs,
	RunE:  runBindingList,
}

var bindingDeleteCmd = &cobra.Command{
	Use:   "delete [binding-id]",
	Short: "Remove a binding",
	Args:  cobra.ExactArgs(1),
	RunE:  runBindingDelete,
}

func init() {
	bindingCreateCmd.Flags().StringVarP(&bindingBusiness, "business", "b", "", "business id")
	bindingCreateCmd.Flags().StringVarP(&bindingDatabase, "database", "d", "", "database id")
	bindingCreateCmd.Flags().StringVar(&bindingConfig, "agent-config", "", "binding configuration as JSON")
	_ = bindingCreateCmd.MarkFlagRequired("business")
	_ = bindingCreateCmd.MarkFlagRequired("database")
	bindingListCmd.Flags().StringVarP(&bindingDatabase, "database", "d", "", "database id")
	_ = bindingListCmd.MarkFlagRequired("database")

	bindingCmd.AddCommand(bindingCreateCmd)
	bindingCmd.AddCommand(bindingListCmd)
	bindingCmd.AddCommand(bindingDeleteCmd)
	rootCmd.AddCommand(bindingCmd)
}

func runBindingCreate(cmd *cobra.Command, args []string) error {
	b := &domain.Binding{
		AgentID:    args[0],
		BusinessID: bindingBusiness,
		DatabaseID: bindingDatabase,
	}
	if bindingConfig != "" {
		if !json.Valid([]byte(bindingConfig)) {
			return fmt.Errorf("%w: --agent-config is not valid JSON", domain.ErrInvalidInput)
		}
		b.Config = json.RawMessage(bindingConfig)
	}

	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	created, err := a.Bindings.Create(cmd.Context(), b)
	if err != nil {
		return fmt.Errorf("failed to create binding: %w", err)
	}
	cmd.Printf("Bound agent %s to database %s (%s)\n", created.AgentID, created.DatabaseID, created.ID)
	return nil
}

func runBindingList(cmd *cobra.Command, _ []string) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	bindings, err := a.Bindings.List(cmd.Context(), bindingDatabase)
	if err != nil {
		return fmt.Errorf("failed to list bindings: %w", err)
	}
	if len(bindings) == 0 {
		cmd.Println("No bindings found.")
		return nil
	}
	cmd.Println(headerStyle.Render("Bindings"))
	for i := range bindings {
		state := successStyle.Render("active")
		if !bindings[i].Active {
			state = mutedStyle.Render("inactive")
		}
		cmd.Printf("  %s  agent %s  %s\n", bindings[i].ID, bindings[i].AgentID, state)
	}
	return nil
}

func runBindingDelete(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	if err := a.Bindings.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete binding: %w", err)
	}
	cmd.Printf("Deleted binding %s\n", args[0])
	return nil
}
