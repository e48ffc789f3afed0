package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var contactsShowHandles bool

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Validate and list the contact directory",
	Long: `Load the contact directory from the config and environment, validate
every handle, and list the aliases. Handles are only printed with --handles
since they are exactly what the guard exists to keep private.`,
	Example: `  imsgguard contacts -c guard.yaml
  IMSG_CONTACTS_FILE=contacts.json imsgguard contacts --handles`,
	Args: cobra.NoArgs,
	RunE: runContacts,
}

func init() {
	contactsCmd.Flags().BoolVar(&contactsShowHandles, "handles", false, "also print the normalized handles")
	rootCmd.AddCommand(contactsCmd)
}

func runContacts(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(false)
	if err != nil {
		return err
	}

	if contactsShowHandles {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, e := range rt.dir.Entries() {
			fmt.Fprintf(w, "%s\t%s\n", e.Alias, e.Handle)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	} else {
		for _, alias := range rt.dir.Aliases() {
			fmt.Println(alias)
		}
	}

	fmt.Fprintf(os.Stderr, "%d contacts OK\n", rt.dir.Len())
	return nil
}
