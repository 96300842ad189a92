package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var apiURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check if the keygate server is running",
		Long:  "Query the health endpoint of the server at client.api_url (or --api-url).",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newRemoteClient(apiURL)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			out := cmd.OutOrStdout()
			h, err := c.Health(ctx)
			if h == nil {
				fmt.Fprintf(out, "Server at %s is not responding.\n", c.BaseURL())
				return err
			}

			fmt.Fprintf(out, "Server at %s is %s\n", c.BaseURL(), h.Status)
			fmt.Fprintf(out, "  Version: %s\n", h.Version)
			names := make([]string, 0, len(h.Services))
			for name := range h.Services {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %-8s %s\n", name+":", h.Services[name])
			}
			return err
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", "", "Server base URL (default from client.api_url)")

	return cmd
}
