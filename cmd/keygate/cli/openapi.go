package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toolboxhq/keygate/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		outputFile string
		baseURL    string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate OpenAPI specification",
		Long:  `Generate the OpenAPI 3 document describing the keygate HTTP API. The same document is served at /openapi.json.`,
		Example: `  keygate openapi
  keygate openapi -o openapi.json --base-url https://licenses.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				baseURL = viper.GetString("server.base_url")
			}
			doc := openapi.Generate(versionString(), baseURL)
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal openapi: %w", err)
			}
			data = append(data, '\n')

			if outputFile == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outputFile, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outputFile, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "OpenAPI spec written to %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to advertise (default from server.base_url)")

	return cmd
}
