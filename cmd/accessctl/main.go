/**
 * @description
 * accessctl is the operator CLI for the access service. It drives the admin
 * HTTP endpoints: triggering backfill sync runs and maintaining the product
 * catalog mapping.
 *
 * @dependencies
 * - github.com/spf13/cobra: command-line interface framework.
 */
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	internalKey string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "accessctl",
		Short: "Operator CLI for the access service",
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("ACCESS_SERVICE_URL", "http://localhost:8090"), "base URL of the access service")
	rootCmd.PersistentFlags().StringVar(&internalKey, "internal-key", os.Getenv("INTERNAL_API_KEY"), "internal API key for admin endpoints")

	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newMapProductCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSyncCmd() *cobra.Command {
	var (
		dryRun         bool
		updateExisting bool
		limit          int
		windowDays     int
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a backfill sync over historical checkout sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"dry_run":         dryRun,
				"update_existing": updateExisting,
				"limit":           limit,
			}
			if windowDays > 0 {
				body["created_since"] = time.Now().AddDate(0, 0, -windowDays).Unix()
			}

			var report struct {
				DryRun   bool `json:"dry_run"`
				Outcomes []struct {
					SessionID string `json:"session_id"`
					Status    string `json:"status"`
					Detail    string `json:"detail"`
				} `json:"outcomes"`
			}
			if err := postJSON("/v1/admin/sync", body, &report); err != nil {
				return err
			}

			counts := map[string]int{}
			for _, o := range report.Outcomes {
				counts[o.Status]++
				line := fmt.Sprintf("%-8s %s", o.Status, o.SessionID)
				if o.Detail != "" {
					line += "  " + o.Detail
				}
				fmt.Println(line)
			}
			fmt.Printf("\nexamined=%d linked=%d created=%d updated=%d skipped=%d errors=%d dry_run=%t\n",
				len(report.Outcomes), counts["LINKED"], counts["CREATE"], counts["UPDATE"], counts["SKIP"], counts["ERROR"], report.DryRun)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would happen without writing")
	cmd.Flags().BoolVar(&updateExisting, "update-existing", false, "re-reconcile sessions already linked to a purchase")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the number of sessions examined (0 = no cap)")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "only examine sessions created in the last N days (0 = all)")
	return cmd
}

func newMapProductCmd() *cobra.Command {
	var (
		externalID string
		internalID int
	)
	cmd := &cobra.Command{
		Use:   "map-product",
		Short: "Map an external product id to an internal one and migrate purchases",
		RunE: func(cmd *cobra.Command, args []string) error {
			if externalID == "" || internalID <= 0 {
				return fmt.Errorf("--external and a positive --internal are required")
			}
			var result struct {
				MigratedPurchases int `json:"migrated_purchases"`
			}
			body := map[string]interface{}{
				"external_product_id": externalID,
				"internal_product_id": internalID,
			}
			if err := putJSON("/v1/admin/catalog/mappings", body, &result); err != nil {
				return err
			}
			fmt.Printf("mapped %s -> %d, migrated %d purchase(s)\n", externalID, internalID, result.MigratedPurchases)
			return nil
		},
	}
	cmd.Flags().StringVar(&externalID, "external", "", "external product id")
	cmd.Flags().IntVar(&internalID, "internal", 0, "internal product id")
	return cmd
}

func postJSON(path string, body, out interface{}) error {
	return doJSON(http.MethodPost, path, body, out)
}

func putJSON(path string, body, out interface{}) error {
	return doJSON(http.MethodPut, path, body, out)
}

func doJSON(method, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, serverURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-API-Key", internalKey)

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}
	return json.Unmarshal(data, out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
