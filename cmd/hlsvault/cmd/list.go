package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hlsvault/hlsvault/internal/models"
	"github.com/hlsvault/hlsvault/pkg/bytesize"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List videos on a running server",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().String("server", "http://localhost:8080", "server base URL")
	listCmd.Flags().Int("limit", 50, "maximum rows to fetch")
}

func runList(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	limit, _ := cmd.Flags().GetInt("limit")

	resp, err := http.Get(fmt.Sprintf("%s/api/videos?limit=%d", server, limit))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing videos: status %d", resp.StatusCode)
	}

	var out struct {
		Items []*models.Video `json:"items"`
		Total int64           `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tDURATION\tSEGMENTS\tSIZE")
	for _, v := range out.Items {
		fmt.Fprintf(w, "%s\t%s\t%.0fs\t%d\t%s\n",
			v.ID, v.Status, v.Duration, v.TotalSegments, bytesize.Format(bytesize.Size(v.ByteSize)))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d videos\n", len(out.Items), out.Total)
	return nil
}
