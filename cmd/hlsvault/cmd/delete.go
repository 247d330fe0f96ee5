package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <video-id>",
	Short: "Delete a video on a running server",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().String("server", "http://localhost:8080", "server base URL")
}

func runDelete(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	videoID := args[0]

	req, err := http.NewRequest(http.MethodDelete, server+"/api/videos/"+videoID, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deleting %s: status %d", videoID, resp.StatusCode)
	}

	fmt.Printf("deleted %s\n", videoID)
	return nil
}
