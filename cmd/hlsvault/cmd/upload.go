package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hlsvault/hlsvault/internal/coordinator"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a video to a running server",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().String("server", "http://localhost:8080", "server base URL")
	uploadCmd.Flags().Bool("wait", false, "poll progress until the ingest finishes")
}

func runUpload(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	wait, _ := cmd.Flags().GetBool("wait")
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Stream the file through a pipe so large inputs never buffer in
	// memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	resp, err := http.Post(server+"/api/upload", mw.FormDataContentType(), pr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("upload rejected (%d): %s", resp.StatusCode, body)
	}

	var accepted struct {
		JobID   string `json:"job_id"`
		VideoID string `json:"video_id"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		return err
	}
	fmt.Printf("accepted: video %s, job %s\n", accepted.VideoID, accepted.JobID)

	if !wait {
		return nil
	}
	return pollProgress(server, accepted.JobID)
}

func pollProgress(server, jobID string) error {
	for {
		time.Sleep(time.Second)

		resp, err := http.Get(server + "/api/upload/" + jobID + "/progress")
		if err != nil {
			return err
		}
		var progress coordinator.Progress
		err = json.NewDecoder(resp.Body).Decode(&progress)
		resp.Body.Close()
		if err != nil {
			return err
		}

		switch progress.Phase {
		case coordinator.PhaseDone:
			fmt.Println("done")
			return nil
		case coordinator.PhaseError:
			return fmt.Errorf("ingest failed: %s", progress.Error)
		default:
			fmt.Printf("%s %.1f%%\n", progress.Phase, progress.Percent)
		}
	}
}
