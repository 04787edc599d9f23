package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"bandaid/internal/poster"
	"bandaid/internal/registry"
	"bandaid/internal/statusfeed"
)

func newPostersCommand(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posters",
		Short: "Manage ingested posters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newPostersListCommand(client))
	cmd.AddCommand(newPostersShowCommand(client))
	cmd.AddCommand(newPostersSubmitCommand(client))
	cmd.AddCommand(newPostersDeleteCommand(client))
	cmd.AddCommand(newPostersWatchCommand(client))
	return cmd
}

func newPostersListCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List posters, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload struct {
				Posters []registry.Listing `json:"posters"`
			}
			if err := client.get(cmd.Context(), "/api/posters", &payload); err != nil {
				return err
			}
			if len(payload.Posters) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No posters.")
				return nil
			}
			rows := make([][]string, 0, len(payload.Posters))
			for _, listing := range payload.Posters {
				rows = append(rows, []string{listing.Slug, listing.PosterURL})
			}
			writeTable(cmd.OutOrStdout(), []string{"Slug", "Poster URL"}, rows)
			return nil
		},
	}
}

func newPostersShowCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "show <slug>",
		Short: "Show a poster's bands and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var detail poster.Detail
			if err := client.get(cmd.Context(), "/api/posters/"+args[0], &detail); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Slug:  %s\n", detail.Slug)
			if detail.ImageURL != "" && !strings.HasPrefix(detail.ImageURL, "data:") {
				fmt.Fprintf(out, "Image: %s\n", detail.ImageURL)
			}

			if len(detail.Bands) > 0 {
				rows := make([][]string, 0, len(detail.Bands))
				for _, band := range detail.Bands {
					links := make([]string, 0, len(band.Links))
					for _, link := range band.Links {
						links = append(links, link.URL)
					}
					rows = append(rows, []string{band.Name, band.Genre, strings.Join(links, " ")})
				}
				writeTable(out, []string{"Band", "Genre", "Links"}, rows)
			}
			if len(detail.Events) > 0 {
				rows := make([][]string, 0, len(detail.Events))
				for _, event := range detail.Events {
					upcoming := ""
					if event.Upcoming {
						upcoming = "upcoming"
					}
					rows = append(rows, []string{event.Date, event.Venue, event.Location, upcoming})
				}
				writeTable(out, []string{"Date", "Venue", "Location", ""}, rows)
			}
			return nil
		},
	}
}

func newPostersSubmitCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <image-ref>",
		Short: "Submit a poster image reference (s3://key or data: URI)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				Slug string `json:"slug"`
			}
			err := client.post(cmd.Context(), "/api/posters", map[string]string{"imageRef": args[0]}, &result)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Poster ingested as %s\n", result.Slug)
			return nil
		},
	}
}

func newPostersDeleteCommand(client *apiClient) *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete all posters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to delete all posters without --yes")
			}
			var result struct {
				Deleted int `json:"deleted"`
				Failed  int `json:"failed"`
			}
			if err := client.delete(cmd.Context(), "/api/posters", &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d poster(s), %d failed\n", result.Deleted, result.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm deletion of every poster")
	return cmd
}

func newPostersWatchCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <slug>",
		Short: "Stream a poster's status feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
			conn, resp, err := dialer.DialContext(cmd.Context(), client.wsURL("/api/posters/"+args[0]+"/ws"), nil)
			if resp != nil {
				resp.Body.Close()
			}
			if err != nil {
				return fmt.Errorf("connect to status feed: %w", err)
			}
			defer conn.Close()

			if err := conn.WriteJSON(statusfeed.ControlMessage{Event: statusfeed.EventHistoryRequest}); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				default:
				}
				_, payload, err := conn.ReadMessage()
				if err != nil {
					return nil
				}
				var frame struct {
					Event   string   `json:"event"`
					Status  string   `json:"status"`
					History []string `json:"history"`
				}
				if err := json.Unmarshal(payload, &frame); err != nil {
					continue
				}
				switch frame.Event {
				case statusfeed.EventStatusHistory:
					for _, status := range frame.History {
						fmt.Fprintln(out, status)
					}
				case statusfeed.EventStatusUpdate:
					fmt.Fprintln(out, frame.Status)
				}
			}
		},
	}
}
