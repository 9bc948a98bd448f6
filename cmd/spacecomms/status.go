package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"spacecomms/pkg/api"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type statusReport struct {
	Health *api.HealthResponse   `json:"health"`
	Peers  *api.PeerListResponse `json:"peers"`
}

func statusCmd() *cobra.Command {
	var (
		asJSON bool
		wait   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show node health and peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if wait > 0 {
				wctx, cancel := context.WithTimeout(ctx, wait)
				err := c.WaitReady(wctx)
				cancel()
				if err != nil {
					return fmt.Errorf("node at %s not ready after %s: %w", nodeAddress, wait, err)
				}
			}

			health, err := c.Health(ctx)
			if err != nil {
				return err
			}
			peers, err := c.ListPeers(ctx)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(statusReport{Health: health, Peers: peers})
			}
			fmt.Println(renderStatus(health))
			if peers.Total > 0 {
				fmt.Println(createPanel("PEERS", renderPeers(peers.Peers)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the node to become ready")
	return cmd
}

func renderStatus(h *api.HealthResponse) string {
	uptime := time.Duration(h.UptimeSeconds) * time.Second

	rows := []struct {
		label string
		value string
	}{
		{"Node ID", h.NodeID},
		{"Status", h.Status},
		{"Version", h.Version},
		{"Uptime", uptime.String()},
		{"Peers", fmt.Sprintf("%d connected / %d total", h.Peers.Connected, h.Peers.Total)},
		{"Active CDMs", humanize.Comma(int64(h.CdmsActive))},
		{"Tracked objects", humanize.Comma(int64(h.ObjectsTracked))},
	}

	var b strings.Builder
	for _, r := range rows {
		style := valueStyle
		if r.label == "Status" && r.value == "healthy" {
			style = successStyle
		}
		b.WriteString(labelStyle.Render(r.label+":") + " " + style.Render(r.value) + "\n")
	}
	return createPanel("SPACECOMMS NODE", strings.TrimRight(b.String(), "\n"))
}
