package main

import (
	"context"
	"fmt"
	"time"

	"spacecomms/pkg/api"
	"spacecomms/pkg/federation"
	"spacecomms/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func peerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Manage a node's federation peers",
	}
	cmd.AddCommand(peerAddCmd(), peerListCmd(), peerRemoveCmd())
	return cmd
}

func peerAddCmd() *cobra.Command {
	var (
		peerID    string
		address   string
		authToken string
		noCDM     bool
		noObjects bool
		noManeuvr bool
		noRelay   bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a peer with the node",
		Example: `  spacecomms peer add --id node-beta --peer-address http://beta.example:8080
  spacecomms peer add --id node-gamma --peer-address grpc://gamma.example:9090 --no-maneuvers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			policies := federation.DefaultPolicies()
			policies.AcceptCDM = !noCDM
			policies.AcceptObjectState = !noObjects
			policies.AcceptManeuver = !noManeuvr
			policies.ForwardCDM = !noRelay

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			resp, err := c.AddPeer(ctx, api.AddPeerRequest{
				PeerID:    types.NodeID(peerID),
				Address:   address,
				AuthToken: authToken,
				Policies:  &policies,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s Peer %s added (%s)\n", successStyle.Render("✓"), resp.PeerID, resp.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&peerID, "id", "", "peer node id")
	cmd.Flags().StringVar(&address, "peer-address", "", "peer address (http://, https:// or grpc://)")
	cmd.Flags().StringVar(&authToken, "auth-token", "", "token sent in HELLO and on every delivery")
	cmd.Flags().BoolVar(&noCDM, "no-cdms", false, "do not send CDMs to this peer")
	cmd.Flags().BoolVar(&noObjects, "no-objects", false, "do not send object state to this peer")
	cmd.Flags().BoolVar(&noManeuvr, "no-maneuvers", false, "do not send maneuver messages to this peer")
	cmd.Flags().BoolVar(&noRelay, "no-relay", false, "do not pass on CDMs relayed by this peer")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("peer-address")
	return cmd
}

func peerListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the node's peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.ListPeers(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(resp)
			}
			if resp.Total == 0 {
				fmt.Println(mutedStyle.Render("No peers configured"))
				return nil
			}
			fmt.Println(renderPeers(resp.Peers))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func peerRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <peer-id>",
		Short: "Remove a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if _, err := c.RemovePeer(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("%s Peer %s removed\n", successStyle.Render("✓"), args[0])
			return nil
		},
	}
}

func renderPeers(peers []federation.PeerInfo) string {
	t := newTable("PEER", "ADDRESS", "STATUS", "LAST HEARTBEAT", "SENT", "RECEIVED")
	for _, p := range peers {
		last := "never"
		if p.LastHeartbeat != nil {
			last = humanize.Time(*p.LastHeartbeat)
		}
		t.Row(
			p.ID.String(),
			p.Address,
			peerStatusStyle(string(p.Status)).Render(string(p.Status)),
			last,
			humanize.Comma(int64(p.MessagesSent)),
			humanize.Comma(int64(p.MessagesReceived)),
		)
	}
	return t.Render()
}
