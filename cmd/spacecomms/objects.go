package main

import (
	"fmt"
	"strings"
	"time"

	"spacecomms/pkg/api"
	"spacecomms/pkg/protocol"
	"spacecomms/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func objectsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "objects [object-id]",
		Short: "List tracked objects, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				obj, err := c.GetObject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(obj)
			}

			resp, err := c.ListObjects(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(resp)
			}
			if resp.Total == 0 {
				fmt.Println(mutedStyle.Render("No tracked objects"))
				return nil
			}

			t := newTable("OBJECT ID", "NAME", "TYPE", "SOURCE", "UPDATED")
			for _, o := range resp.Objects {
				source := o.SourceNode.String()
				if source == "" {
					source = "-"
				}
				t.Row(o.ObjectID.String(), o.ObjectName, string(o.ObjectType), source, humanize.Time(o.LastUpdated))
			}
			fmt.Println(t.Render())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func maneuverCmd() *cobra.Command {
	var (
		objectID     string
		relatedCdm   string
		startIn      time.Duration
		durationS    float64
		maneuverType string
	)

	cmd := &cobra.Command{
		Use:   "maneuver",
		Short: "Announce a planned maneuver to the federation",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.AnnounceManeuver(cmd.Context(), api.ManeuverRequest{
				ObjectID:         types.ObjectID(objectID),
				RelatedCdmID:     types.CdmID(relatedCdm),
				PlannedStart:     time.Now().UTC().Add(startIn),
				PlannedDurationS: durationS,
				ManeuverType:     protocol.ManeuverType(strings.ToUpper(maneuverType)),
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s Maneuver %s %s, propagated to %d peers\n",
				successStyle.Render("✓"), resp.ManeuverID, resp.Status, len(resp.PropagatedTo))
			return nil
		},
	}

	cmd.Flags().StringVar(&objectID, "object-id", "", "maneuvering object")
	cmd.Flags().StringVar(&relatedCdm, "cdm-id", "", "CDM the maneuver responds to")
	cmd.Flags().DurationVar(&startIn, "start-in", time.Hour, "time until the burn starts")
	cmd.Flags().Float64Var(&durationS, "duration", 0, "burn duration in seconds")
	cmd.Flags().StringVar(&maneuverType, "type", string(protocol.ManeuverCollisionAvoidance),
		"COLLISION_AVOIDANCE, STATION_KEEPING, DEORBIT or OTHER")
	cmd.MarkFlagRequired("object-id")
	return cmd
}
