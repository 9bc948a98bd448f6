package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"spacecomms/pkg/api"
	"spacecomms/pkg/cdm"
	"spacecomms/pkg/protocol"
	"spacecomms/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func cdmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cdm",
		Short: "Inject, inspect and withdraw conjunction data messages",
	}
	cmd.AddCommand(cdmInjectCmd(), cdmListCmd(), cdmGetCmd(), cdmWithdrawCmd(), cdmGenerateCmd())
	return cmd
}

func cdmInjectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inject <file|->",
		Short: "Submit a CDM JSON file to the node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(args[0])
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.InjectCDM(cmd.Context(), raw)
			if err != nil {
				return err
			}
			fmt.Printf("%s CDM %s %s, propagated to %d peers\n",
				successStyle.Render("✓"), resp.CdmID, resp.Status, len(resp.PropagatedTo))
			return nil
		},
	}
}

func cdmListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active CDMs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.ListCDMs(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(resp)
			}
			if resp.Total == 0 {
				fmt.Println(mutedStyle.Render("No active CDMs"))
				return nil
			}

			t := newTable("CDM ID", "TCA", "MISS DISTANCE", "PC", "OBJECT 1", "OBJECT 2")
			for _, s := range resp.Cdms {
				t.Row(
					s.CdmID.String(),
					fmt.Sprintf("%s (%s)", s.TCA.UTC().Format(time.RFC3339), humanize.Time(s.TCA)),
					humanize.SIWithDigits(s.MissDistanceM, 1, "m"),
					riskStyle(s.CollisionProbability).Render(fmt.Sprintf("%.2e", s.CollisionProbability)),
					string(s.Object1ID),
					string(s.Object2ID),
				)
			}
			fmt.Println(t.Render())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func cdmGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <cdm-id>",
		Short: "Print one CDM as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			rec, err := c.GetCDM(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
}

func cdmWithdrawCmd() *cobra.Command {
	var (
		reason       string
		supersededBy string
	)

	cmd := &cobra.Command{
		Use:   "withdraw <cdm-id>",
		Short: "Withdraw a CDM and tell the federation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.WithdrawCDM(cmd.Context(), args[0], api.WithdrawCdmRequest{
				Reason:       protocol.CdmWithdrawReason(strings.ToUpper(reason)),
				SupersededBy: types.CdmID(supersededBy),
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s CDM %s withdrawn (%s), propagated to %d peers\n",
				successStyle.Render("✓"), resp.CdmID, resp.Reason, len(resp.PropagatedTo))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", string(protocol.CdmSuperseded), "SUPERSEDED, TCA_PASSED, FALSE_POSITIVE or ERROR")
	cmd.Flags().StringVar(&supersededBy, "superseded-by", "", "id of the replacing CDM")
	return cmd
}

func cdmGenerateCmd() *cobra.Command {
	var (
		obj1ID, obj1Name string
		obj2ID, obj2Name string
		tcaHours         float64
		missDistanceM    float64
		pc               float64
		output           string
		inject           bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic CDM for testing",
		Long: `Generate a synthetic CDM. The defaults describe a medium-risk demo
conjunction two days out. The record is printed, written to --output, or submitted with --inject.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tca := time.Now().UTC().Add(time.Duration(tcaHours * float64(time.Hour)))
			rec := cdm.GenerateSynthetic(obj1ID, obj1Name, obj2ID, obj2Name, tca, missDistanceM, pc)
			if err := cdm.Validate(rec); err != nil {
				return err
			}

			data, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}

			if inject {
				c, err := newClient()
				if err != nil {
					return err
				}
				resp, err := c.InjectCDM(cmd.Context(), data)
				if err != nil {
					return err
				}
				fmt.Printf("%s Generated CDM %s injected, propagated to %d peers\n",
					successStyle.Render("✓"), resp.CdmID, len(resp.PropagatedTo))
				return nil
			}
			if output != "" {
				if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
					return err
				}
				fmt.Printf("%s Wrote %s to %s\n", successStyle.Render("✓"), rec.CdmID, output)
				return nil
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&obj1ID, "object1-id", "NORAD-12345", "primary object id")
	cmd.Flags().StringVar(&obj1Name, "object1-name", "STARLINK-1234", "primary object name")
	cmd.Flags().StringVar(&obj2ID, "object2-id", "NORAD-99999", "secondary object id")
	cmd.Flags().StringVar(&obj2Name, "object2-name", "FENGYUN-1C-DEB", "secondary object name")
	cmd.Flags().Float64Var(&tcaHours, "tca-hours", 48, "hours from now to time of closest approach")
	cmd.Flags().Float64Var(&missDistanceM, "miss-distance", 150.5, "miss distance in metres")
	cmd.Flags().Float64Var(&pc, "pc", 1.2e-4, "collision probability")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the CDM to a file")
	cmd.Flags().BoolVar(&inject, "inject", false, "submit the CDM to the node")
	return cmd
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
