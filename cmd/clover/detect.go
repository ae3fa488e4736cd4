package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/processor"
	"github.com/Ramsey-B/clover/pkg/utils"
)

func newDetectCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newDetectCommand(ctx),
		newSyncCommand(ctx),
		newStatsCommand(ctx),
		newCandidatesCommand(ctx),
	}
}

func newDetectCommand(ctx *commandContext) *cobra.Command {
	var batchSize int
	var minConfidence float64
	var clearExisting bool
	var venueID int64

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Scan venues and store likely duplicate pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.ValidateValue(minConfidence, "gte=0,lte=1"); err != nil {
				return fmt.Errorf("--min-confidence: %w", err)
			}
			if err := utils.ValidateValue(batchSize, "gt=0"); err != nil {
				return fmt.Errorf("--batch-size: %w", err)
			}
			return ctx.withApp(cmd.Context(), func(a *app) error {
				opts := a.detectOptions()
				if cmd.Flags().Changed("batch-size") {
					opts.BatchSize = batchSize
				}
				if cmd.Flags().Changed("min-confidence") {
					opts.MinConfidence = minConfidence
				}
				opts.ClearExisting = clearExisting

				if venueID > 0 {
					result, err := a.processor.ProcessVenueByID(cmd.Context(), venueID, opts)
					if err != nil {
						return err
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, result)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Venue %d: %d duplicates found, %d stored\n", result.VenueID, result.DuplicatesFound, result.DuplicatesStored)
					return nil
				}

				if !ctx.jsonOutput() {
					opts.ProgressCallback = func(p processor.Progress) {
						fmt.Fprintf(cmd.OutOrStdout(), "Batch %d/%d: %d venues processed, %d found, %d stored\n",
							p.BatchIndex, p.TotalBatches, p.Processed, p.DuplicatesFound, p.DuplicatesStored)
					}
				}

				result, err := a.processor.ProcessAllVenues(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d venues: %d duplicates found, %d stored", result.Processed, result.DuplicatesFound, result.DuplicatesStored)
				if opts.ClearExisting {
					fmt.Fprintf(cmd.OutOrStdout(), ", %d cleared", result.Cleared)
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "Venues loaded per batch")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0.70, "Lowest confidence stored")
	cmd.Flags().BoolVar(&clearExisting, "clear-existing", false, "Delete every stored candidate before scanning")
	cmd.Flags().Int64Var(&venueID, "venue", 0, "Only scan this venue")
	return cmd
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Mark pending candidates that were merged or rejected",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app) error {
				result, err := a.processor.SyncWithMergeLogs(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %d merged, %d rejected\n", result.Merged, result.Rejected)
				return nil
			})
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise stored candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app) error {
				stats, err := a.processor.GetStatistics(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderStatistics(stats))
				return nil
			})
		},
	}
}

func renderStatistics(stats *models.DuplicateStatistics) string {
	rows := [][]string{
		{"total", strconv.Itoa(stats.Total)},
		{"high confidence", strconv.Itoa(stats.ByConfidence.High)},
		{"medium confidence", strconv.Itoa(stats.ByConfidence.Medium)},
		{"low confidence", strconv.Itoa(stats.ByConfidence.Low)},
	}
	for _, status := range models.CandidateStatuses {
		rows = append(rows, []string{"status " + status, strconv.Itoa(stats.ByStatus[status])})
	}
	rows = append(rows,
		[]string{"average confidence", formatScore(stats.AverageConfidence)},
		[]string{"average name similarity", formatScore(stats.AverageNameSimilarity)},
		[]string{"average location similarity", formatScore(stats.AverageLocationSimilarity)},
	)
	return renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

func newCandidatesCommand(ctx *commandContext) *cobra.Command {
	var status string
	var minConfidence float64
	var limit int

	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List stored candidate pairs, highest confidence first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !models.IsCandidateStatus(status) {
				return fmt.Errorf("unknown status %q, want one of %s", status, strings.Join(models.CandidateStatuses, ", "))
			}
			if err := utils.ValidateValue(minConfidence, "gte=0,lte=1"); err != nil {
				return fmt.Errorf("--min-confidence: %w", err)
			}
			return ctx.withApp(cmd.Context(), func(a *app) error {
				rows, err := a.processor.ListCandidates(cmd.Context(), models.CandidateFilter{
					Status:        status,
					MinConfidence: minConfidence,
					Limit:         limit,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, rows)
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No candidates")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderCandidates(rows))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only list candidates with this status")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "Lowest confidence listed")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows")
	return cmd
}

func renderCandidates(rows []*models.FuzzyDuplicateCandidate) string {
	out := make([][]string, 0, len(rows))
	for _, c := range rows {
		out = append(out, []string{
			strconv.FormatInt(c.ID, 10),
			strconv.FormatInt(c.Venue1ID, 10),
			strconv.FormatInt(c.Venue2ID, 10),
			formatScore(c.ConfidenceScore),
			formatScore(c.NameSimilarity),
			formatScore(c.LocationSimilarity),
			c.Status,
			strings.Join(c.MatchCriteria, ", "),
		})
	}
	return renderTable(
		[]string{"ID", "Venue 1", "Venue 2", "Confidence", "Name", "Location", "Status", "Criteria"},
		out,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft},
	)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
