package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
)

func newMergeCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newMergeCommand(ctx),
		newPreviewCommand(ctx),
		newPrimaryCommand(ctx),
		newHistoryCommand(ctx),
		newNotDuplicateCommand(ctx),
		newRollbackCommand(ctx),
	}
}

func parseVenuePair(args []string) (int64, int64, error) {
	first, err := parseID("venue id", args[0])
	if err != nil {
		return 0, 0, err
	}
	second, err := parseID("venue id", args[1])
	if err != nil {
		return 0, 0, err
	}
	return first, second, nil
}

func parseID(label, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", label, raw)
	}
	return id, nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// mergeFlags are shared by merge and preview.
type mergeFlags struct {
	strategy      string
	eventStrategy string
	overrides     []string
	notes         string
	performedBy   string
}

func (f *mergeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.strategy, "strategy", merging.MetadataCombine, "Metadata strategy: prefer_primary, prefer_secondary or combine")
	cmd.Flags().StringVar(&f.eventStrategy, "event-strategy", merging.EventsMigrateAll, "Event strategy: migrate_all or selective")
	cmd.Flags().StringSliceVar(&f.overrides, "override", nil, "Fields that always take the secondary's value")
	cmd.Flags().StringVar(&f.notes, "notes", "", "Notes stored on the audit entry")
	cmd.Flags().StringVar(&f.performedBy, "performed-by", merging.DefaultPerformedBy, "Actor recorded on the audit entry")
}

func (f *mergeFlags) options() merging.MergeOptions {
	opts := merging.DefaultMergeOptions()
	opts.MetadataStrategy = f.strategy
	opts.EventStrategy = f.eventStrategy
	opts.FieldOverrides = f.overrides
	opts.Notes = optionalString(f.notes)
	opts.PerformedBy = f.performedBy
	return opts
}

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var flags mergeFlags
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "merge <primary-id> <secondary-id>",
		Short: "Merge the secondary venue into the primary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			primaryID, secondaryID, err := parseVenuePair(args)
			if err != nil {
				return err
			}
			opts := flags.options()
			opts.DryRun = dryRun

			return ctx.withApp(cmd.Context(), func(a *app) error {
				result, err := a.orchestrator.MergeVenues(cmd.Context(), primaryID, secondaryID, opts)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderMergeResult(result))
				return nil
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the planned changes without writing")
	return cmd
}

func renderMergeResult(result *merging.MergeResult) string {
	var b strings.Builder
	if result.DryRun {
		fmt.Fprintf(&b, "Dry run: venue %d into %d\n", result.SecondaryVenueID, result.PrimaryVenueID)
	} else {
		fmt.Fprintf(&b, "Merged venue %d into %d (log %d)\n", result.SecondaryVenueID, result.PrimaryVenueID, result.LogID)
	}
	fmt.Fprintf(&b, "Events migrated: %d\n", result.EventsMigrated)
	fmt.Fprintf(&b, "Conflicting events deleted: %d\n", result.ConflictingEventsDeleted)
	fields := "none"
	if len(result.FieldsUpdated) > 0 {
		fields = strings.Join(result.FieldsUpdated, ", ")
	}
	fmt.Fprintf(&b, "Fields updated: %s", fields)
	if result.Preview != nil {
		fmt.Fprintf(&b, "\nRecommended action: %s", result.Preview.RecommendedAction)
	}
	return b.String()
}

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var flags mergeFlags

	cmd := &cobra.Command{
		Use:   "preview <primary-id> <secondary-id>",
		Short: "Show field conflicts and event clashes for a merge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			primaryID, secondaryID, err := parseVenuePair(args)
			if err != nil {
				return err
			}
			return ctx.withApp(cmd.Context(), func(a *app) error {
				preview, err := a.orchestrator.PreviewMerge(cmd.Context(), primaryID, secondaryID, flags.options())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, preview)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderPreview(preview))
				return nil
			})
		},
	}

	flags.register(cmd)
	return cmd
}

func renderPreview(preview *merging.MergePreview) string {
	var b strings.Builder
	changes := preview.EstimatedChanges
	fmt.Fprintf(&b, "Events to migrate: %d\n", changes.EventsToMigrate)
	fmt.Fprintf(&b, "Conflicting events: %d\n", changes.ConflictingEvents)
	fmt.Fprintf(&b, "Recommended action: %s\n", preview.RecommendedAction)

	if len(preview.Conflicts) > 0 {
		rows := make([][]string, 0, len(preview.Conflicts))
		for _, c := range preview.Conflicts {
			rows = append(rows, []string{c.Field, fmt.Sprint(c.PrimaryValue), fmt.Sprint(c.SecondaryValue)})
		}
		b.WriteString(renderTable([]string{"Field", "Primary", "Secondary"}, rows, nil))
		b.WriteString("\n")
	}
	if len(preview.EventConflicts) > 0 {
		rows := make([][]string, 0, len(preview.EventConflicts))
		for _, slot := range preview.EventConflicts {
			rows = append(rows, []string{strconv.Itoa(slot.DayOfWeek), slot.StartTime})
		}
		b.WriteString(renderTable([]string{"Day", "Start"}, rows, []columnAlignment{alignRight, alignLeft}))
	}
	return strings.TrimRight(b.String(), "\n")
}

func newPrimaryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "primary <venue-id> <venue-id>",
		Short: "Recommend which venue should survive a merge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			first, second, err := parseVenuePair(args)
			if err != nil {
				return err
			}
			return ctx.withApp(cmd.Context(), func(a *app) error {
				selection, err := a.orchestrator.DeterminePrimaryVenue(cmd.Context(), first, second)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, selection)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderPrimarySelection(selection))
				return nil
			})
		},
	}
}

func renderPrimarySelection(selection *merging.PrimarySelection) string {
	row := func(role string, s merging.VenueScore) []string {
		return []string{
			role,
			strconv.FormatInt(s.VenueID, 10),
			strconv.FormatFloat(s.Total, 'f', 1, 64),
			strconv.Itoa(s.Completeness),
			strconv.Itoa(s.EventCount),
			strconv.FormatFloat(s.RecencyBonus, 'f', 1, 64),
			strconv.Itoa(s.PlaceIDBonus),
			strconv.Itoa(s.SlugBonus),
		}
	}
	return renderTable(
		[]string{"Role", "Venue", "Total", "Completeness", "Events", "Recency", "Place ID", "Slug"},
		[][]string{row("primary", selection.PrimaryScore), row("secondary", selection.SecondaryScore)},
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var venueID int64
	var actionType string
	var from, to string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List merge and not-duplicate audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.MergeHistoryFilter{VenueID: venueID, ActionType: actionType, Limit: limit}
			var err error
			if filter.From, err = parseTimeFlag("from", from); err != nil {
				return err
			}
			if filter.To, err = parseTimeFlag("to", to); err != nil {
				return err
			}

			return ctx.withApp(cmd.Context(), func(a *app) error {
				entries, err := a.orchestrator.ListMergeHistory(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No audit entries")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderHistory(entries))
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&venueID, "venue", 0, "Only entries naming this venue on either side")
	cmd.Flags().StringVar(&actionType, "action", "", "Only entries of this action: merge or not_duplicate")
	cmd.Flags().StringVar(&from, "from", "", "Earliest entry time (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Latest entry time (RFC3339)")
	cmd.Flags().IntVar(&limit, "limit", models.DefaultHistoryLimit, "Maximum rows")
	return cmd
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: want RFC3339", name, value)
	}
	return &t, nil
}

func renderHistory(entries []*models.MergeLogEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		notes := ""
		if e.Notes != nil {
			notes = *e.Notes
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.InsertedAt.UTC().Format(time.RFC3339),
			e.ActionType,
			strconv.FormatInt(e.PrimaryVenueID, 10),
			strconv.FormatInt(e.SecondaryVenueID, 10),
			e.PerformedBy,
			notes,
		})
	}
	return renderTable(
		[]string{"ID", "At", "Action", "Primary", "Secondary", "By", "Notes"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	)
}

func newNotDuplicateCommand(ctx *commandContext) *cobra.Command {
	var notes string
	var performedBy string

	cmd := &cobra.Command{
		Use:   "not-duplicate <venue-id> <venue-id>",
		Short: "Record that two venues are distinct",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			first, second, err := parseVenuePair(args)
			if err != nil {
				return err
			}
			return ctx.withApp(cmd.Context(), func(a *app) error {
				result, err := a.orchestrator.CreateNotDuplicateLog(cmd.Context(), first, second, merging.NotDuplicateOptions{
					PerformedBy: performedBy,
					Notes:       optionalString(notes),
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				if result.Created {
					fmt.Fprintf(cmd.OutOrStdout(), "Recorded venues %d and %d as distinct (log %d)\n", first, second, result.Entry.ID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Venues %d and %d were already recorded as distinct (log %d)\n", first, second, result.Entry.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "Notes stored on the audit entry")
	cmd.Flags().StringVar(&performedBy, "performed-by", merging.DefaultPerformedBy, "Actor recorded on the audit entry")
	return cmd
}

func newRollbackCommand(ctx *commandContext) *cobra.Command {
	var performedBy string

	cmd := &cobra.Command{
		Use:   "rollback <log-id>",
		Short: "Undo a merge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logID, err := parseID("log id", args[0])
			if err != nil {
				return err
			}
			return ctx.withApp(cmd.Context(), func(a *app) error {
				return a.orchestrator.RollbackMerge(cmd.Context(), logID, merging.RollbackOptions{PerformedBy: performedBy})
			})
		},
	}

	cmd.Flags().StringVar(&performedBy, "performed-by", merging.DefaultPerformedBy, "Actor requesting the rollback")
	return cmd
}
