package main

import (
	"fmt"

	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/syncer"
	"github.com/alfredjeanlab/livesite/internal/ui"
	"github.com/spf13/cobra"
)

func setting(key, value string, vt model.ValueType, category, description string) syncer.Change {
	return syncer.Change{Key: key, Value: value, ValueType: vt, Category: category, Description: description}
}

// defaultSettings is the content a fresh site starts with.
var defaultSettings = []syncer.Change{
	setting("regular_price", "2200", model.ValueNumber, model.CategoryPricing, "Regular course price in AUD"),
	setting("early_bird_price", "1650", model.ValueNumber, model.CategoryPricing, "Early bird course price in AUD"),
	setting("early_bird_savings", "550", model.ValueNumber, model.CategoryPricing, "Amount saved with early bird in AUD"),
	setting("currency", "AUD", model.ValueText, model.CategoryPricing, "Currency symbol or code"),
	setting("payment_methods", "Secure direct bank transfer", model.ValueText, model.CategoryPricing, "Available payment methods"),

	setting("next_session_start_date", "2025-08-06", model.ValueDate, model.CategoryDates, "Next session start date"),
	setting("early_bird_deadline", "2025-07-31 23:59:59", model.ValueDateTime, model.CategoryDates, "Early bird offer deadline"),
	setting("session_days", "Wed & Thu", model.ValueText, model.CategoryDates, "Days of the week for sessions"),
	setting("session_time", "7:00-9:00 PM AEST", model.ValueText, model.CategoryDates, "Session time"),
	setting("session_schedule", "Wednesdays & Thursdays, 7:00-9:00 PM AEST", model.ValueText, model.CategoryDates, "Complete session schedule description"),
	setting("session_duration_weeks", "8", model.ValueNumber, model.CategoryDates, "Duration of course in weeks"),
	setting("total_sessions", "16", model.ValueNumber, model.CategoryDates, "Total number of sessions"),
	setting("sessions_per_week", "2", model.ValueNumber, model.CategoryDates, "Sessions per week"),

	setting("max_class_size", "10", model.ValueNumber, model.CategoryGeneral, "Maximum students per session"),
	setting("available_spots", "10", model.ValueNumber, model.CategoryGeneral, "Currently available spots"),
	setting("registration_open", "true", model.ValueBoolean, model.CategoryGeneral, "Whether enrolment is open"),

	setting("home_hero_title", "Launch Your Accounting Career with F.A.C.T.S", model.ValueText, model.CategoryContent, "Homepage hero title"),
	setting("home_hero_subtitle", "Job-Ready Online Training for Aspiring Accountants Across Australia", model.ValueText, model.CategoryContent, "Homepage hero subtitle"),
	setting("home_early_bird_banner_template", "Save ${savings} if you enroll by {deadline} - only {spots} seats per session!", model.ValueText, model.CategoryContent, "Early bird banner; {savings}, {deadline} and {spots} are filled from other settings"),
	setting("home_why_choose_title", "Why Choose F.A.C.T.S?", model.ValueText, model.CategoryContent, "Why choose section title"),
	setting("home_feature_1_title", "Job-Ready Skills Training", model.ValueText, model.CategoryContent, "Feature 1 title"),
	setting("home_feature_1_desc", "Comprehensive training in Xero & MYOB", model.ValueText, model.CategoryContent, "Feature 1 description"),
	setting("home_feature_2_title", "Small Class Sizes", model.ValueText, model.CategoryContent, "Feature 2 title"),
	setting("home_feature_2_desc", "Small class sizes for personalized attention", model.ValueText, model.CategoryContent, "Feature 2 description"),
	setting("home_feature_3_title", "100% Online Access", model.ValueText, model.CategoryContent, "Feature 3 title"),
	setting("home_feature_3_desc", "100% online, accessible from anywhere in Australia", model.ValueText, model.CategoryContent, "Feature 3 description"),
	setting("home_info_session_title", "Join Our Free Info Session", model.ValueText, model.CategoryContent, "Info session section title"),
	setting("mentor_section_title", "Meet Your Mentor", model.ValueText, model.CategoryContent, "Mentor section title"),

	setting("mentor_image", "tutor.jpg", model.ValueText, model.CategoryMedia, "Mentor image filename"),
	setting("hero_image", "classroom_accounting.jpg", model.ValueText, model.CategoryMedia, "Hero section image filename"),

	setting("site_title", "F.A.C.T.S - Future Accountants Coaching & Training", model.ValueText, model.CategoryGeneral, "Site title"),
	setting("site_description", "Professional accounting training and career preparation in Australia", model.ValueText, model.CategoryGeneral, "Site meta description"),
	setting("contact_email", "info@futureaccountants.com.au", model.ValueText, model.CategoryContact, "Primary contact email"),
	setting("contact_phone", "+61 123 456 789", model.ValueText, model.CategoryContact, "Contact phone number"),
}

// missingSettings returns the defaults whose keys are not in existing.
func missingSettings(defaults []syncer.Change, existing []*model.ContentItem) []syncer.Change {
	have := make(map[string]bool, len(existing))
	for _, it := range existing {
		have[it.Key] = true
	}
	var out []syncer.Change
	for _, ch := range defaults {
		if !have[ch.Key] {
			out = append(out, ch)
		}
	}
	return out
}

var seedCmd = &cobra.Command{
	Use:     "seed",
	Short:   "Load the default site content, keeping values that already exist",
	GroupID: "content",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		out := cmd.OutOrStdout()

		existing, err := siteClient.ListContent(cmd.Context(), "")
		if err != nil {
			return err
		}
		todo := missingSettings(defaultSettings, existing)
		if len(todo) == 0 {
			fmt.Fprintln(out, "all default settings already present")
			return nil
		}
		if dryRun {
			for _, ch := range todo {
				fmt.Fprintf(out, "would create %s = %s\n", ch.Key, ch.Value)
			}
			return nil
		}

		res, err := siteClient.ApplyBatch(cmd.Context(), todo)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, res)
		}
		for _, r := range res.Results {
			if r.Success {
				fmt.Fprintf(out, "%s created %s\n", ui.RenderOK("✓"), r.Key)
			} else {
				fmt.Fprintf(out, "%s %s: %s\n", ui.RenderFail("✗"), r.Key, r.Error)
			}
		}
		fmt.Fprintf(out, "\n%d created, %d failed, %d kept\n", res.Succeeded, res.Failed, len(defaultSettings)-len(todo))
		if res.Failed > 0 {
			return fmt.Errorf("%d settings failed to seed", res.Failed)
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().Bool("dry-run", false, "show what would be created")
}
