package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autoreply-dev/autoreply/internal/automation"
	"github.com/autoreply-dev/autoreply/internal/config"
	"github.com/autoreply-dev/autoreply/internal/history"
	"github.com/autoreply-dev/autoreply/internal/inbox"
	"github.com/autoreply-dev/autoreply/internal/web"
)

var cfgFile string

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "autoreply",
		Short: "autoreply - Classify incoming email and answer it from templates",
		Long: `autoreply polls a Gmail or IMAP mailbox, classifies each unread message
by intent (pricing, support, product info, meeting, general) and answers it
with the matching reply template, either as a sent reply or as a draft.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.autoreply/config.yaml)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long:  "Create a configuration file with every setting at its default, ready to be edited.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Printf("Configuration saved to: %s\n", path)
			fmt.Println()
			fmt.Println("Next steps:")
			fmt.Println("  1. Fill in the gmail or inbox/email credentials")
			fmt.Println("  2. Run 'autoreply check' to validate the configuration")
			fmt.Println("  3. Run 'autoreply run' to process the inbox once")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func runCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process unread mail once or continuously",
		Long: `Fetch unread messages, classify them and reply or draft.

With --mode continuous the inbox is checked every responder.check_interval
until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := automation.ParseMode(mode)
			if err != nil {
				return err
			}
			return runResponder(m)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "once", "once or continuous")
	return cmd
}

func runResponder(mode automation.Mode) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	responder, closeMailbox, err := a.responder(ctx, nil)
	if err != nil {
		return err
	}
	defer closeMailbox()

	if mode == automation.ModeOnce {
		report, err := responder.RunOnce(ctx)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	}

	err = responder.Run(ctx, mode)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printReport(r *automation.CycleReport) {
	fmt.Println()
	fmt.Println("📬 Cycle Summary")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Fetched:  %d\n", r.Fetched)
	fmt.Printf("  Filtered: %d\n", r.Filtered)
	fmt.Printf("  Sent:     %d\n", r.Sent)
	fmt.Printf("  Drafted:  %d\n", r.Drafted)
	fmt.Printf("  Skipped:  %d\n", r.Skipped)
	fmt.Printf("  Failed:   %d\n", r.Failed)

	if r.Summary.Total > 0 {
		fmt.Println()
		fmt.Println("  By category:")
		for _, c := range r.Summary.Sorted() {
			fmt.Printf("    %-13s %d\n", c, r.Summary.ByCategory[c])
		}
	}
	for _, o := range r.Outcomes {
		if o.Error != "" {
			fmt.Printf("  ❌ %s (%s): %s\n", o.MessageID, o.Sender, o.Error)
		}
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		Long:  "Print the configuration status and every problem found. No mailbox is contacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.cfg
			fmt.Println("Configuration")
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			fmt.Printf("  File:           %s\n", resolveConfigPath())
			fmt.Printf("  Provider:       %s\n", cfg.Provider)
			fmt.Printf("  Auto reply:     %v\n", cfg.Responder.AutoReplyEnabled)
			fmt.Printf("  Check interval: %s\n", cfg.Responder.CheckInterval)
			fmt.Printf("  Max per check:  %d\n", cfg.Responder.MaxMessagesPerCheck)
			fmt.Printf("  History:        %s\n", cfg.History.Driver)
			fmt.Printf("  Thread context: %v (summarizer %v)\n", cfg.Thread.Enabled, cfg.Summarizer.Enabled)
			fmt.Printf("  Routes:         %d\n", len(cfg.Routes))
			if a.engine != nil {
				var names []string
				for _, c := range a.engine.AvailableTemplates() {
					names = append(names, string(c))
				}
				fmt.Printf("  Templates:      %s\n", strings.Join(names, ", "))
			}
			fmt.Println()

			problems := automation.ValidateConfig(cfg, a.engine, a.engineErr)
			if len(problems) == 0 {
				fmt.Println("✅ Configuration is valid")
				return nil
			}
			fmt.Printf("❌ %d problem(s):\n", len(problems))
			for _, p := range problems {
				fmt.Printf("  - %s\n", p)
			}
			return config.Err(problems)
		},
	}
}

func classifyCmd() *cobra.Command {
	var subject, file, from string

	cmd := &cobra.Command{
		Use:   "classify [text...]",
		Short: "Classify a piece of text and preview the reply",
		Long:  "Run the classifier on the given text (or --file) and print the category, score, urgency and rendered reply.",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := strings.Join(args, " ")
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
				body = string(data)
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if a.engineErr != nil {
				return a.engineErr
			}

			msg := &inbox.Message{From: from, Subject: subject, Body: body}
			res := a.classifier.ClassifyFrom(msg.From, msg.Text())

			fmt.Printf("Category:   %s\n", res.Category)
			fmt.Printf("Score:      %d\n", res.Score)
			fmt.Printf("Confidence: %.2f\n", res.Confidence)
			if len(res.Matched) > 0 {
				fmt.Printf("Matched:    %s\n", strings.Join(res.Matched, ", "))
			}
			fmt.Printf("Urgency:    %s\n", inbox.AssessUrgency(msg.Text()))

			reply, err := a.engine.Render(res.Category, msg, nil)
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Printf("Subject: %s\n\n", reply.Subject)
			fmt.Print(reply.Body)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Message subject")
	cmd.Flags().StringVar(&file, "file", "", "Read the message body from a file")
	cmd.Flags().StringVar(&from, "from", "", "Sender address, for sender routes")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show processed messages and statistics",
		Long:  "Display recent processing records and counts per action and category.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			stats, err := store.Stats(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			fmt.Println("📊 autoreply Statistics")
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			fmt.Printf("  Total processed: %d\n", stats.Total)
			for _, action := range []history.Action{history.ActionSent, history.ActionDrafted, history.ActionSkipped} {
				fmt.Printf("  %-8s %d\n", strings.ToUpper(string(action[:1]))+string(action[1:])+":", stats.ByAction[action])
			}

			records, err := store.Recent(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to get recent records: %w", err)
			}
			if len(records) == 0 {
				return nil
			}

			fmt.Println()
			fmt.Printf("📜 Recent Messages (last %d)\n", limit)
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			for _, r := range records {
				fmt.Printf("  %s  %-8s %-12s %.2f  %s  %s\n",
					r.ProcessedAt.Local().Format("2006-01-02 15:04"),
					r.Action, r.Category, r.Confidence, r.Sender, r.Subject)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent records to show")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	var withResponder bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the diagnostics HTTP API",
		Long: `Serve read-only JSON endpoints over the processing history:

  GET  /healthz
  GET  /api/stats
  GET  /api/history?limit=n
  GET  /api/cycles
  GET  /api/templates
  POST /api/classify

With --run the responder also runs in continuous mode and its cycle
reports are listed under /api/cycles.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if withResponder {
				if err := a.validate(); err != nil {
					return err
				}
			} else if a.engineErr != nil {
				return a.engineErr
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			ctx, cancel := signalContext()
			defer cancel()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			cycles := web.NewCycleLog(50)
			server := web.NewServer(addr, store, a.classifier, a.engine, cycles, a.logger)

			var work func(context.Context) error
			if withResponder {
				responder, closeMailbox, err := a.responder(ctx, cycles.Add)
				if err != nil {
					return err
				}
				// Deferred closes run after Run, which waits for the
				// responder to finish its in-flight message.
				defer closeMailbox()
				work = responder.RunContinuous
			}
			return server.Run(ctx, work)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr, 127.0.0.1:8080)")
	cmd.Flags().BoolVar(&withResponder, "run", false, "Also run the responder in continuous mode")
	return cmd
}
