package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseflow/internal/app"
	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
	"caseflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cf",
	Short: "Caseflow CLI",
	Long: `Caseflow runs formal internal investigation cases through stage gates.
Core concepts:
- Workspace: your .caseflow directory holding only the database; configs live in the DB and are imported explicitly.
- Case: one investigation with a stage (INTAKE through CLOSURE), a status, and a jurisdiction.
- Gates: structured checklists (triage, legitimacy, credentialing, works council, legal,
  adversarial, impact analysis) that must be complete before certain stage moves.
- Serious cause: the statutory deadline track; facts confirmation starts the decision
  and dismissal clocks per jurisdiction.
- Grants: break-glass access to restricted fields, time-boxed and fully audited.
- Audit ledger: append-only diary of everything, view with 'cf audit tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("workspace-id", "", "workspace id (overrides stored config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("workspace-id", rootCmd.PersistentFlags().Lookup("workspace-id"))
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(gateCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(seriousCauseCmd())
	rootCmd.AddCommand(grantCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(serveCmd())
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "case",
		Short: "Manage cases",
		Long:  "Cases are the investigations. They flow INTAKE -> LEGITIMACY_GATE -> CREDENTIALING -> INVESTIGATION -> ADVERSARIAL_DEBATE -> DECISION -> CLOSURE, gated by completed checklists.",
	}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseGetCmd())
	c.AddCommand(caseUpdateCmd())
	c.AddCommand(caseStatusCmd())
	c.AddCommand(caseAnonymizeCmd())
	c.AddCommand(caseLinkCmd())
	c.AddCommand(caseSubjectCmd())
	c.AddCommand(caseEvidenceCmd())
	c.AddCommand(caseNoteCmd())
	c.AddCommand(caseTaskCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var opts engine.CaseCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCase(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Code, "code", "", "case code (generated if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Jurisdiction, "jurisdiction", "", "jurisdiction (BE, NL, FR, DE, UK or free text)")
	cmd.Flags().BoolVar(&opts.VIP, "vip", false, "mark as VIP case")
	cmd.Flags().StringVar(&opts.ReporterIdentity, "reporter", "", "reporter identity (restricted field)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("jurisdiction")
	return cmd
}

func caseListCmd() *cobra.Command {
	var f repo.CaseFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.Limit <= 0 {
					f.Limit = 50
				}
				cases, err := e.Repo.ListCases(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Title", "Jurisdiction", "Stage", "Status"})
				for _, c := range cases {
					tw.AppendRow(table.Row{c.ID, c.Code, c.Title, c.Jurisdiction, c.Stage, c.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Jurisdiction, "jurisdiction", "", "jurisdiction filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func caseGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetCase(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func caseUpdateCmd() *cobra.Command {
	var title, jurisdiction, reporter, legalHold, expertAccess, overrideReason string
	var vip, urgent, suspended, override bool
	var expectedVersion int64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update case details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CaseUpdateOptions{
				CaseID:         args[0],
				ActorID:        viper.GetString("actor-id"),
				Override:       override,
				OverrideReason: overrideReason,
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("jurisdiction") {
				opts.Jurisdiction = &jurisdiction
			}
			if cmd.Flags().Changed("reporter") {
				opts.ReporterIdentity = &reporter
			}
			if cmd.Flags().Changed("legal-hold-contact") {
				opts.LegalHoldContact = &legalHold
			}
			if cmd.Flags().Changed("expert-access-contact") {
				opts.ExpertAccessContact = &expertAccess
			}
			if cmd.Flags().Changed("vip") {
				opts.VIP = &vip
			}
			if cmd.Flags().Changed("urgent-dismissal") {
				opts.UrgentDismissal = &urgent
			}
			if cmd.Flags().Changed("subject-suspended") {
				opts.SubjectSuspended = &suspended
			}
			if cmd.Flags().Changed("expect-version") {
				opts.ExpectedVersion = &expectedVersion
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateCaseDetails(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&jurisdiction, "jurisdiction", "", "jurisdiction")
	cmd.Flags().StringVar(&reporter, "reporter", "", "reporter identity (needs an active grant)")
	cmd.Flags().StringVar(&legalHold, "legal-hold-contact", "", "legal hold contact (needs an active grant)")
	cmd.Flags().StringVar(&expertAccess, "expert-access-contact", "", "expert access contact (needs an active grant)")
	cmd.Flags().BoolVar(&vip, "vip", false, "VIP flag")
	cmd.Flags().BoolVar(&urgent, "urgent-dismissal", false, "urgent dismissal flag")
	cmd.Flags().BoolVar(&suspended, "subject-suspended", false, "subject suspended flag")
	cmd.Flags().BoolVar(&override, "override", false, "override a blocking guardrail")
	cmd.Flags().StringVar(&overrideReason, "override-reason", "", "reason for the override")
	cmd.Flags().Int64Var(&expectedVersion, "expect-version", 0, "fail if stored version differs")
	return cmd
}

func caseStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Set case status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SetStatus(ctx, id, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (OPEN, ON_HOLD, CLOSED, ERASURE_PENDING, ERASED)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func caseAnonymizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anonymize <id>",
		Short: "Anonymize a closed case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Anonymize(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func caseLinkCmd() *cobra.Command {
	var linked, relation string
	cmd := &cobra.Command{
		Use:   "link <id>",
		Short: "Link two cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.LinkCases(ctx, id, linked, relation, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&linked, "to", "", "linked case id")
	cmd.Flags().StringVar(&relation, "relation", "related", "relation label")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func caseSubjectCmd() *cobra.Command {
	sub := &cobra.Command{Use: "subject", Short: "Manage case subjects"}
	var name, role, manager string
	add := &cobra.Command{
		Use:   "add <case-id>",
		Short: "Add subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.AddSubject(ctx, id, name, role, manager, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "subject name")
	add.Flags().StringVar(&role, "role", "", "subject role")
	add.Flags().StringVar(&manager, "manager", "", "manager name (needs an active grant)")
	_ = add.MarkFlagRequired("name")
	list := &cobra.Command{
		Use:   "list <case-id>",
		Short: "List subjects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSubjects(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	sub.AddCommand(add)
	sub.AddCommand(list)
	return sub
}

func caseEvidenceCmd() *cobra.Command {
	ev := &cobra.Command{Use: "evidence", Short: "Manage case evidence"}
	var label, link string
	add := &cobra.Command{
		Use:   "add <case-id>",
		Short: "Add evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := e.AddEvidence(ctx, id, label, link, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	add.Flags().StringVar(&label, "label", "", "evidence label")
	add.Flags().StringVar(&link, "link", "", "evidence link (needs an active grant)")
	_ = add.MarkFlagRequired("label")
	list := &cobra.Command{
		Use:   "list <case-id>",
		Short: "List evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListEvidence(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	ev.AddCommand(add)
	ev.AddCommand(list)
	return ev
}

func caseNoteCmd() *cobra.Command {
	note := &cobra.Command{Use: "note", Short: "Manage case notes"}
	var body string
	add := &cobra.Command{
		Use:   "add <case-id>",
		Short: "Add note (needs an active grant)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.AddNote(ctx, id, body, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	add.Flags().StringVar(&body, "body", "", "note body")
	_ = add.MarkFlagRequired("body")
	list := &cobra.Command{
		Use:   "list <case-id>",
		Short: "List notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListNotes(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	note.AddCommand(add)
	note.AddCommand(list)
	return note
}

func caseTaskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage case tasks"}
	var title, assignee string
	add := &cobra.Command{
		Use:   "add <case-id>",
		Short: "Add task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AddCaseTask(ctx, id, title, assignee, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	add.Flags().StringVar(&title, "title", "", "task title")
	add.Flags().StringVar(&assignee, "assignee-id", "", "assignee id")
	_ = add.MarkFlagRequired("title")
	done := &cobra.Command{
		Use:   "done <case-id> <task-id>",
		Short: "Complete task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.CompleteCaseTask(ctx, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	}
	list := &cobra.Command{
		Use:   "list <case-id>",
		Short: "List tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCaseTasks(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	task.AddCommand(add)
	task.AddCommand(done)
	task.AddCommand(list)
	return task
}

func gateCmd() *cobra.Command {
	gate := &cobra.Command{
		Use:   "gate",
		Short: "Manage stage gates",
		Long:  "Gates are the checklists. Saving a gate with all required fields marks it complete; stage moves check gate completeness per target stage.",
	}
	var payloadJSON string
	save := &cobra.Command{
		Use:   "save <case-id> <key>",
		Short: "Save gate payload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("invalid --payload-json: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.SaveGate(ctx, args[0], args[1], payload, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	save.Flags().StringVar(&payloadJSON, "payload-json", "", "gate payload JSON")
	_ = save.MarkFlagRequired("payload-json")
	list := &cobra.Command{
		Use:   "list <case-id>",
		Short: "List gates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				gates, err := e.Repo.ListGates(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(gates)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Status", "Completed By", "Completed At"})
				for _, g := range gates {
					tw.AppendRow(table.Row{g.Key, g.Status, strDeref(g.CompletedBy), strDeref(g.CompletedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	gate.AddCommand(save)
	gate.AddCommand(list)
	return gate
}

func stageCmd() *cobra.Command {
	stage := &cobra.Command{Use: "stage", Short: "Stage transitions"}
	move := &cobra.Command{
		Use:   "move <case-id> <target>",
		Short: "Request a stage transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.RequestStageTransition(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	blockers := &cobra.Command{
		Use:   "blockers <case-id> <target>",
		Short: "Preview blockers for a prospective move",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.StageBlockers(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				if len(items) == 0 {
					fmt.Println("no blockers")
					return nil
				}
				for _, b := range items {
					fmt.Printf("%s: %s\n", b.Code, b.Message)
				}
				return nil
			})
		},
	}
	stage.AddCommand(move)
	stage.AddCommand(blockers)
	return stage
}

func seriousCauseCmd() *cobra.Command {
	sc := &cobra.Command{
		Use:   "serious-cause",
		Short: "Serious-cause deadline track",
		Long:  "Enable the track, submit confirmed findings to start the clocks, then record the dismissal and the reasons letter. Deadlines come from the jurisdiction rules in config.",
	}
	sc.AddCommand(seriousCauseEnableCmd())
	sc.AddCommand(seriousCauseShowCmd())
	sc.AddCommand(seriousCauseFindingsCmd())
	sc.AddCommand(seriousCauseDismissalCmd())
	sc.AddCommand(seriousCauseReasonsCmd())
	sc.AddCommand(seriousCauseMissedCmd())
	return sc
}

func seriousCauseEnableCmd() *cobra.Command {
	var opts engine.SeriousCauseEnableOptions
	cmd := &cobra.Command{
		Use:   "enable <case-id>",
		Short: "Enable serious-cause workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.CaseID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.EnableSeriousCause(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&opts.DecisionMaker, "decision-maker", "", "name of the person entitled to decide")
	cmd.Flags().StringVar(&opts.IncidentAt, "incident-at", "", "incident timestamp (RFC3339)")
	cmd.Flags().StringVar(&opts.InvestigationStartedAt, "investigation-started-at", "", "investigation start (RFC3339)")
	_ = cmd.MarkFlagRequired("decision-maker")
	return cmd
}

func seriousCauseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show serious-cause record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Repo.GetSeriousCause(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func seriousCauseFindingsCmd() *cobra.Command {
	var confirmedAt string
	cmd := &cobra.Command{
		Use:   "findings <case-id>",
		Short: "Submit confirmed findings (starts the clocks)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.SubmitFindings(ctx, id, confirmedAt, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&confirmedAt, "confirmed-at", "", "facts confirmation timestamp (RFC3339)")
	_ = cmd.MarkFlagRequired("confirmed-at")
	return cmd
}

func seriousCauseDismissalCmd() *cobra.Command {
	var recordedAt string
	cmd := &cobra.Command{
		Use:   "dismissal <case-id>",
		Short: "Record the dismissal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.RecordDismissal(ctx, id, recordedAt, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&recordedAt, "recorded-at", "", "dismissal timestamp (RFC3339)")
	_ = cmd.MarkFlagRequired("recorded-at")
	return cmd
}

func seriousCauseReasonsCmd() *cobra.Command {
	var sentAt, method, proofRef string
	cmd := &cobra.Command{
		Use:   "reasons <case-id>",
		Short: "Record the reasons letter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.RecordReasonsSent(ctx, id, sentAt, method, proofRef, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&sentAt, "sent-at", "", "send timestamp (RFC3339)")
	cmd.Flags().StringVar(&method, "method", "", "delivery method (registered_mail, bailiff, hand_delivery)")
	cmd.Flags().StringVar(&proofRef, "proof-ref", "", "delivery proof reference")
	_ = cmd.MarkFlagRequired("sent-at")
	_ = cmd.MarkFlagRequired("method")
	return cmd
}

func seriousCauseMissedCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "ack-missed <case-id>",
		Short: "Acknowledge a missed dismissal deadline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.AcknowledgeMissedDeadline(ctx, id, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the deadline was missed")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func grantCmd() *cobra.Command {
	grant := &cobra.Command{
		Use:   "grant",
		Short: "Break-glass access grants",
		Long:  "Grants unlock restricted fields (reporter identity, manager names, evidence links, legal hold and expert access contacts, note bodies) for a bounded window. Every issue and revoke lands in the audit ledger.",
	}
	var reason string
	var minutes int
	request := &cobra.Command{
		Use:   "request <case-id>",
		Short: "Request a grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.RequestGrant(ctx, id, viper.GetString("actor-id"), reason, minutes)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	request.Flags().StringVar(&reason, "reason", "", "why access is needed")
	request.Flags().IntVar(&minutes, "minutes", 60, "duration in minutes (clamped to 15..480)")
	_ = request.MarkFlagRequired("reason")
	list := &cobra.Command{
		Use:   "list <case-id>",
		Short: "List grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				grants, err := e.Repo.ListGrants(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(grants)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Granted By", "Issued", "Expires", "Revoked", "Valid"})
				now := e.Now()
				for _, g := range grants {
					tw.AppendRow(table.Row{g.ID, g.GrantedBy, g.IssuedAt, g.ExpiresAt, strDeref(g.RevokedAt), engine.GrantValid(g, now)})
				}
				tw.Render()
				return nil
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <grant-id>",
		Short: "Revoke a grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.RevokeGrant(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	grant.AddCommand(request)
	grant.AddCommand(list)
	grant.AddCommand(revoke)
	return grant
}

func decisionCmd() *cobra.Command {
	dec := &cobra.Command{
		Use:   "decision",
		Short: "Record and inspect case decisions",
	}
	var opts engine.DecisionOptions
	record := &cobra.Command{
		Use:   "record <case-id>",
		Short: "Record the decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.CaseID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.RecordDecision(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	record.Flags().StringVar(&opts.Outcome, "outcome", "", "outcome (dismissal, sanction, no_action, resignation)")
	record.Flags().StringVar(&opts.Summary, "summary", "", "decision summary")
	record.Flags().StringVar(&opts.OverrideReason, "override-reason", "", "reason to override a role conflict")
	_ = record.MarkFlagRequired("outcome")
	show := &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show the decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Repo.GetOutcome(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	dec.AddCommand(record)
	dec.AddCommand(show)
	return dec
}

func auditCmd() *cobra.Command {
	aud := &cobra.Command{
		Use:   "audit",
		Short: "Audit ledger",
		Long:  "The append-only diary: who did what, when, with before/after values for every change.",
	}
	var n int
	var caseID, actorID, evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestAuditEvents(ctx, repo.AuditFilters{
					CaseID:  caseID,
					ActorID: actorID,
					Type:    evtType,
					Limit:   n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Case", "Actor", "Message"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.CaseID, evt.ActorID, evt.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&caseID, "case", "", "case filter")
	tail.Flags().StringVar(&actorID, "actor", "", "actor filter")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	aud.AddCommand(tail)
	return aud
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var actorID, name, key string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k, err := e.CreateAPIKey(ctx, actorID, name, key)
				if err != nil {
					return err
				}
				return printJSONOrTable(k)
			})
		},
	}
	create.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "key label")
	create.Flags().StringVar(&key, "key", "", "plaintext key (only the hash is stored)")
	_ = create.MarkFlagRequired("actor")
	_ = create.MarkFlagRequired("key")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	list.Flags().StringVar(&actorID, "actor", "", "actor filter")
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, id)
			})
		},
	}
	ak.AddCommand(create)
	ak.AddCommand(list)
	ak.AddCommand(del)
	return ak
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook (stored in DB): jurisdiction windows, prohibited scan terms, and webhooks. Import from caseflow.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var workspaceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default caseflow.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			target := config.Path(workspace)
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%s already exists", target)
			}
			return os.WriteFile(target, []byte(config.GenerateDefault(workspaceID)), 0o644)
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "default", "workspace id for the generated config")
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import workspace config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			workspaceID := cfg.Workspace.ID
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if workspaceID == "" {
					workspaceID = "default"
				}
				if err := r.UpsertWorkspaceConfig(ctx, workspaceID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountCasesByStage(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"workspace_id": e.Config.Workspace.ID,
					"case_counts":  counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Workspace: %s\n", e.Config.Workspace.ID)
				fmt.Println("Cases:")
				for _, stage := range domain.StageOrder {
					if c, ok := counts[stage]; ok {
						fmt.Printf("  %s: %d\n", stage, c)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveWorkspaceConfig(cmd.Context(), viper.GetString("workspace-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("CASEFLOW_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CASEFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Caseflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveWorkspaceConfig(ctx, viper.GetString("workspace-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
