package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deedflow/internal/config"
	"deedflow/internal/db"
	"deedflow/internal/engine"
	"deedflow/internal/migrate"
	"deedflow/internal/repo"
	"deedflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "deedflow",
	Short: "Deedflow CLI",
	Long: `Deedflow tracks real estate closings from accepted offer to recorded deed.
Transactions move through a fixed 7-stage pipeline; blocking tasks gate each
advance, earnest money and funds verification are recorded along the way, and
every change lands in an audit log ('deedflow log tail').`,
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
	viper.SetEnvPrefix("DEEDFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(transactionCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(partyCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func transactionCmd() *cobra.Command {
	txn := &cobra.Command{Use: "transaction", Short: "Manage transactions"}
	txn.AddCommand(transactionCreateCmd())
	txn.AddCommand(transactionListCmd())
	txn.AddCommand(transactionShowCmd())
	txn.AddCommand(transactionAdvanceCmd())
	txn.AddCommand(transactionDepositCmd())
	txn.AddCommand(transactionVerifyFundsCmd())
	txn.AddCommand(transactionProgressCmd())
	txn.AddCommand(transactionUpdateCmd())
	txn.AddCommand(transactionDeleteCmd())
	return txn
}

func transactionCreateCmd() *cobra.Command {
	var opts engine.TransactionCreateOptions
	var propertyType, buyer, seller, buyerAgent, sellerAgent, loanOfficer, titleOfficer string
	var downPayment, loanAmount float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.PropertyType = optionalString(propertyType)
			opts.BuyerID = optionalString(buyer)
			opts.SellerID = optionalString(seller)
			opts.BuyerAgentID = optionalString(buyerAgent)
			opts.SellerAgentID = optionalString(sellerAgent)
			opts.LoanOfficerID = optionalString(loanOfficer)
			opts.TitleOfficerID = optionalString(titleOfficer)
			if cmd.Flags().Changed("down-payment") {
				opts.DownPayment = &downPayment
			}
			if cmd.Flags().Changed("loan-amount") {
				opts.LoanAmount = &loanAmount
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTransaction(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.PropertyAddress, "address", "", "property address")
	cmd.Flags().StringVar(&propertyType, "property-type", "", "property type")
	cmd.Flags().Float64Var(&opts.PurchasePrice, "price", 0, "purchase price")
	cmd.Flags().Float64Var(&downPayment, "down-payment", 0, "down payment")
	cmd.Flags().Float64Var(&loanAmount, "loan-amount", 0, "loan amount")
	cmd.Flags().StringVar(&buyer, "buyer", "", "buyer party id")
	cmd.Flags().StringVar(&seller, "seller", "", "seller party id")
	cmd.Flags().StringVar(&buyerAgent, "buyer-agent", "", "buyer agent party id")
	cmd.Flags().StringVar(&sellerAgent, "seller-agent", "", "seller agent party id")
	cmd.Flags().StringVar(&loanOfficer, "loan-officer", "", "loan officer party id")
	cmd.Flags().StringVar(&titleOfficer, "title-officer", "", "title officer party id")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low|normal|high|urgent)")
	return cmd
}

func transactionListCmd() *cobra.Command {
	var stageFilter string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTransactions(ctx, repo.TransactionFilters{Stage: stageFilter, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Address", "Price", "Stage", "Priority", "Created"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.PropertyAddress, t.PurchasePrice, t.CurrentStage, t.Priority, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stageFilter, "stage", "", "stage filter")
	cmd.Flags().IntVar(&limit, "n", 50, "max rows")
	return cmd
}

func transactionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTransaction(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func transactionAdvanceCmd() *cobra.Command {
	var notes string
	var force bool
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Advance a transaction to its next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AdvanceStage(ctx, args[0], notes, viper.GetString("actor-id"), force)
				if err != nil {
					return err
				}
				fmt.Printf("%s -> %s\n", t.ID, t.CurrentStage)
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "stage entry notes")
	cmd.Flags().BoolVar(&force, "force", false, "bypass blocking tasks")
	return cmd
}

func transactionDepositCmd() *cobra.Command {
	var amount float64
	var notes string
	cmd := &cobra.Command{
		Use:   "deposit <id>",
		Short: "Record an earnest money deposit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.DepositEarnestMoney(ctx, args[0], amount, notes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "deposit amount")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func transactionVerifyFundsCmd() *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "verify-funds <id>",
		Short: "Record buyer funds verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.VerifyFunds(ctx, args[0], method, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "verification method (wire_receipt, bank_letter, ...)")
	return cmd
}

func transactionProgressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Progress report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.Progress(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Status", "Entered"})
				for _, s := range report.Stages {
					entered := ""
					if s.EnteredAt != nil {
						entered = *s.EnteredAt
					}
					tw.AppendRow(table.Row{s.Stage, s.Status, entered})
				}
				tw.Render()
				fmt.Printf("stage %d/%d (%d%%), tasks %d/%d (%d%%), %d day(s) in stage, ~%d day(s) to close\n",
					report.StageIndex+1, report.StageCount, report.PercentComplete,
					report.TasksCompleted, report.TasksTotal, report.TaskPercentComplete,
					report.DaysInCurrentStage, report.EstimatedDaysToClose)
				return nil
			})
		},
	}
	return cmd
}

func transactionUpdateCmd() *cobra.Command {
	var notes, priority string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update transaction notes or priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var notesPtr *string
				if cmd.Flags().Changed("notes") {
					notesPtr = &notes
				}
				t, err := e.UpdateTransactionMeta(ctx, args[0], notesPtr, priority, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low|normal|high|urgent)")
	return cmd
}

func transactionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a transaction and its tasks and documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTransaction(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var blocking bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("blocking") {
				f.IsBlocking = &blocking
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Transaction", "Title", "Status", "Blocking", "Due"})
				for _, t := range tasks {
					due := ""
					if t.DueDate != nil {
						due = *t.DueDate
					}
					tw.AppendRow(table.Row{t.ID, t.TransactionID, t.Title, t.Status, t.IsBlocking, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TransactionID, "transaction", "", "transaction id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "assignee filter")
	cmd.Flags().BoolVar(&blocking, "blocking", false, "blocking tasks only")
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var assignedTo, dueDate, relatedStage, relatedDoc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.AssignedTo = optionalString(assignedTo)
			opts.DueDate = optionalString(dueDate)
			opts.RelatedStage = optionalString(relatedStage)
			opts.RelatedDocumentID = optionalString(relatedDoc)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.TransactionID, "transaction", "", "transaction id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Type, "type", "", "task type")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "assignee party id")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low|normal|high|critical)")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339)")
	cmd.Flags().BoolVar(&opts.IsBlocking, "blocking", false, "blocks stage advancement")
	cmd.Flags().StringVar(&relatedStage, "stage", "", "related stage")
	cmd.Flags().StringVar(&relatedDoc, "document", "", "related document id")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var completedBy, notes, data string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if completedBy == "" {
				completedBy = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CompleteTask(ctx, args[0], completedBy, notes, data, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&completedBy, "by", "", "who completed the task")
	cmd.Flags().StringVar(&notes, "notes", "", "completion notes")
	cmd.Flags().StringVar(&data, "data-json", "", "completion data as JSON")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status, priority, assignedTo, dueDate, blockedReason string
	var blocking bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.TaskPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("status") {
				patch.Status = &status
			}
			if cmd.Flags().Changed("priority") {
				patch.Priority = &priority
			}
			if cmd.Flags().Changed("assigned-to") {
				patch.AssignedTo = &assignedTo
			}
			if cmd.Flags().Changed("due") {
				patch.DueDate = &dueDate
			}
			if cmd.Flags().Changed("blocking") {
				patch.IsBlocking = &blocking
			}
			if cmd.Flags().Changed("blocked-reason") {
				patch.BlockedReason = &blockedReason
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, args[0], patch, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "assignee party id")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339)")
	cmd.Flags().BoolVar(&blocking, "blocking", false, "blocks stage advancement")
	cmd.Flags().StringVar(&blockedReason, "blocked-reason", "", "why the task is blocked")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func partyCmd() *cobra.Command {
	party := &cobra.Command{Use: "party", Short: "Manage parties"}
	party.AddCommand(partyListCmd())
	party.AddCommand(partyCreateCmd())
	party.AddCommand(partyShowCmd())
	party.AddCommand(partyUpdateCmd())
	party.AddCommand(partyDeleteCmd())
	return party
}

func partyListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List parties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListParties(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Company"})
				for _, p := range items {
					company := ""
					if p.Company != nil {
						company = *p.Company
					}
					tw.AppendRow(table.Row{p.ID, p.Name, p.Role, company})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func partyCreateCmd() *cobra.Command {
	var opts engine.PartyCreateOptions
	var email, phone, company, license string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a party",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.Email = optionalString(email)
			opts.Phone = optionalString(phone)
			opts.Company = optionalString(company)
			opts.LicenseNumber = optionalString(license)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateParty(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "party name")
	cmd.Flags().StringVar(&opts.Role, "role", "", "party role")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&phone, "phone", "", "phone")
	cmd.Flags().StringVar(&company, "company", "", "company")
	cmd.Flags().StringVar(&license, "license", "", "license number")
	return cmd
}

func partyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetParty(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func partyUpdateCmd() *cobra.Command {
	var name, role, email, phone, company, license string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.PartyPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("role") {
				patch.Role = &role
			}
			if cmd.Flags().Changed("email") {
				patch.Email = &email
			}
			if cmd.Flags().Changed("phone") {
				patch.Phone = &phone
			}
			if cmd.Flags().Changed("company") {
				patch.Company = &company
			}
			if cmd.Flags().Changed("license") {
				patch.LicenseNumber = &license
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateParty(ctx, args[0], patch, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "party name")
	cmd.Flags().StringVar(&role, "role", "", "party role")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&phone, "phone", "", "phone")
	cmd.Flags().StringVar(&company, "company", "", "company")
	cmd.Flags().StringVar(&license, "license", "", "license number")
	return cmd
}

func partyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteParty(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func documentCmd() *cobra.Command {
	doc := &cobra.Command{Use: "document", Short: "Manage document records"}
	doc.AddCommand(documentListCmd())
	doc.AddCommand(documentRegisterCmd())
	doc.AddCommand(documentShowCmd())
	doc.AddCommand(documentSetStatusCmd())
	return doc
}

func documentListCmd() *cobra.Command {
	var transactionID, docType, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List document records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDocuments(ctx, transactionID, docType, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Transaction", "Type", "Status"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.TransactionID, d.Type, d.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&transactionID, "transaction", "", "transaction id")
	cmd.Flags().StringVar(&docType, "type", "", "document type filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func documentRegisterCmd() *cobra.Command {
	var opts engine.DocumentCreateOptions
	var fileName, uploadedBy string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a document record",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.FileName = optionalString(fileName)
			opts.UploadedBy = optionalString(uploadedBy)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.RegisterDocument(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.TransactionID, "transaction", "", "transaction id")
	cmd.Flags().StringVar(&opts.Type, "type", "", "document type")
	cmd.Flags().StringVar(&fileName, "file", "", "file name")
	cmd.Flags().StringVar(&uploadedBy, "uploaded-by", "", "uploader party id")
	return cmd
}

func documentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a document record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				d, err := r.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	return cmd
}

func documentSetStatusCmd() *cobra.Command {
	var status string
	var passed bool
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Change a document's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var passedPtr *bool
			if cmd.Flags().Changed("passed") {
				passedPtr = &passed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.SetDocumentStatus(ctx, args[0], status, passedPtr, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().BoolVar(&passed, "passed", false, "validation passed")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default deedflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var transactionID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.LatestEvents(ctx, n, transactionID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Transaction", "Entity", "Actor"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.TransactionID, evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&transactionID, "transaction", "", "transaction filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Logger: logger})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(cmd.Context(), e, logger)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving", "addr", addr, "base_path", basePath, "db", db.Path(workspace))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
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
	cfg, err := config.LoadOptional(workspace)
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
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
