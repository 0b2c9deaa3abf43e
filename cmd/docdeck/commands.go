package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marchuk/docdeck/internal/backend"
	"github.com/marchuk/docdeck/internal/dms"
)

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	tags := strings.Split(s, ",")
	for i := range tags {
		tags[i] = strings.TrimSpace(tags[i])
	}
	return tags
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- login / logout ---

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the backend and store tokens locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if email == "" || password == "" {
			return fmt.Errorf("--email and --password are required")
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		api := backend.New(a.cfg.Backend.BaseURL)
		var result struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		}
		err = api.JSON(cmd.Context(), backend.Request{
			Method:   http.MethodPost,
			Path:     "/auth/login",
			JSON:     map[string]string{"email": email, "password": password},
			SkipAuth: true,
		}, &result)
		if err != nil {
			return err
		}

		if err := a.auth.Login(result.AccessToken, result.RefreshToken); err != nil {
			return err
		}
		printSuccess("Logged in as %s", email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.auth.Logout(); err != nil {
			return err
		}
		printSuccess("Logged out")
		return nil
	},
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document for processing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		tagsStr, _ := cmd.Flags().GetString("tags")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		name := filepath.Base(args[0])
		mimeType := mime.TypeByExtension(filepath.Ext(name))

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.client.Upload(cmd.Context(), name, mimeType, data, projectID, splitTags(tagsStr))
		if err != nil {
			return err
		}
		printSuccess("Uploaded %s (%s)", doc.Name, doc.ID)
		printStep("Track progress with: docdeck status %s", doc.ID)
		return nil
	},
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		docs, err := a.client.Documents(cmd.Context(), projectID, limit)
		if err != nil {
			return err
		}
		return printJSON(docs)
	},
}

var docsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.client.DeleteDocument(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var docsRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.client.RenameDocument(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Renamed %s", args[0])
		return nil
	},
}

var docsMvCmd = &cobra.Command{
	Use:   "mv <id> <project-id>",
	Short: "Move a document to another project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.client.Bulk(cmd.Context(), []string{args[0]}, dms.MoveAction{ProjectID: args[1]}); err != nil {
			return err
		}
		printSuccess("Moved %s to project %s", args[0], args[1])
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show (or watch) a document's processing status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for {
			status, err := a.client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			for _, step := range status.Steps {
				line := fmt.Sprintf("%-14s %s", step.ID, step.State)
				if step.TotalPages > 0 {
					line += fmt.Sprintf(" (%d/%d pages)", step.PagesProcessed, step.TotalPages)
				}
				if step.Err != "" {
					line += " — " + step.Err
				}
				fmt.Println(line)
			}
			fmt.Printf("progress: %d%%\n", status.Progress())

			if status.Failure != nil {
				printError("failed at %s: %s (recoverable: %v)", status.Failure.Step, status.Failure.Message, status.Failure.Recoverable)
				if status.Failure.Recoverable {
					printStep("Retry with: docdeck docs retry %s", args[0])
				}
				return nil
			}
			if !watch || status.Done() {
				return nil
			}

			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(time.Second):
			}
			fmt.Println("---")
		}
	},
}

var docsRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Retry processing of a failed document from the failed step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.client.RetryProcessing(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Queued retry for %s", args[0])
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question over your documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docsStr, _ := cmd.Flags().GetString("docs")
		stream, _ := cmd.Flags().GetBool("stream")
		topK, _ := cmd.Flags().GetInt("top-k")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		docIDs := splitTags(docsStr)
		cfg := dms.QueryConfig{TopK: topK}

		if stream {
			return runAskStream(cmd.Context(), a, args[0], docIDs, cfg)
		}

		answer, err := a.client.Ask(cmd.Context(), args[0], docIDs, cfg)
		if err != nil {
			return err
		}
		fmt.Println(answer.Answer)
		for _, src := range answer.Sources {
			printField("source", "%s (%.2f)", src.DocumentID, src.Score)
		}
		return nil
	},
}

func runAskStream(ctx context.Context, a *app, query string, docIDs []string, cfg dms.QueryConfig) error {
	stream, err := a.client.AskStream(ctx, query, docIDs, cfg)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if errors.Is(err, backend.ErrStreamDone) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		if ev.Chunk != "" {
			fmt.Print(ev.Chunk)
		}
		if ev.Done {
			fmt.Println()
			return nil
		}
	}
}

// --- bulk ---

var bulkCmd = &cobra.Command{
	Use:   "bulk <delete|tag|untag|move> <id>...",
	Short: "Apply an action to many documents at once",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("tag")
		projectID, _ := cmd.Flags().GetString("project")

		var action dms.BulkAction
		switch args[0] {
		case "delete":
			action = dms.DeleteAction{}
		case "tag":
			action = dms.TagAction{Tag: tag}
		case "untag":
			action = dms.UntagAction{Tag: tag}
		case "move":
			action = dms.MoveAction{ProjectID: projectID}
		default:
			return fmt.Errorf("unknown bulk action %q", args[0])
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ids := args[1:]
		if err := a.client.Bulk(cmd.Context(), ids, action); err != nil {
			return err
		}
		printSuccess("Applied %s to %d document(s)", args[0], len(ids))
		return nil
	},
}

// --- projects ---

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		projects, err := a.client.Projects(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(projects)
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		project, err := a.client.CreateProject(cmd.Context(), args[0], description)
		if err != nil {
			return err
		}
		printSuccess("Created project %s (%s)", project.Name, project.ID)
		return nil
	},
}

var projectsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.client.DeleteProject(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Deleted project %s", args[0])
		return nil
	},
}

// --- tags ---

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Manage tags",
}

var tagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		tags, err := a.client.Tags(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(tags)
	},
}

var tagsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		color, _ := cmd.Flags().GetString("color")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		tag, err := a.client.CreateTag(cmd.Context(), args[0], color)
		if err != nil {
			return err
		}
		printSuccess("Created tag %s", tag.Name)
		return nil
	},
}

var tagsRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete a tag everywhere",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.client.DeleteTag(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Deleted tag %s", args[0])
		return nil
	},
}

// --- org ---

var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "Organization and member administration",
}

var orgShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		org, err := a.client.Organization(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(org)
	},
}

var orgMembersCmd = &cobra.Command{
	Use:   "members",
	Short: "List organization members",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		members, err := a.client.Members(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(members)
	},
}

var orgRemoveCmd = &cobra.Command{
	Use:   "remove <member-id>",
	Short: "Remove a member from the organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.client.RemoveMember(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Removed member %s", args[0])
		return nil
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change your account password",
	RunE: func(cmd *cobra.Command, args []string) error {
		current, _ := cmd.Flags().GetString("current")
		next, _ := cmd.Flags().GetString("new")
		confirm, _ := cmd.Flags().GetString("confirm")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.client.ChangePassword(cmd.Context(), current, next, confirm); err != nil {
			return err
		}
		printSuccess("Password changed")
		return nil
	},
}

var orgInviteCmd = &cobra.Command{
	Use:   "invite <email>",
	Short: "Invite a user to the organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		member, err := a.client.InviteMember(cmd.Context(), args[0], role)
		if err != nil {
			return err
		}
		printSuccess("Invited %s as %s", member.Email, member.Role)
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "account email")
	loginCmd.Flags().String("password", "", "account password")

	uploadCmd.Flags().String("project", "", "project to upload into")
	uploadCmd.Flags().String("tags", "", "comma-separated tags")

	docsListCmd.Flags().String("project", "", "filter by project")
	docsListCmd.Flags().Int("limit", 50, "maximum number of documents")
	docsCmd.AddCommand(docsListCmd, docsRmCmd, docsRenameCmd, docsMvCmd, docsRetryCmd)

	statusCmd.Flags().Bool("watch", false, "poll until processing finishes")

	askCmd.Flags().String("docs", "", "comma-separated document IDs to query")
	askCmd.Flags().Bool("stream", false, "stream the answer incrementally")
	askCmd.Flags().Int("top-k", 0, "number of passages to retrieve")

	bulkCmd.Flags().String("tag", "", "tag name for tag/untag actions")
	bulkCmd.Flags().String("project", "", "target project for the move action")

	projectsCreateCmd.Flags().String("description", "", "project description")
	projectsCmd.AddCommand(projectsListCmd, projectsCreateCmd, projectsRmCmd)

	tagsCreateCmd.Flags().String("color", "", "display color")
	tagsCmd.AddCommand(tagsListCmd, tagsCreateCmd, tagsRmCmd)

	orgInviteCmd.Flags().String("role", "member", "role for the invited user")
	passwdCmd.Flags().String("current", "", "current password")
	passwdCmd.Flags().String("new", "", "new password")
	passwdCmd.Flags().String("confirm", "", "new password, again")
	orgCmd.AddCommand(orgShowCmd, orgMembersCmd, orgInviteCmd, orgRemoveCmd, passwdCmd)
}
