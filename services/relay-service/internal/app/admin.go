package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stoik/cex/internal/relay"
	"github.com/stoik/cex/services/relay-service/internal/db"
	"github.com/stoik/cex/services/relay-service/internal/janitor"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the relay tables",
	Long:  "Creates every relay table and index. Safe to run repeatedly.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		// Initialize database
		if err := db.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()

		fmt.Println("Running migrations...")
		if err := db.Migrate(ctx, db.Pool); err != nil {
			return err
		}
		fmt.Println("✓ Database schema is up to date")
		return nil
	},
}

var announceCmd = &cobra.Command{
	Use:   "announce",
	Short: "Publish a platform announcement",
	Long:  "Creates an active announcement delivered once to every agent on its next inbox or stream call",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		content, _ := cmd.Flags().GetString("content")
		version, _ := cmd.Flags().GetString("version")

		return withService(func(ctx context.Context, svc *relay.Service) error {
			ann, err := svc.CreateAnnouncement(ctx, title, content, version)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Announcement %s published (version %s)\n", ann.ID, ann.Version)
			return nil
		})
	},
}

var announcementsCmd = &cobra.Command{
	Use:   "announcements",
	Short: "List announcements",
	RunE: func(cmd *cobra.Command, args []string) error {
		deactivate, _ := cmd.Flags().GetString("deactivate")

		return withService(func(ctx context.Context, svc *relay.Service) error {
			if deactivate != "" {
				if _, err := svc.DeactivateAnnouncement(ctx, deactivate); err != nil {
					return err
				}
				fmt.Printf("✓ Announcement %s deactivated\n", deactivate)
			}

			anns, err := svc.ListAnnouncements(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tACTIVE\tCREATED\tTITLE")
			for _, a := range anns {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", a.ID, a.Version, a.Active, a.CreatedAt.Format("2006-01-02 15:04"), a.Title)
			}
			return w.Flush()
		})
	},
}

var pruneInvitesCmd = &cobra.Command{
	Use:   "prune-invites",
	Short: "Delete dead invites once",
	Long:  "Deletes invites that were used or expired longer than janitor.invite_retention ago",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *relay.Service) error {
			jan, err := janitor.New(svc, viper.GetString("janitor.schedule"), viper.GetDuration("janitor.invite_retention"))
			if err != nil {
				return err
			}
			n, err := jan.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Deleted %d invites\n", n)
			return nil
		})
	},
}

// withService opens the configured store and runs fn against a service
// without webhooks.
func withService(fn func(ctx context.Context, svc *relay.Service) error) error {
	ctx := context.Background()
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, relay.NewService(store, nil, relayConfig()))
}

func init() {
	announceCmd.Flags().String("title", "", "Announcement title")
	announceCmd.Flags().String("content", "", "Announcement body")
	announceCmd.Flags().String("version", "", "Instructions version (defaults to relay.instructions_version)")
	announceCmd.MarkFlagRequired("title")
	announceCmd.MarkFlagRequired("content")

	announcementsCmd.Flags().String("deactivate", "", "Deactivate the announcement with this ID before listing")

	rootCmd.AddCommand(migrateCmd, announceCmd, announcementsCmd, pruneInvitesCmd)
}
