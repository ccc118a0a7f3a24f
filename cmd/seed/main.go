// seed inserts development sample data for local testing: one tenant, an owner and a member,
// a lead enrolled in a three-step drip sequence and a webhook pointing at WEBHOOK_SEED_URL
// (or a local listener). Idempotent: skips inserts if the dev org already exists.
// When JWT_PRIVATE_KEY is set it also opens a session and prints an access token for it.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"flowcrm/backend/internal/config"
	"flowcrm/backend/internal/db"
	"flowcrm/backend/internal/event"
	"flowcrm/backend/internal/logger"
	membershipdomain "flowcrm/backend/internal/membership/domain"
	membershiprepo "flowcrm/backend/internal/membership/repository"
	orgdomain "flowcrm/backend/internal/organization/domain"
	orgrepo "flowcrm/backend/internal/organization/repository"
	"flowcrm/backend/internal/queue"
	"flowcrm/backend/internal/security"
	"flowcrm/backend/internal/sequence"
	seqdomain "flowcrm/backend/internal/sequence/domain"
	seqrepo "flowcrm/backend/internal/sequence/repository"
	sessiondomain "flowcrm/backend/internal/session/domain"
	sessionrepo "flowcrm/backend/internal/session/repository"
	userdomain "flowcrm/backend/internal/user/domain"
	userrepo "flowcrm/backend/internal/user/repository"
	"flowcrm/backend/internal/webhook"
	webhookrepo "flowcrm/backend/internal/webhook/repository"
)

const (
	devOwnerEmail    = "owner@example.com"
	devOwnerID       = "dev-user-001"
	devMemberID      = "dev-user-002"
	devMemberEmail   = "member@example.com"
	devOrgID         = "dev-org-001"
	devMembershipID  = "dev-membership-001"
	devMembership2ID = "dev-membership-002"
	devLeadID        = "dev-lead-001"
	devSessionID     = "dev-session-001"
	defaultHookURL   = "http://localhost:9999/hooks/flowcrm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, "console", "flowcrm-seed")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if err := seed(context.Background(), cfg, log); err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}
}

func seed(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer conn.Close()

	orgs := orgrepo.NewPostgresRepository(conn)
	org, err := orgs.GetOrganizationByID(ctx, devOrgID)
	if err != nil {
		return fmt.Errorf("seed check: %w", err)
	}
	if org != nil {
		if !org.Active() {
			log.Warn("dev org exists but is not active; background work will skip it", zap.String("status", string(org.Status)))
		}
		log.Info("seed already applied, skipping", zap.String("org_id", devOrgID))
		return nil
	}
	if u, err := userrepo.NewPostgresRepository(conn).GetByEmail(ctx, devOwnerEmail); err != nil {
		return fmt.Errorf("seed check: %w", err)
	} else if u != nil {
		return fmt.Errorf("dev owner %s already belongs to another org", devOwnerEmail)
	}

	now := time.Now().UTC()
	err = db.WithTx(ctx, conn, func(tx *sql.Tx) error {
		if err := orgrepo.NewPostgresRepository(tx).CreateOrganization(ctx, &orgdomain.Org{
			ID: devOrgID, Name: "Acme Sales", Status: orgdomain.OrgStatusActive, CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("create org: %w", err)
		}
		users := userrepo.NewPostgresRepository(tx)
		for _, u := range []*userdomain.User{
			{ID: devOwnerID, Email: devOwnerEmail, Name: "Dev Owner", Status: userdomain.UserStatusActive, CreatedAt: now, UpdatedAt: now},
			{ID: devMemberID, Email: devMemberEmail, Status: userdomain.UserStatusActive, CreatedAt: now, UpdatedAt: now},
		} {
			if err := users.Create(ctx, u); err != nil {
				return fmt.Errorf("create user %s: %w", u.Email, err)
			}
			log.Debug("user created", zap.String("user", u.DisplayName()))
		}
		members := membershiprepo.NewPostgresRepository(tx)
		for _, m := range []*membershipdomain.Membership{
			{ID: devMembershipID, UserID: devOwnerID, OrgID: devOrgID, Role: membershipdomain.RoleOwner, CreatedAt: now},
			{ID: devMembership2ID, UserID: devMemberID, OrgID: devOrgID, Role: membershipdomain.RoleMember, CreatedAt: now},
		} {
			if err := members.CreateMembership(ctx, m); err != nil {
				return fmt.Errorf("create membership %s: %w", m.ID, err)
			}
		}

		// Leads belong to the CRM layer, which has no writer here.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO leads (id, org_id, name, email, company, status, owner_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, 'new', $6, $7, $7)`,
			devLeadID, devOrgID, "Jordan Lee", "jordan@example.org", "Globex", devMemberID, now,
		); err != nil {
			return fmt.Errorf("create lead: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Enrolling only writes rows, so the scheduler runs without a queue or notifier here.
	scheduler := sequence.NewScheduler(seqrepo.NewPostgresRepository(conn), seqrepo.NewCRMRepository(conn), queue.Null{}, nil, sequence.WithLogger(log))
	seq, err := scheduler.CreateSequence(ctx, devOrgID, "New lead welcome", []sequence.StepInput{
		{StepOrder: 0, DelayDays: 0, ActionType: seqdomain.ActionEmail, Subject: "Welcome, {{lead.firstName}}", Content: "<p>Hi {{lead.firstName}}, thanks for your interest.</p>"},
		{StepOrder: 1, DelayDays: 2, ActionType: seqdomain.ActionTask, Content: "Call {{lead.name}} at {{lead.company}}"},
		{StepOrder: 2, DelayDays: 5, ActionType: seqdomain.ActionNotification, Content: "{{lead.name}} finished the welcome sequence"},
	})
	if err != nil {
		return fmt.Errorf("create sequence: %w", err)
	}
	if _, err := scheduler.Enroll(ctx, devOrgID, seq.ID, devLeadID); err != nil {
		return fmt.Errorf("enroll lead: %w", err)
	}

	hookURL := os.Getenv("WEBHOOK_SEED_URL")
	if hookURL == "" {
		hookURL = defaultHookURL
	}
	var hookOpts []webhook.Option
	if key := cfg.WebhookSecretKeyBytes(); key != nil {
		box, err := security.NewSecretBox(key)
		if err != nil {
			return fmt.Errorf("webhook secret key: %w", err)
		}
		hookOpts = append(hookOpts, webhook.WithSecretBox(box))
	}
	hookOpts = append(hookOpts, webhook.WithEventCatalog(event.WebhookEvents()), webhook.WithLogger(log))
	hook, err := webhook.NewDispatcher(webhookrepo.NewPostgresRepository(conn), hookOpts...).
		Configure(ctx, devOrgID, hookURL, []string{"lead.created", "deal.won", "deal.lost"})
	if err != nil {
		return fmt.Errorf("configure webhook: %w", err)
	}

	log.Info("seed applied",
		zap.String("org_id", devOrgID),
		zap.String("sequence_id", seq.ID),
		zap.String("webhook_url", hook.URL),
		zap.String("webhook_secret", hook.Secret),
	)

	if cfg.JWTPrivateKey == "" {
		return nil
	}
	return issueDevToken(ctx, cfg, sessionrepo.NewPostgresRepository(conn), now, log)
}

func issueDevToken(ctx context.Context, cfg *config.Config, sessions sessionrepo.Repository, now time.Time, log *zap.Logger) error {
	priv, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return fmt.Errorf("jwt private key: %w", err)
	}
	tokens := security.NewTokenProvider(priv, nil, cfg.JWTIssuer, cfg.JWTAudience, 24*time.Hour)
	refresh, err := security.NewOpaqueToken(32)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if err := sessions.Create(ctx, &sessiondomain.Session{
		ID: devSessionID, UserID: devOwnerID, OrgID: devOrgID, RefreshTokenHash: security.HashToken(refresh),
		ExpiresAt: now.Add(24 * time.Hour), CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	token, _, err := tokens.IssueAccess(security.Identity{SessionID: devSessionID, UserID: devOwnerID, OrgID: devOrgID})
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	log.Info("dev owner access token (24h)", zap.String("token", token))
	return nil
}
