// Package reconcile detects replies to sent outreach emails and moves
// their conversations from sent to replied.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cold-outreach-go/internal/config"
	"cold-outreach-go/internal/gmail"
	"cold-outreach-go/internal/metrics"
	"cold-outreach-go/internal/model"
	"cold-outreach-go/internal/oauth"
	"cold-outreach-go/internal/repository"
	"cold-outreach-go/internal/vault"
)

// Store is the persistence the job reads and writes.
type Store interface {
	ListUsersWithSentMessages(ctx context.Context) ([]string, error)
	GetCredential(ctx context.Context, userID string) (*model.UserCredential, error)
	MarkCredentialRevoked(ctx context.Context, userID string) error
	SetAccountEmail(ctx context.Context, userID, email string) error
	ListSentMessages(ctx context.Context, userID string) ([]model.OutboundMessage, error)
	FindReply(ctx context.Context, messageID string) (*model.InboundReply, error)
	InsertReply(ctx context.Context, reply *model.InboundReply) (bool, error)
	MarkReplied(ctx context.Context, emailID uint) (bool, error)
}

// Opener decrypts a sealed refresh token.
type Opener interface {
	Open(blob string) (string, error)
}

// Refresher trades a refresh token for an access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// MailReader reads threads and the mailbox address.
type MailReader interface {
	GetThread(ctx context.Context, accessToken, threadID string) (*gmail.Thread, error)
	Profile(ctx context.Context, accessToken string) (string, error)
}

// Result summarizes one run.
type Result struct {
	UsersSeen       int
	UsersSkipped    int
	ThreadsChecked  int
	ThreadFailures  int
	RepliesRecorded int
}

type counters struct {
	usersSkipped    atomic.Int64
	threadsChecked  atomic.Int64
	threadFailures  atomic.Int64
	repliesRecorded atomic.Int64
}

// Job is one reconciliation pass over every user with sent emails.
type Job struct {
	store       Store
	vault       Opener
	tokens      Refresher
	mail        MailReader
	metrics     *metrics.Metrics
	concurrency int
	callTimeout time.Duration
}

func NewJob(store Store, v Opener, tokens Refresher, mail MailReader, m *metrics.Metrics, cfg config.ReconcileConfig) *Job {
	concurrency := cfg.UserConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Job{
		store:       store,
		vault:       v,
		tokens:      tokens,
		mail:        mail,
		metrics:     m,
		concurrency: concurrency,
		callTimeout: timeout,
	}
}

// Run processes every user. Failures of one user or one thread are logged
// and counted; Run itself fails only if the users cannot be listed.
func (j *Job) Run(ctx context.Context, runID string) (Result, error) {
	log := logrus.WithField("run_id", runID)

	users, err := j.store.ListUsersWithSentMessages(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list users with sent emails: %w", err)
	}
	log.Infof("Found %d users with sent emails to poll", len(users))

	var c counters
	g := new(errgroup.Group)
	g.SetLimit(j.concurrency)
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			j.processUser(ctx, log.WithField("user_id", userID), userID, &c)
			return nil
		})
	}
	_ = g.Wait()

	result := Result{
		UsersSeen:       len(users),
		UsersSkipped:    int(c.usersSkipped.Load()),
		ThreadsChecked:  int(c.threadsChecked.Load()),
		ThreadFailures:  int(c.threadFailures.Load()),
		RepliesRecorded: int(c.repliesRecorded.Load()),
	}
	log.WithFields(logrus.Fields{
		"users_seen":       result.UsersSeen,
		"users_skipped":    result.UsersSkipped,
		"threads_checked":  result.ThreadsChecked,
		"thread_failures":  result.ThreadFailures,
		"replies_recorded": result.RepliesRecorded,
	}).Info("Reply reconciliation completed")

	return result, nil
}

func (j *Job) skipUser(log *logrus.Entry, c *counters, reason string, err error) {
	c.usersSkipped.Add(1)
	j.metrics.UsersSkipped.WithLabelValues(reason).Inc()
	log.WithError(err).WithField("reason", reason).Warn("Skipping user")
}

func (j *Job) processUser(ctx context.Context, log *logrus.Entry, userID string, c *counters) {
	cred, err := j.store.GetCredential(ctx, userID)
	if err != nil {
		reason := metrics.SkipListFailed
		if errors.Is(err, repository.ErrNotFound) {
			reason = metrics.SkipNoCredential
		}
		j.skipUser(log, c, reason, err)
		return
	}
	if cred.RevokedAt != nil {
		j.skipUser(log, c, metrics.SkipCredentialRevoked, oauth.ErrRefreshRevoked)
		return
	}

	refreshToken, err := j.vault.Open(cred.EncryptedRefreshToken)
	if err != nil {
		j.skipUser(log, c, metrics.SkipDecryption, err)
		return
	}

	accessToken, err := j.refresh(ctx, refreshToken)
	if err != nil {
		reason := metrics.SkipRefreshFailed
		if errors.Is(err, oauth.ErrRefreshRevoked) {
			reason = metrics.SkipRefreshRevoked
			if markErr := j.store.MarkCredentialRevoked(ctx, userID); markErr != nil {
				log.WithError(markErr).Error("Failed to mark credential revoked")
			}
		}
		j.skipUser(log, c, reason, err)
		return
	}

	self, err := j.ownAddress(ctx, log, cred, accessToken)
	if err != nil {
		j.skipUser(log, c, metrics.SkipUnknownAddress, err)
		return
	}

	emails, err := j.store.ListSentMessages(ctx, userID)
	if err != nil {
		j.skipUser(log, c, metrics.SkipListFailed, err)
		return
	}

	for i := range emails {
		j.processEmail(ctx, log, accessToken, self, &emails[i], c)
	}
}

func (j *Job) refresh(ctx context.Context, refreshToken string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, j.callTimeout)
	defer cancel()
	return j.tokens.Refresh(callCtx, refreshToken)
}

// ownAddress returns the user's mailbox address, asking Gmail and caching
// it on the credential when it was not recorded at connect time.
func (j *Job) ownAddress(ctx context.Context, log *logrus.Entry, cred *model.UserCredential, accessToken string) (string, error) {
	if cred.AccountEmail != "" {
		return gmail.SenderAddress(cred.AccountEmail), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, j.callTimeout)
	defer cancel()
	addr, err := j.mail.Profile(callCtx, accessToken)
	if err != nil {
		return "", fmt.Errorf("failed to resolve account address: %w", err)
	}
	if addr == "" {
		return "", errors.New("gmail profile has no address")
	}

	if err := j.store.SetAccountEmail(ctx, cred.UserID, addr); err != nil {
		log.WithError(err).Warn("Failed to save account address")
	}
	return gmail.SenderAddress(addr), nil
}

func (j *Job) processEmail(ctx context.Context, log *logrus.Entry, accessToken, self string, email *model.OutboundMessage, c *counters) {
	log = log.WithFields(logrus.Fields{"email_id": email.ID, "thread_id": email.ThreadID})

	callCtx, cancel := context.WithTimeout(ctx, j.callTimeout)
	thread, err := j.mail.GetThread(callCtx, accessToken, email.ThreadID)
	cancel()
	if err != nil {
		c.threadFailures.Add(1)
		j.metrics.ThreadFetchFailures.Inc()
		log.WithError(err).Error("Failed to fetch thread")
		return
	}
	c.threadsChecked.Add(1)

	// The sent email opens the thread.
	if len(thread.Messages) <= 1 {
		return
	}

	for _, msg := range thread.Messages[1:] {
		if msg.From == "" || gmail.SenderAddress(msg.From) == self {
			continue
		}

		log := log.WithField("message_id", msg.ID)

		existing, err := j.store.FindReply(ctx, msg.ID)
		if err == nil {
			// A reply stored by an earlier run whose status update failed.
			if existing.EmailID == email.ID {
				j.markReplied(ctx, log, email.ID)
			}
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			log.WithError(err).Error("Failed to check for existing reply")
			continue
		}

		inserted, err := j.store.InsertReply(ctx, &model.InboundReply{
			EmailID:     email.ID,
			UserID:      email.UserID,
			CampaignID:  email.CampaignID,
			MessageID:   msg.ID,
			ThreadID:    email.ThreadID,
			Snippet:     msg.Snippet,
			FromAddress: msg.From,
			ReceivedAt:  msg.InternalDate,
		})
		if err != nil {
			log.WithError(err).Error("Failed to insert reply")
			continue
		}
		if !inserted {
			continue
		}

		c.repliesRecorded.Add(1)
		j.metrics.RepliesRecorded.Inc()
		log.Info("Recorded new reply")

		j.markReplied(ctx, log, email.ID)
	}
}

// markReplied moves the email to replied. A failure is retried by the next
// run, which finds the stored reply and calls this again.
func (j *Job) markReplied(ctx context.Context, log *logrus.Entry, emailID uint) {
	if _, err := j.store.MarkReplied(ctx, emailID); err != nil {
		log.WithError(err).Error("Failed to mark email as replied")
	}
}

var (
	_ Opener     = (*vault.Vault)(nil)
	_ Refresher  = (*oauth.Exchanger)(nil)
	_ MailReader = (*gmail.Client)(nil)
	_ Store      = (*repository.Repository)(nil)
)
